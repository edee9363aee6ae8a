package slackchat

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/slack-go/slack"
)

type posted struct {
	ChannelID string
	Timestamp string
	Values    url.Values
}

type ephemeral struct {
	ChannelID string
	UserID    string
	Text      string
}

// fakeAPI records calls and serves canned history. Messages are recorded as
// the form values slack-go would send, so tests can inspect them without a
// server.
type fakeAPI struct {
	mu sync.Mutex

	Posted     []posted
	Updated    []posted
	Deleted    []string
	Ephemerals []ephemeral
	Views      []slack.ModalViewRequest
	History    map[string]slack.Message // channel/ts -> message
	Users      map[string]*slack.User
	Groups     []slack.UserGroup

	postErr  error
	viewErr  error
	nextTS   int
	viewOpen chan string // receives the callback id of each opened view
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		History:  map[string]slack.Message{},
		Users:    map[string]*slack.User{},
		viewOpen: make(chan string, 4),
	}
}

func formValues(channelID string, options ...slack.MsgOption) url.Values {
	_, values, _ := slack.UnsafeApplyMsgOptions("xoxb-test", channelID, "https://slack.test/api/", options...)
	return values
}

func (f *fakeAPI) AuthTestContext(context.Context) (*slack.AuthTestResponse, error) {
	return &slack.AuthTestResponse{UserID: "UBOT", Team: "test"}, nil
}

func (f *fakeAPI) PostMessageContext(_ context.Context, channelID string, options ...slack.MsgOption) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.postErr != nil {
		return "", "", f.postErr
	}
	f.nextTS++
	ts := fmt.Sprintf("1700000000.%06d", f.nextTS)
	f.Posted = append(f.Posted, posted{ChannelID: channelID, Timestamp: ts, Values: formValues(channelID, options...)})
	return channelID, ts, nil
}

func (f *fakeAPI) PostEphemeralContext(_ context.Context, channelID, userID string, options ...slack.MsgOption) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Ephemerals = append(f.Ephemerals, ephemeral{
		ChannelID: channelID,
		UserID:    userID,
		Text:      formValues(channelID, options...).Get("text"),
	})
	return "1700000000.999999", nil
}

func (f *fakeAPI) UpdateMessageContext(_ context.Context, channelID, ts string, options ...slack.MsgOption) (string, string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Updated = append(f.Updated, posted{ChannelID: channelID, Timestamp: ts, Values: formValues(channelID, options...)})
	return channelID, ts, "", nil
}

func (f *fakeAPI) DeleteMessageContext(_ context.Context, channelID, ts string) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Deleted = append(f.Deleted, channelID+"/"+ts)
	return channelID, ts, nil
}

func (f *fakeAPI) GetConversationHistoryContext(_ context.Context, p *slack.GetConversationHistoryParameters) (*slack.GetConversationHistoryResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	resp := &slack.GetConversationHistoryResponse{}
	if m, ok := f.History[p.ChannelID+"/"+p.Latest]; ok {
		resp.Messages = []slack.Message{m}
	}
	return resp, nil
}

func (f *fakeAPI) GetPermalinkContext(_ context.Context, p *slack.PermalinkParameters) (string, error) {
	return "https://slack.test/archives/" + p.Channel + "/p" + p.Ts, nil
}

func (f *fakeAPI) OpenViewContext(_ context.Context, _ string, view slack.ModalViewRequest) (*slack.ViewResponse, error) {
	f.mu.Lock()
	if f.viewErr != nil {
		f.mu.Unlock()
		return nil, f.viewErr
	}
	f.Views = append(f.Views, view)
	f.mu.Unlock()
	f.viewOpen <- view.CallbackID
	return &slack.ViewResponse{}, nil
}

func (f *fakeAPI) OpenConversationContext(_ context.Context, p *slack.OpenConversationParameters) (*slack.Channel, bool, bool, error) {
	ch := &slack.Channel{}
	ch.ID = "D" + p.Users[0]
	return ch, false, false, nil
}

func (f *fakeAPI) GetUserInfoContext(_ context.Context, userID string) (*slack.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.Users[userID]
	if !ok {
		return nil, slack.SlackErrorResponse{Err: "user_not_found"}
	}
	return u, nil
}

func (f *fakeAPI) GetUserGroupsContext(context.Context, ...slack.GetUserGroupsOption) ([]slack.UserGroup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Groups, nil
}
