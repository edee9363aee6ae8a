package slackchat

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/slack-go/slack"

	"github.com/tbourn/go-bounty-bot/internal/transport"
)

// actionBlockID marks the button row rendered for Message.Actions. Each
// button carries its symbol as the value.
const actionBlockID = "bounty_actions"

// reactionSymbols maps Slack reaction names to the symbols the services use.
var reactionSymbols = map[string]string{
	"+1":                      "👍",
	"thumbsup":                "👍",
	"x":                       "❌",
	"waving_black_flag":       "🏴",
	"raising_hand":            "🙋",
	"postbox":                 "📮",
	"white_check_mark":        "✅",
	"moneybag":                "💰",
	"sos":                     "🆘",
	"construction_worker":     "👷",
	"memo":                    "📝",
	"pencil":                  "📝",
	"arrows_counterclockwise": "🔄",
}

// SymbolForReaction returns the symbol for a reaction name. Skin-tone
// variants ("raising_hand::skin-tone-3") resolve to their base reaction.
func SymbolForReaction(name string) (string, bool) {
	if i := strings.Index(name, "::"); i >= 0 {
		name = name[:i]
	}
	s, ok := reactionSymbols[name]
	return s, ok
}

// messageOptions renders msg. Embed-style content becomes one attachment;
// actions become a row of buttons.
func messageOptions(msg transport.Message) []slack.MsgOption {
	opts := []slack.MsgOption{slack.MsgOptionText(fallbackText(msg), false)}

	var blocks []slack.Block
	if msg.Content != "" {
		blocks = append(blocks, slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, msg.Content, false, false), nil, nil))
	}
	if len(msg.Actions) > 0 {
		buttons := make([]slack.BlockElement, 0, len(msg.Actions))
		for i, sym := range msg.Actions {
			buttons = append(buttons, slack.NewButtonBlockElement(
				fmt.Sprintf("bounty_action_%d", i), sym,
				slack.NewTextBlockObject(slack.PlainTextType, sym, true, false)))
		}
		blocks = append(blocks, slack.NewActionBlock(actionBlockID, buttons...))
	}
	if len(blocks) == 0 {
		// Edits must replace the old blocks, so never send an empty set.
		blocks = append(blocks, slack.NewContextBlock("", slack.NewTextBlockObject(slack.MarkdownType, contextLine(msg), false, false)))
	}
	opts = append(opts, slack.MsgOptionBlocks(blocks...))

	if hasEmbed(msg) {
		opts = append(opts, slack.MsgOptionAttachments(attachment(msg)))
	}
	return opts
}

func hasEmbed(msg transport.Message) bool {
	return msg.Title != "" || msg.Description != "" || len(msg.Fields) > 0 || msg.Footer != "" || msg.Author != ""
}

func fallbackText(msg transport.Message) string {
	if msg.Content != "" {
		return msg.Content
	}
	return msg.Title
}

func contextLine(msg transport.Message) string {
	if msg.Title != "" {
		return msg.Title
	}
	return " "
}

func attachment(msg transport.Message) slack.Attachment {
	text := msg.Description
	for _, l := range msg.Links {
		if text != "" {
			text += "\n"
		}
		text += fmt.Sprintf("<%s|%s>", l.URL, l.Label)
	}
	att := slack.Attachment{
		AuthorName: msg.Author,
		Title:      msg.Title,
		TitleLink:  msg.URL,
		Text:       text,
		Footer:     msg.Footer,
	}
	if msg.Color != 0 {
		att.Color = fmt.Sprintf("#%06x", msg.Color)
	}
	for _, f := range msg.Fields {
		att.Fields = append(att.Fields, slack.AttachmentField{Title: f.Name, Value: f.Value, Short: f.Inline})
	}
	return att
}

// parseMessage rebuilds a transport.Message from a fetched Slack message.
// Links are folded into the description; the router only needs fields.
func parseMessage(m slack.Message) transport.Message {
	out := transport.Message{Content: m.Text}
	for _, b := range m.Blocks.BlockSet {
		ab, ok := b.(*slack.ActionBlock)
		if !ok || ab.BlockID != actionBlockID || ab.Elements == nil {
			continue
		}
		for _, el := range ab.Elements.ElementSet {
			if btn, ok := el.(*slack.ButtonBlockElement); ok {
				out.Actions = append(out.Actions, btn.Value)
			}
		}
	}
	if len(m.Attachments) == 0 {
		return out
	}
	att := m.Attachments[0]
	if out.Content == att.Title {
		out.Content = ""
	}
	out.Author = att.AuthorName
	out.Title = att.Title
	out.URL = att.TitleLink
	out.Description = att.Text
	out.Footer = att.Footer
	if c, err := strconv.ParseInt(strings.TrimPrefix(att.Color, "#"), 16, 32); err == nil {
		out.Color = int(c)
	}
	for _, f := range att.Fields {
		out.Fields = append(out.Fields, transport.Field{Name: f.Title, Value: f.Value, Inline: f.Short})
	}
	return out
}
