package services

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/tbourn/go-bounty-bot/internal/domain"
	"github.com/tbourn/go-bounty-bot/internal/transport"
)

// Action symbols shown on cards. Buttons and reactions carry these values.
const (
	SymbolPublish  = "👍"
	SymbolDelete   = "❌"
	SymbolClaim    = "🏴"
	SymbolApply    = "🙋"
	SymbolSubmit   = "📮"
	SymbolComplete = "✅"
	SymbolPaid     = "💰"
	SymbolHelp     = "🆘"
)

// Card colors.
const (
	colorDefault    = 1998388
	colorInProgress = 0xd39e00
	colorComplete   = 0x01d212
)

const (
	maxFooterTags  = 5
	titleWrapWidth = 20
	displayDate    = "2006-01-02"
)

// CardFieldBountyID is the card field the router reads the bounty id from.
const CardFieldBountyID = "Bounty Id"

var upper = cases.Upper(language.English)

// CardContext carries the records a card depends on besides the bounty.
type CardContext struct {
	Customer *domain.Customer
	// Template is the repeat template of an occurrence, if any.
	Template *domain.Bounty
	// Repeats is the number of occurrences the template has spawned.
	Repeats int64
	// BoardURL prefixes the bounty id to form the card link.
	BoardURL string
	// Initiator is mentioned in the draft prompt.
	Initiator string
}

func (cc CardContext) activeTemplate() bool {
	return cc.Template != nil && cc.Template.Status != domain.StatusDeleted
}

// BuildCard renders b. It performs no I/O.
func BuildCard(b *domain.Bounty, cc CardContext) transport.Message {
	msg := transport.Message{
		Title:       CreatePublicTitle(b),
		URL:         cc.BoardURL + b.ID,
		Author:      b.CreatedBy.Handle,
		Description: b.Description,
		Color:       colorDefault,
		Fields:      cardFields(b, cc),
	}
	isDraft := b.Status == domain.StatusDraft
	if isDraft {
		msg.Author += ": " + b.CustomerID
		msg.Content = draftPrompt(cc.Initiator)
	}

	legend, actions := cardActions(b, cc)
	msg.Actions = actions
	msg.Footer = footerTags(b.Tags) + legend

	switch b.Status {
	case domain.StatusInProgress, domain.StatusInReview:
		msg.Color = colorInProgress
	case domain.StatusComplete:
		msg.Color = colorComplete
	}

	if !isDraft && cc.Customer != nil && cc.Customer.LastListURL != "" {
		msg.Links = append(msg.Links, transport.Link{Label: "Back to List", URL: cc.Customer.LastListURL})
	}
	return msg
}

func draftPrompt(initiator string) string {
	var sb strings.Builder
	sb.WriteString("Thank you")
	if initiator != "" {
		sb.WriteString(" <@" + initiator + ">")
	}
	sb.WriteString("! If it looks good, please hit " + SymbolPublish + " to publish the bounty.\n")
	sb.WriteString("Once the bounty has been published, others can view and claim the bounty.\n")
	sb.WriteString("If you are not happy with the bounty, hit " + SymbolDelete + " to delete it and start over.\n")
	return sb.String()
}

func cardFields(b *domain.Bounty, cc CardContext) []transport.Field {
	fields := []transport.Field{
		{Name: CardFieldBountyID, Value: b.ID},
		{Name: "Criteria", Value: b.Criteria},
		{Name: "Reward", Value: b.Reward.String(), Inline: true},
		{Name: "Status", Value: StatusLabel(b.Status), Inline: true},
		{Name: "Deadline", Value: b.DueAt.Format(displayDate), Inline: true},
		{Name: "Created by", Value: displayName(b.CreatedBy), Inline: true},
	}
	if len(b.GateTo) > 0 {
		fields = append(fields, transport.Field{Name: "For role", Value: displayName(b.GateTo[0])})
	}
	if b.AssignTo != nil {
		fields = append(fields, transport.Field{Name: "For user", Value: displayName(*b.AssignTo)})
	}
	if b.ClaimedBy != nil {
		fields = append(fields, transport.Field{Name: "Claimed by", Value: displayName(*b.ClaimedBy), Inline: true})
	}
	if b.SubmittedBy != nil {
		fields = append(fields, transport.Field{Name: "Submitted by", Value: displayName(*b.SubmittedBy), Inline: true})
	}
	if b.ReviewedBy != nil {
		fields = append(fields, transport.Field{Name: "Reviewed by", Value: displayName(*b.ReviewedBy), Inline: true})
	}
	if b.IsPaid() {
		payer := b.CreatedBy
		if b.PaidBy != nil {
			payer = *b.PaidBy
		}
		fields = append(fields, transport.Field{Name: "Paid by", Value: displayName(payer), Inline: true})
	}
	if cc.activeTemplate() {
		t := cc.Template
		fields = append(fields, transport.Field{Name: "Repeats every", Value: plural(t.RepeatDays, "day")})
		if t.EndRepeatsDate != nil {
			fields = append(fields, transport.Field{Name: "Ending", Value: t.EndRepeatsDate.Format(displayDate), Inline: true})
		} else {
			fields = append(fields, transport.Field{Name: "Ending after", Value: plural(t.NumRepeats, "repeat"), Inline: true})
		}
		fields = append(fields, transport.Field{Name: "# Repeated", Value: strconv.FormatInt(cc.Repeats, 10), Inline: true})
	}
	return fields
}

// cardActions returns the footer legend and the action symbols for b's status.
func cardActions(b *domain.Bounty, cc CardContext) (string, []string) {
	var (
		legend  []string
		actions []string
	)
	add := func(symbol, label string) {
		legend = append(legend, symbol+" - "+label)
		actions = append(actions, symbol)
	}
	switch b.Status {
	case domain.StatusDraft:
		add(SymbolPublish, "publish")
		add(SymbolDelete, "delete")
		legend = append(legend, "Please reply within 60 minutes")
	case domain.StatusOpen:
		if b.RequireApplication && b.AssignTo == nil {
			add(SymbolApply, "apply")
		} else {
			add(SymbolClaim, "claim")
		}
		add(SymbolDelete, "delete")
	case domain.StatusInProgress:
		add(SymbolSubmit, "submit")
		add(SymbolComplete, "mark complete")
		if !b.IsPaid() {
			add(SymbolPaid, "mark paid")
		}
		add(SymbolHelp, "help")
		if cc.activeTemplate() {
			add(SymbolDelete, "delete")
		}
	case domain.StatusInReview:
		add(SymbolComplete, "mark complete")
		if !b.IsPaid() {
			add(SymbolPaid, "mark paid")
		}
		add(SymbolHelp, "help")
		if cc.activeTemplate() {
			add(SymbolDelete, "delete")
		}
	case domain.StatusComplete:
		if !b.IsPaid() {
			add(SymbolPaid, "mark paid")
		}
		if cc.activeTemplate() {
			add(SymbolDelete, "delete")
		}
	}
	return strings.Join(legend, " | "), actions
}

func footerTags(t domain.Tags) string {
	var all []string
	if t.ChannelCategory != "" {
		all = append(all, t.ChannelCategory)
	}
	all = append(all, t.Keywords...)
	if len(all) == 0 {
		return ""
	}
	shown := all
	if len(shown) > maxFooterTags {
		shown = shown[:maxFooterTags]
	}
	s := "🔖" + strings.Join(shown, " 🔖")
	if len(all) > maxFooterTags {
		s += " ..."
	}
	return s + "\n \n"
}

// StatusLabel is the display form of a status.
func StatusLabel(s domain.Status) string {
	switch s {
	case domain.StatusDraft:
		return "Draft"
	case domain.StatusOpen:
		return "Open"
	case domain.StatusInProgress:
		return "In-Progress"
	case domain.StatusInReview:
		return "In-Review"
	case domain.StatusComplete:
		return "Completed"
	case domain.StatusDeleted:
		return "Deleted"
	}
	return string(s)
}

// CreatePublicTitle returns the base title followed by a word-wrapped
// parenthetical of annotations, or the base title alone when there are none.
func CreatePublicTitle(b *domain.Bounty) string {
	sec := ""
	if b.Evergreen && b.IsParent {
		if b.ClaimLimit > 1 {
			left := b.ClaimLimit - len(b.ChildrenIDs)
			sec = AddToTitle(sec, plural(left, "claim")+" available")
		} else {
			sec = AddToTitle(sec, "infinite claims available")
		}
	}
	switch {
	case b.AssignTo != nil:
		sec = AddToTitle(sec, "for user "+displayName(*b.AssignTo))
	case len(b.GateTo) > 0:
		sec = AddToTitle(sec, "for role "+displayName(b.GateTo[0]))
	case b.IsIOU && b.OwedTo != nil:
		sec = AddToTitle(sec, "IOU owed to "+displayName(*b.OwedTo))
	}
	if b.RequireApplication && b.Status == domain.StatusOpen {
		note := "requires application before claiming"
		if n := len(b.Applicants); n > 0 {
			note += ", " + plural(n, "applicant") + " so far"
		}
		sec = AddToTitle(sec, note)
	}
	if sec == "" {
		return b.Title
	}
	return b.Title + "\n" + WordWrap(sec, titleWrapWidth)
}

// AddToTitle appends text to the parenthetical sec. An empty sec starts a
// new parenthetical with text capitalized.
func AddToTitle(sec, text string) string {
	if sec == "" {
		r, size := utf8.DecodeRuneInString(text)
		if r == utf8.RuneError {
			return "(" + text + ")"
		}
		return "(" + upper.String(string(r)) + text[size:] + ")"
	}
	return sec[:len(sec)-1] + ", " + text + sec[len(sec)-1:]
}

// WordWrap breaks s at the word that would take a line past n characters.
func WordWrap(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	var (
		out  strings.Builder
		line strings.Builder
	)
	for _, word := range strings.Split(s, " ") {
		if utf8.RuneCountInString(line.String())+utf8.RuneCountInString(word) <= n {
			line.WriteString(word + " ")
			continue
		}
		out.WriteString(strings.TrimSpace(line.String()) + "\n")
		line.Reset()
		line.WriteString(word + " ")
	}
	out.WriteString(strings.TrimSpace(line.String()))
	return out.String()
}

func plural(n int, noun string) string {
	s := strconv.Itoa(n) + " " + noun
	if n != 1 {
		s += "s"
	}
	return s
}
