package slackchat

import (
	"errors"
	"strings"
	"unicode"

	"github.com/tbourn/go-bounty-bot/internal/domain"
)

// ErrUsage is returned by ParseCommand for text it cannot read.
var ErrUsage = errors.New("usage: /bounty <activity> [bounty-id] [key=value ...]")

var activityAliases = map[string]domain.Activity{
	"wallet":   domain.ActivityWallet,
	"register": domain.ActivityWallet,
	"pay":      domain.ActivityPaid,
	"remove":   domain.ActivityDelete,
	"new":      domain.ActivityCreate,
}

var knownActivities = map[domain.Activity]bool{
	domain.ActivityCreate:   true,
	domain.ActivityPublish:  true,
	domain.ActivityApply:    true,
	domain.ActivityAssign:   true,
	domain.ActivityClaim:    true,
	domain.ActivitySubmit:   true,
	domain.ActivityComplete: true,
	domain.ActivityPaid:     true,
	domain.ActivityDelete:   true,
	domain.ActivityTag:      true,
	domain.ActivityHelp:     true,
	domain.ActivityList:     true,
	domain.ActivityWallet:   true,
}

// ParseCommand reads slash-command text of the form
//
//	claim 3f2a...
//	create title="Fix the docs" reward="100 BANK" claim-limit=3
//	list CLAIMED_BY_ME
//
// Keys are accepted in kebab-case or camelCase and returned in camelCase.
// One bare word after the activity is its positional argument: the bounty id
// for bounty activities, the list type for list and the address for wallet.
func ParseCommand(text string) (domain.Activity, map[string]string, error) {
	toks, err := tokenize(text)
	if err != nil {
		return "", nil, err
	}
	if len(toks) == 0 {
		return "", nil, ErrUsage
	}
	name := strings.ToLower(toks[0])
	activity := domain.Activity(name)
	if a, ok := activityAliases[name]; ok {
		activity = a
	}
	if !knownActivities[activity] {
		return "", nil, ErrUsage
	}

	params := map[string]string{}
	positional := false
	for _, tok := range toks[1:] {
		k, v, ok := strings.Cut(tok, "=")
		if !ok {
			if positional {
				return "", nil, ErrUsage
			}
			positional = true
			params[positionalKey(activity)] = unescape(tok)
			continue
		}
		k = camel(k)
		if k == "" {
			return "", nil, ErrUsage
		}
		params[k] = unescape(v)
	}
	return activity, params, nil
}

func positionalKey(a domain.Activity) string {
	switch a {
	case domain.ActivityList:
		return "listType"
	case domain.ActivityWallet:
		return "address"
	default:
		return "bountyId"
	}
}

// tokenize splits on whitespace outside double quotes. Slack clients may
// send curly quotes, which count as plain ones.
func tokenize(s string) ([]string, error) {
	var (
		out     []string
		cur     strings.Builder
		quoted  bool
		started bool
	)
	for _, r := range s {
		switch {
		case r == '"' || r == '“' || r == '”':
			quoted = !quoted
			started = true
		case unicode.IsSpace(r) && !quoted:
			if started {
				out = append(out, cur.String())
				cur.Reset()
				started = false
			}
		default:
			cur.WriteRune(r)
			started = true
		}
	}
	if quoted {
		return nil, ErrUsage
	}
	if started {
		out = append(out, cur.String())
	}
	return out, nil
}

func camel(k string) string {
	parts := strings.FieldsFunc(strings.TrimSpace(k), func(r rune) bool { return r == '-' || r == '_' })
	if len(parts) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(lowerFirst(parts[0]))
	for _, p := range parts[1:] {
		b.WriteString(strings.ToUpper(p[:1]) + p[1:])
	}
	return b.String()
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

// unescape reduces Slack's escaped references to their ids:
// <@U1|bob> → U1, <!subteam^S1|@devs> → S1, <#C1|general> → C1,
// <https://x|label> → https://x.
func unescape(v string) string {
	if !strings.HasPrefix(v, "<") || !strings.HasSuffix(v, ">") {
		return v
	}
	inner := strings.TrimSuffix(strings.TrimPrefix(v, "<"), ">")
	inner, _, _ = strings.Cut(inner, "|")
	switch {
	case strings.HasPrefix(inner, "@"), strings.HasPrefix(inner, "#"):
		return inner[1:]
	case strings.HasPrefix(inner, "!subteam^"):
		return strings.TrimPrefix(inner, "!subteam^")
	}
	return inner
}
