package services

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gosimple/slug"
	"github.com/shopspring/decimal"

	"github.com/tbourn/go-bounty-bot/internal/domain"
)

// Supported reward currencies.
var allowedCurrencies = map[string]struct{}{
	"BANK": {}, "ETH": {}, "BTC": {}, "USDC": {}, "USDT": {}, "BCARD": {},
}

var (
	rewardRe = regexp.MustCompile(`^\s*(\d+(?:\.(\d+))?)\s+([A-Za-z]+)\s*$`)
	walletRe = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)

	maxRewardAmount = decimal.NewFromInt(100_000_000)
)

const (
	maxTags         = 20
	defaultDueAfter = 3 // months
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		_ = validate.RegisterValidation("reward", func(fl validator.FieldLevel) bool {
			_, err := ParseReward(fl.Field().String())
			return err == nil
		})
		_ = validate.RegisterValidation("wallet", func(fl validator.FieldLevel) bool {
			return walletRe.MatchString(fl.Field().String())
		})
	})
	return validate
}

// createInput holds the user-supplied create parameters.
type createInput struct {
	Title       string `validate:"required,max=80"`
	Description string `validate:"required,max=4000"`
	Criteria    string `validate:"required,max=1000"`
	Reward      string `validate:"required,reward"`
	ClaimLimit  int    `validate:"gte=0,lte=100"`
	RepeatDays  int    `validate:"gte=0"`
	NumRepeats  int    `validate:"omitempty,gte=2,lte=100"`
}

type submitInput struct {
	Notes string `validate:"omitempty,max=4000"`
	URL   string `validate:"omitempty,url"`
}

type applyInput struct {
	Pitch string `validate:"required,max=4000"`
}

var fieldLabels = map[string]string{
	"Title":       "Title",
	"Description": "Description",
	"Criteria":    "Criteria",
	"Reward":      "Reward",
	"ClaimLimit":  "Claim limit",
	"RepeatDays":  "Repeat days",
	"NumRepeats":  "Number of repeats",
	"Notes":       "Submission notes",
	"URL":         "Submission URL",
	"Pitch":       "Pitch",
}

// checkStruct validates v and turns the first violation into a ValidationError.
func checkStruct(v any) error {
	err := validatorInstance().Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return runtimeErr("validate", err)
	}
	fe := verrs[0]
	label := fieldLabels[fe.Field()]
	if label == "" {
		label = fe.Field()
	}
	switch fe.Tag() {
	case "required":
		return validationf("%s is required.", label)
	case "max":
		return validationf("%s must be at most %s characters.", label, fe.Param())
	case "gte":
		return validationf("%s must be at least %s.", label, fe.Param())
	case "lte":
		return validationf("%s must be at most %s.", label, fe.Param())
	case "reward":
		_, perr := ParseReward(fmt.Sprint(fe.Value()))
		return perr
	case "url":
		return validationf("%s must be a valid URL.", label)
	default:
		return validationf("%s is invalid.", label)
	}
}

// ParseReward parses "<amount> <SYMBOL>" into a Reward. The scale is the
// number of decimals the user typed.
func ParseReward(s string) (domain.Reward, error) {
	m := rewardRe.FindStringSubmatch(s)
	if m == nil {
		return domain.Reward{}, validationf("Reward must look like \"100 BANK\".")
	}
	currency := strings.ToUpper(m[3])
	if _, ok := allowedCurrencies[currency]; !ok {
		return domain.Reward{}, validationf("Reward currency must be one of BANK, ETH, BTC, USDC, USDT, BCARD.")
	}
	amount, err := decimal.NewFromString(m[1])
	if err != nil {
		return domain.Reward{}, validationf("Reward amount %q is not a number.", m[1])
	}
	if amount.IsNegative() || amount.GreaterThan(maxRewardAmount) {
		return domain.Reward{}, validationf("Reward amount must be between 0 and 100,000,000.")
	}
	return domain.Reward{Currency: currency, Amount: amount, Scale: int32(len(m[2]))}, nil
}

// ValidWallet reports whether s is a 0x-prefixed 20-byte hex address.
func ValidWallet(s string) bool {
	return validatorInstance().Var(s, "wallet") == nil
}

// normalizeTags slugifies comma-separated keywords, dropping empties and duplicates.
func normalizeTags(existing []string, raw string) []string {
	seen := make(map[string]struct{}, len(existing))
	out := append([]string(nil), existing...)
	for _, t := range out {
		seen[t] = struct{}{}
	}
	for _, part := range strings.Split(raw, ",") {
		t := slug.Make(part)
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
		if len(out) >= maxTags {
			break
		}
	}
	return out
}

func trimmed(s string) string { return strings.TrimSpace(s) }

func paramBool(v string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "yes", "y", "on":
			return true
		}
		return false
	}
	return b
}

func paramInt(name, v string) (int, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, validationf("%s must be a whole number.", name)
	}
	return n, nil
}

// parseDate accepts RFC 3339 timestamps or plain YYYY-MM-DD dates (UTC midnight).
func parseDate(name, v string) (*time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		t = t.UTC()
		return &t, nil
	}
	if t, err := time.Parse("2006-01-02", v); err == nil {
		return &t, nil
	}
	return nil, validationf("%s must be a date like 2006-01-02.", name)
}
