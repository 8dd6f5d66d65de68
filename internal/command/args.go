// Package command parses and formats the arguments of the owner commands:
// counts, user ids and durations such as "30s", "5 min" or "2小时".
package command

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	errs "github.com/edgard/chatmemory/internal/errors"
)

var validate = validator.New()

// UnitDuration maps a duration unit word to its length. Accepted forms are
// s|sec|secs|second|seconds, m|min|mins|minute|minutes, h|hr|hrs|hour|hours
// and 秒|分钟|小时, case-insensitive.
func UnitDuration(unit string) (time.Duration, bool) {
	switch strings.ToLower(strings.TrimSpace(unit)) {
	case "s", "sec", "secs", "second", "seconds", "秒":
		return time.Second, true
	case "m", "min", "mins", "minute", "minutes", "分钟":
		return time.Minute, true
	case "h", "hr", "hrs", "hour", "hours", "小时":
		return time.Hour, true
	default:
		return 0, false
	}
}

var durationPattern = regexp.MustCompile(`^(\d+)\s*([A-Za-z]+|秒|分钟|小时)$`)

// ParseDuration parses "<n><unit>" with an optional space, n > 0.
func ParseDuration(s string) (time.Duration, error) {
	m := durationPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, errs.NewValidationError(fmt.Sprintf("invalid duration %q", s), nil)
	}

	n, err := ParsePositiveInt(m[1])
	if err != nil {
		return 0, err
	}
	unit, ok := UnitDuration(m[2])
	if !ok {
		return 0, errs.NewValidationError(fmt.Sprintf("unknown duration unit %q", m[2]), nil)
	}

	// Cap at roughly ten years so the multiplication cannot overflow.
	if n > int(87600*time.Hour/unit) {
		return 0, errs.NewValidationError(fmt.Sprintf("duration %q is too long", s), nil)
	}
	return time.Duration(n) * unit, nil
}

// ParsePositiveInt parses a strictly positive decimal integer.
func ParsePositiveInt(s string) (int, error) {
	s = strings.TrimSpace(s)
	if err := validate.Var(s, "required,numeric"); err != nil {
		return 0, errs.NewValidationError(fmt.Sprintf("%q is not a number", s), err)
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, errs.NewValidationError(fmt.Sprintf("%q is out of range", s), err)
	}
	if err := validate.Var(n, "gt=0"); err != nil {
		return 0, errs.NewValidationError(fmt.Sprintf("%q must be positive", s), err)
	}
	return n, nil
}

// ParseUserID checks that s is a numeric user id and returns it trimmed.
func ParseUserID(s string) (string, error) {
	s = strings.TrimSpace(s)
	if err := validate.Var(s, "required,number"); err != nil {
		return "", errs.NewValidationError(fmt.Sprintf("invalid user id %q", s), err)
	}
	return s, nil
}

// BlockArgs is the parsed argument list of the block command.
type BlockArgs struct {
	UserID   string
	Duration time.Duration
}

// ParseBlockArgs parses "<user_id> <n><unit>"; the unit may be separated
// from the number by a space.
func ParseBlockArgs(fields []string) (BlockArgs, error) {
	if len(fields) < 2 || len(fields) > 3 {
		return BlockArgs{}, errs.NewValidationError("block expects a user id and a duration", nil)
	}
	userID, err := ParseUserID(fields[0])
	if err != nil {
		return BlockArgs{}, err
	}
	d, err := ParseDuration(strings.Join(fields[1:], ""))
	if err != nil {
		return BlockArgs{}, err
	}
	return BlockArgs{UserID: userID, Duration: d}, nil
}

// FormatRemaining renders d as XhYmZs, rounded up to whole seconds.
func FormatRemaining(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64((d + time.Second - 1) / time.Second)
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	return fmt.Sprintf("%dh%dm%ds", h, m, s)
}
