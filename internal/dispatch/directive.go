package dispatch

import (
	"regexp"
	"strconv"
	"time"

	"github.com/edgard/chatmemory/internal/command"
)

// Directive is a block instruction found in a model reply.
type Directive struct {
	UserID   string
	Duration time.Duration
}

var directivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bblock\s+user\s+(\d+)\s+for\s+(\d+)\s*(seconds?|secs?|s|minutes?|mins?|m|hours?|hrs?|h)\b`),
	regexp.MustCompile(`屏蔽(\d+)&(\d+)(秒|分钟|小时)`),
}

// ParseDirectives returns every block directive in reply, in pattern order
// and then in order of appearance. Malformed counts are skipped.
func ParseDirectives(reply string) []Directive {
	var out []Directive
	for _, re := range directivePatterns {
		for _, m := range re.FindAllStringSubmatch(reply, -1) {
			n, err := strconv.Atoi(m[2])
			if err != nil || n <= 0 {
				continue
			}
			unit, ok := command.UnitDuration(m[3])
			if !ok {
				continue
			}
			if n > int(87600*time.Hour/unit) {
				continue
			}
			out = append(out, Directive{UserID: m[1], Duration: time.Duration(n) * unit})
		}
	}
	return out
}
