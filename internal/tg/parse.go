package tg

import (
	"regexp"
	"strings"
)

var (
	reSubscriptionID = regexp.MustCompile(`^wh_[0-9A-Za-z]{4,64}$`)
	reUserID         = regexp.MustCompile(`^[0-9A-Za-z_.:@-]{1,128}$`)
)

func IsSubscriptionID(s string) bool {
	return reSubscriptionID.MatchString(strings.TrimSpace(s))
}

func IsUserID(s string) bool {
	return reUserID.MatchString(strings.TrimSpace(s))
}

// commandArg returns the text after the command word, e.g. "u1" for
// "/pending u1".
func commandArg(text string) string {
	text = strings.TrimSpace(text)
	i := strings.IndexAny(text, " \t")
	if i < 0 {
		return ""
	}
	return strings.TrimSpace(text[i+1:])
}
