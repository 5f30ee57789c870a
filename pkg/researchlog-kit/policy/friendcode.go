package policy

import (
	"regexp"
	"strings"
)

const friendCodeDigits = 12

var completeFriendCodeRegex = regexp.MustCompile(`^\d{4}-\d{4}-\d{4}$`)

// FormatFriendCode keeps the first twelve ASCII digits of input and groups
// them by four: "123456789012" becomes "1234-5678-9012", "12345" "1234-5".
func FormatFriendCode(input string) string {
	var b strings.Builder
	n := 0
	for i := 0; i < len(input) && n < friendCodeDigits; i++ {
		c := input[i]
		if c < '0' || c > '9' {
			continue
		}
		if n > 0 && n%4 == 0 {
			b.WriteByte('-')
		}
		b.WriteByte(c)
		n++
	}
	return b.String()
}

func IsCompleteFriendCode(code string) bool {
	return completeFriendCodeRegex.MatchString(code)
}
