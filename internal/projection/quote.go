package projection

import (
	"regexp"
	"strings"
)

// A quote is encoded as a prefix of the message body:
//
//	> IDENTITY: first quoted line
//	> further quoted lines
//	message text
var quoteHeader = regexp.MustCompile(`^> ([A-Z0-9*][A-Z0-9]{7}): (.*)$`)

// FormatQuote prepends a quote of text by identity to body.
func FormatQuote(identity, text, body string) string {
	var b strings.Builder
	for i, line := range strings.Split(text, "\n") {
		if i == 0 {
			b.WriteString("> " + identity + ": " + line + "\n")
			continue
		}
		b.WriteString("> " + line + "\n")
	}
	b.WriteString(body)
	return b.String()
}

// ParseQuote splits a quoted body. ok is false when body carries no quote, in
// which case rest is body unchanged.
func ParseQuote(body string) (identity, text, rest string, ok bool) {
	lines := strings.Split(body, "\n")
	m := quoteHeader.FindStringSubmatch(lines[0])
	if m == nil || len(lines) < 2 {
		return "", "", body, false
	}
	quoted := []string{m[2]}
	i := 1
	for ; i < len(lines)-1 && strings.HasPrefix(lines[i], "> "); i++ {
		quoted = append(quoted, strings.TrimPrefix(lines[i], "> "))
	}
	return m[1], strings.Join(quoted, "\n"), strings.Join(lines[i:], "\n"), true
}
