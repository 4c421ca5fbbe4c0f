package ai

import "regexp"

var secretPatterns = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile(`(?i)api[_-]?key["'\s:=]+[\w-]+`), "api_key=***"},
	{regexp.MustCompile(`(?i)bearer\s+[\w.-]+`), "bearer ***"},
	{regexp.MustCompile(`(?i)authorization["'\s:=]+[\w\s-]+`), "authorization=***"},
}

// SanitizeError masks credentials that providers sometimes echo back in
// error bodies before the text is logged or returned.
func SanitizeError(msg string) string {
	if msg == "" {
		return "unknown error"
	}
	for _, p := range secretPatterns {
		msg = p.re.ReplaceAllString(msg, p.repl)
	}
	return msg
}
