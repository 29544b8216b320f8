package security

import (
	"regexp"
	"strings"
)

// injectionPatterns are instruction-override / prompt-injection signatures.
// A match blocks the turn before anything reaches the model. No filter is
// perfect; this catches the common families (override, role hijack,
// delimiter escape, jailbreak) and is screened against a benign booking
// corpus in tests to keep the false-positive rate at zero.
var injectionPatterns = []*regexp.Regexp{
	// System prompt override attempts
	regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|above|prior)\s+(instructions?|prompts?|rules?)`),
	regexp.MustCompile(`(?i)disregard\s+(all\s+)?(previous|above|prior)\s+(instructions?|prompts?)`),
	regexp.MustCompile(`(?i)forget\s+(all\s+)?(previous|above|prior)\s+(instructions?|context)`),
	regexp.MustCompile(`(?i)override\s+(all\s+)?(previous|above|prior)\s+(instructions?|rules?)`),

	// Role hijacking
	regexp.MustCompile(`(?i)^(pretend|act|behave|imagine)\s+(you\s+are|to\s+be|as\s+if|like)`),
	regexp.MustCompile(`(?i)^you\s+are\s+now\s+a`),
	regexp.MustCompile(`(?i)^from\s+now\s+on,?\s+you\s+(are|will|must)`),

	// Instruction injection
	regexp.MustCompile(`(?i)^\s*(important|critical|urgent|system)\s*:\s*`),
	regexp.MustCompile(`(?i)^new\s+(instruction|task|rule)\s*:`),
	regexp.MustCompile(`(?i)^admin\s*(mode|override|command)\s*:`),

	// Delimiter manipulation (escaping the conversation frame)
	regexp.MustCompile(`(?i)\]\s*\[\s*(system|assistant|instruction)`),
	regexp.MustCompile(`(?i)</?(system|instruction|prompt)>`),
	regexp.MustCompile(`(?i)---+\s*(system|new\s+instruction)`),

	// Jailbreaks
	regexp.MustCompile(`(?i)do\s+anything\s+now`),
	regexp.MustCompile(`(?i)jailbreak`),
	regexp.MustCompile(`(?i)bypass\s+(safety|filter|restrictions?)`),

	// Credential / prompt exfiltration
	regexp.MustCompile(`(?i)(reveal|print|show)\s+(your\s+)?(system\s+prompt|instructions|api\s+key)`),
}

// zeroWidthReplacer strips zero-width characters that could split a
// signature across invisible code points.
var zeroWidthReplacer = strings.NewReplacer(
	"\u200B", "", // zero-width space
	"\u200C", "", // zero-width non-joiner
	"\u200D", "", // zero-width joiner
	"\uFEFF", "", // BOM
	"\u2060", "", // word joiner
)

// normalizeInput prepares input for signature matching.
func normalizeInput(s string) string {
	s = zeroWidthReplacer.Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

// matchInjection returns the first matching signature, or "".
func matchInjection(input string) string {
	normalized := normalizeInput(input)
	for _, re := range injectionPatterns {
		if re.MatchString(normalized) {
			return re.String()
		}
	}
	return ""
}

// botSignatures are user-agent substrings of obvious automation.
var botSignatures = []string{
	"curl/", "wget/", "python-requests", "python-urllib", "go-http-client",
	"scrapy", "headless", "phantomjs", "selenium", "bot", "spider", "crawler",
}

// looksAutomated flags request metadata typical of scripted callers.
func looksAutomated(userAgent string) bool {
	if userAgent == "" {
		return true
	}
	ua := strings.ToLower(userAgent)
	for _, sig := range botSignatures {
		if strings.Contains(ua, sig) {
			return true
		}
	}
	return false
}
