// Package textutil holds the text-processing helpers shared by the pipeline
// stages: email extraction and ranking, domain parsing, HTML sanitizing, and
// resilient JSON extraction from model output.
package textutil

import (
	"encoding/json"
	"net/url"
	"regexp"
	"strings"

	"github.com/acem-systems/agentd/internal/pipeline/config"
)

var (
	emailExactRe = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	emailScanRe  = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
	wwwPrefixRe  = regexp.MustCompile(`^www\.`)
	htmlTagRe    = regexp.MustCompile(`<[^>]+>`)
	spaceRe      = regexp.MustCompile(`\s+`)

	fencedJSONRe = regexp.MustCompile("(?s)```json\\s*\n?(.*?)\n?\\s*```")
	fencedAnyRe  = regexp.MustCompile("(?s)```\\s*\n?(.*?)\n?\\s*```")
	greedyObjRe  = regexp.MustCompile(`(?s)\{.*\}`)

	phonePatterns = []*regexp.Regexp{
		regexp.MustCompile(`\+\d{1,3}[\s.-]?\(?\d{1,4}\)?[\s.-]?\d{3,4}[\s.-]?\d{3,4}`),
		regexp.MustCompile(`\(\d{2,4}\)\s?\d{3,4}[\s.-]?\d{3,4}`),
		regexp.MustCompile(`\b\d{2,4}[\s.-]\d{2,4}[\s.-]\d{2,4}(?:[\s.-]\d{2,4})?\b`),
		regexp.MustCompile(`\+\d{1,3}\s?\d{6,12}\b`),
	}
	digitsRe = regexp.MustCompile(`\D`)

	boilerplatePhrases = []string{"cookie", "privacy policy", "terms of service", "subscribe to our"}
)

// CleanEmail validates and normalizes an address. Empty string means
// invalid.
func CleanEmail(raw string) string {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" || !emailExactRe.MatchString(email) {
		return ""
	}
	return email
}

// ExtractEmails returns every valid address in the text, deduplicated,
// first occurrence order preserved.
func ExtractEmails(text string) []string {
	if text == "" {
		return nil
	}
	seen := map[string]bool{}
	var emails []string
	for _, raw := range emailScanRe.FindAllString(text, -1) {
		lower := strings.ToLower(raw)
		if seen[lower] {
			continue
		}
		seen[lower] = true
		if cleaned := CleanEmail(raw); cleaned != "" {
			emails = append(emails, cleaned)
		}
	}
	return emails
}

// ExtractDomain pulls the root domain from a URL, stripping any www prefix.
func ExtractDomain(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		rawURL = "https://" + rawURL
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	domain := parsed.Host
	if domain == "" {
		domain = strings.SplitN(parsed.Path, "/", 2)[0]
	}
	domain = wwwPrefixRe.ReplaceAllString(domain, "")
	return strings.ToLower(domain)
}

// IsExcludedDomain reports whether the URL belongs to a directory or social
// platform rather than an actual agency. Unparseable URLs are excluded.
func IsExcludedDomain(rawURL string, excluded []string) bool {
	domain := ExtractDomain(rawURL)
	if domain == "" {
		return true
	}
	for _, ex := range excluded {
		if strings.Contains(domain, ex) {
			return true
		}
	}
	return false
}

// PrioritizeEmails orders addresses personal first, then monitored generic
// mailboxes (info@, hola@, ...), then low-priority ones (noreply@, ...).
func PrioritizeEmails(emails []string) []string {
	var personal, genericGood, genericBad []string
	for _, email := range emails {
		prefix := strings.ToLower(strings.SplitN(email, "@", 2)[0])
		switch {
		case hasAnyPrefix(prefix, config.LowPriorityEmailPrefixes):
			genericBad = append(genericBad, email)
		case isGoodGeneric(prefix):
			genericGood = append(genericGood, email)
		default:
			personal = append(personal, email)
		}
	}
	out := make([]string, 0, len(emails))
	out = append(out, personal...)
	out = append(out, genericGood...)
	out = append(out, genericBad...)
	return out
}

func hasAnyPrefix(prefix string, list []string) bool {
	for _, p := range list {
		if strings.HasPrefix(prefix, p) {
			return true
		}
	}
	return false
}

func isGoodGeneric(prefix string) bool {
	for _, p := range config.GoodGenericPrefixes {
		if prefix == p {
			return true
		}
	}
	return false
}

// ExtractPhone finds the first plausible phone number (8 to 14 digits) in
// the text.
func ExtractPhone(text string) string {
	if text == "" {
		return ""
	}
	for _, re := range phonePatterns {
		match := strings.TrimSpace(re.FindString(text))
		if match == "" {
			continue
		}
		digits := digitsRe.ReplaceAllString(match, "")
		if len(digits) >= 8 && len(digits) <= 14 {
			return match
		}
	}
	return ""
}

// SanitizeText strips HTML tags, collapses whitespace, drops boilerplate
// sentences, and truncates to maxLength on a word boundary.
func SanitizeText(htmlOrText string, maxLength int) string {
	if htmlOrText == "" {
		return ""
	}
	text := htmlTagRe.ReplaceAllString(htmlOrText, " ")
	text = strings.TrimSpace(spaceRe.ReplaceAllString(text, " "))

	for _, phrase := range boilerplatePhrases {
		re := regexp.MustCompile(`(?i)[^.]*` + regexp.QuoteMeta(phrase) + `[^.]*\.?`)
		text = re.ReplaceAllString(text, "")
	}

	if maxLength > 0 && len(text) > maxLength {
		cut := text[:maxLength]
		if idx := strings.LastIndex(cut, " "); idx > 0 {
			cut = cut[:idx]
		}
		text = cut + "..."
	}
	return text
}

// ExtractJSON pulls a JSON document out of model output that may wrap it in
// markdown fences or surrounding prose: direct parse first, then a ```json
// fence, then any fence, then a greedy brace match.
func ExtractJSON(text string) ([]byte, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, false
	}
	if json.Valid([]byte(text)) {
		return []byte(text), true
	}
	for _, re := range []*regexp.Regexp{fencedJSONRe, fencedAnyRe} {
		if m := re.FindStringSubmatch(text); m != nil {
			candidate := strings.TrimSpace(m[1])
			if json.Valid([]byte(candidate)) {
				return []byte(candidate), true
			}
		}
	}
	if m := greedyObjRe.FindString(text); m != "" && json.Valid([]byte(m)) {
		return []byte(m), true
	}
	return nil, false
}
