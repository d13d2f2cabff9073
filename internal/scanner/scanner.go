// Package scanner implements the sensitive-data scanner (C3): a pure
// pattern-based detector for secrets and PII in prompt text, with
// severity classification, redaction, and deduplication.
package scanner

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Severity levels.
const (
	SeverityHigh   = "high"
	SeverityMedium = "medium"
)

// Finding type labels, used both internally and in human-readable block
// messages.
const (
	TypeAWSAccessKey  = "aws_access_key"
	TypeAWSSecretKey  = "aws_secret_key"
	TypeGenericToken  = "generic_api_token"
	TypeGitHubToken   = "github_token"
	TypeSlackToken    = "slack_token"
	TypeBearerToken   = "bearer_token"
	TypeSSN           = "ssn"
	TypeCreditCard    = "credit_card"
	TypePEMKey        = "pem_private_key"
	TypeDBURLCreds    = "database_url_credentials"
	TypeDBURLBare     = "database_url"
	TypeBulkEmail     = "bulk_email_list"
	TypeInternalIPv4  = "internal_ip_address"
)

// blockLabels gives each finding type a fixed human-readable label for
// the block message. Never includes the matched value itself.
var blockLabels = map[string]string{
	TypeAWSAccessKey: "AWS Access Key",
	TypeAWSSecretKey: "AWS Secret Key",
	TypeGenericToken: "API Token",
	TypeGitHubToken:  "GitHub Token",
	TypeSlackToken:   "Slack Token",
	TypeBearerToken:  "Bearer Token",
	TypeSSN:          "Social Security Number",
	TypeCreditCard:   "Credit Card Number",
	TypePEMKey:       "Private Key",
	TypeDBURLCreds:   "Database URL with Credentials",
}

// warnLabels gives each medium-severity finding type a fixed
// human-readable label for the warn message. Never includes the matched
// value itself.
var warnLabels = map[string]string{
	TypeDBURLBare:    "Database URL",
	TypeBulkEmail:    "Bulk Email List",
	TypeInternalIPv4: "Internal IP Address",
}

// Finding is a single hit from the scanner.
type Finding struct {
	Type          string
	Severity      string
	RedactedValue string
	Index         int
}

// Result is the outcome of a scan.
type Result struct {
	HasHighSeverity   bool
	HasMediumSeverity bool
	Findings          []Finding
}

// BlockMessage builds the human-readable message for a high-severity
// block, naming finding types (never values), with duplicate types
// coalesced and medium findings excluded.
func (r Result) BlockMessage() string {
	seen := make(map[string]bool)
	var labels []string
	for _, f := range r.Findings {
		if f.Severity != SeverityHigh {
			continue
		}
		label := blockLabels[f.Type]
		if label == "" {
			label = f.Type
		}
		if seen[label] {
			continue
		}
		seen[label] = true
		labels = append(labels, label)
	}
	if len(labels) == 0 {
		return "sensitive data detected"
	}
	return "request blocked: detected " + strings.Join(labels, ", ")
}

// WarnMessage builds the human-readable message for a medium-severity
// warning, naming finding types (never values), with duplicate types
// coalesced and high findings excluded.
func (r Result) WarnMessage() string {
	seen := make(map[string]bool)
	var labels []string
	for _, f := range r.Findings {
		if f.Severity != SeverityMedium {
			continue
		}
		label := warnLabels[f.Type]
		if label == "" {
			label = f.Type
		}
		if seen[label] {
			continue
		}
		seen[label] = true
		labels = append(labels, label)
	}
	if len(labels) == 0 {
		return "sensitive data detected"
	}
	return "warning: detected " + strings.Join(labels, ", ")
}

var (
	reAWSAccessKey = regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`)
	reAWSSecret    = regexp.MustCompile(`\b[A-Za-z0-9/+=]{40}\b`)
	reGenericToken = regexp.MustCompile(`\bsk-[A-Za-z0-9_-]{20,}\b`)
	reGitHubToken  = regexp.MustCompile(`\bghp_[A-Za-z0-9]{20,}\b`)
	reSlackToken   = regexp.MustCompile(`\bxox[bp]-[A-Za-z0-9-]{10,}\b`)
	reBearerToken  = regexp.MustCompile(`(?i)\bBearer\s+([A-Za-z0-9_-]{20,})`)
	reSSN          = regexp.MustCompile(`\b(\d{3})-(\d{2})-(\d{4})\b`)
	reCreditCard   = regexp.MustCompile(`\b(\d{4})[ -]?(\d{4})[ -]?(\d{4})[ -]?(\d{4})\b`)
	rePEMKey       = regexp.MustCompile(`-----BEGIN (?:RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----`)
	reDBURLCreds   = regexp.MustCompile(`\b(?:postgres|postgresql|mongodb|mongo|mysql|redis|amqp)://[^\s:@/]+:[^\s@/]+@[^\s]+`)
	reDBURLBare    = regexp.MustCompile(`\b(?:postgres|postgresql|mongodb|mongo|mysql|redis|amqp)://[^\s@]+`)
	reEmail        = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
	reIPv4_10      = regexp.MustCompile(`\b10\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	reIPv4_172     = regexp.MustCompile(`\b172\.(?:1[6-9]|2\d|3[01])\.\d{1,3}\.\d{1,3}\b`)
	reIPv4_192     = regexp.MustCompile(`\b192\.168\.\d{1,3}\.\d{1,3}\b`)

	awsContextWords = []string{"aws", "secret", "credential"}
)

type rawMatch struct {
	typ          string
	severity     string
	start, end   int
	value        string
}

// ScanText scans text and returns every finding. Regex engines are
// invoked fresh per call (package-level compiled patterns carry no
// cursor state between calls), so ScanText is safe to call concurrently
// and repeatedly on different text.
func ScanText(text string) Result {
	var highs []rawMatch

	add := func(re *regexp.Regexp, typ string) {
		for _, m := range re.FindAllStringIndex(text, -1) {
			highs = append(highs, rawMatch{typ: typ, severity: SeverityHigh, start: m[0], end: m[1], value: text[m[0]:m[1]]})
		}
	}

	add(reAWSAccessKey, TypeAWSAccessKey)
	add(reGenericToken, TypeGenericToken)
	add(reGitHubToken, TypeGitHubToken)
	add(reSlackToken, TypeSlackToken)

	for _, m := range reAWSSecret.FindAllStringIndex(text, -1) {
		if hasNearbyContextWord(text, m[0], m[1]) {
			highs = append(highs, rawMatch{typ: TypeAWSSecretKey, severity: SeverityHigh, start: m[0], end: m[1], value: text[m[0]:m[1]]})
		}
	}

	for _, m := range reBearerToken.FindAllStringSubmatchIndex(text, -1) {
		// m[2]:m[3] is the captured token (excludes "Bearer ").
		highs = append(highs, rawMatch{typ: TypeBearerToken, severity: SeverityHigh, start: m[2], end: m[3], value: text[m[2]:m[3]]})
	}

	for _, m := range reSSN.FindAllStringSubmatchIndex(text, -1) {
		area := text[m[2]:m[3]]
		group := text[m[4]:m[5]]
		serial := text[m[6]:m[7]]
		if validSSN(area, group, serial) {
			highs = append(highs, rawMatch{typ: TypeSSN, severity: SeverityHigh, start: m[0], end: m[1], value: text[m[0]:m[1]]})
		}
	}

	for _, m := range reCreditCard.FindAllStringIndex(text, -1) {
		digits := digitsOnly(text[m[0]:m[1]])
		if len(digits) == 16 && luhnValid(digits) {
			highs = append(highs, rawMatch{typ: TypeCreditCard, severity: SeverityHigh, start: m[0], end: m[1], value: text[m[0]:m[1]]})
		}
	}

	add(rePEMKey, TypePEMKey)
	add(reDBURLCreds, TypeDBURLCreds)

	sort.Slice(highs, func(i, j int) bool { return highs[i].start < highs[j].start })

	var mediums []rawMatch

	for _, m := range reDBURLBare.FindAllStringIndex(text, -1) {
		if overlapsAny(m[0], m[1], highs) {
			continue
		}
		mediums = append(mediums, rawMatch{typ: TypeDBURLBare, severity: SeverityMedium, start: m[0], end: m[1], value: text[m[0]:m[1]]})
	}

	if emails := uniqueEmails(text); len(emails) >= 11 {
		first := strings.Index(text, emails[0])
		if first < 0 {
			first = 0
		}
		mediums = append(mediums, rawMatch{typ: TypeBulkEmail, severity: SeverityMedium, start: first, end: first + len(emails[0]), value: emails[0]})
	}

	for _, re := range []*regexp.Regexp{reIPv4_10, reIPv4_172, reIPv4_192} {
		for _, m := range re.FindAllStringIndex(text, -1) {
			if overlapsAny(m[0], m[1], highs) {
				continue
			}
			mediums = append(mediums, rawMatch{typ: TypeInternalIPv4, severity: SeverityMedium, start: m[0], end: m[1], value: text[m[0]:m[1]]})
		}
	}

	all := append(highs, mediums...)
	sort.Slice(all, func(i, j int) bool { return all[i].start < all[j].start })

	result := Result{}
	for _, m := range all {
		f := Finding{Type: m.typ, Severity: m.severity, RedactedValue: Redact(m.value), Index: m.start}
		result.Findings = append(result.Findings, f)
		if m.severity == SeverityHigh {
			result.HasHighSeverity = true
		} else {
			result.HasMediumSeverity = true
		}
	}
	return result
}

// Redact returns the first 4 characters of value followed by "****", or
// the first character followed by "****" when value is 4 characters or
// shorter. Redaction never emits more than 4 characters of the original
// value.
func Redact(value string) string {
	r := []rune(value)
	if len(r) <= 4 {
		if len(r) == 0 {
			return "****"
		}
		return string(r[:1]) + "****"
	}
	return string(r[:4]) + "****"
}

func hasNearbyContextWord(text string, start, end int) bool {
	const window = 60
	lo := start - window
	if lo < 0 {
		lo = 0
	}
	hi := end + window
	if hi > len(text) {
		hi = len(text)
	}
	ctx := strings.ToLower(text[lo:hi])
	for _, w := range awsContextWords {
		if strings.Contains(ctx, w) {
			return true
		}
	}
	return false
}

func overlapsAny(start, end int, matches []rawMatch) bool {
	for _, m := range matches {
		if start < m.end && m.start < end {
			return true
		}
	}
	return false
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// validSSN enforces the area/group/serial rules: area != 000, != 666,
// < 900; group != 00; serial != 0000.
func validSSN(area, group, serial string) bool {
	a, err := strconv.Atoi(area)
	if err != nil {
		return false
	}
	g, err := strconv.Atoi(group)
	if err != nil {
		return false
	}
	s, err := strconv.Atoi(serial)
	if err != nil {
		return false
	}
	if a == 0 || a == 666 || a >= 900 {
		return false
	}
	if g == 0 {
		return false
	}
	if s == 0 {
		return false
	}
	return true
}

// luhnValid implements the Luhn checksum over a string of digits.
func luhnValid(digits string) bool {
	sum := 0
	alt := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
		if alt {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		alt = !alt
	}
	return sum%10 == 0
}

// uniqueEmails returns the distinct email addresses found in text, in
// order of first appearance.
func uniqueEmails(text string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range reEmail.FindAllString(text, -1) {
		lower := strings.ToLower(m)
		if seen[lower] {
			continue
		}
		seen[lower] = true
		out = append(out, m)
	}
	return out
}
