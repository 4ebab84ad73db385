// Package pattern recognizes domain tokens in free text: hex identifiers,
// issue keys, clock timestamps and the pieces of an HTTP request line.
// Every function returns the first match or false; callers decide the
// precedence in which they apply them.
package pattern

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

var (
	hexIDRe    = regexp.MustCompile(`\b[a-f0-9]{8,32}\b`)
	issueKeyRe = regexp.MustCompile(`\b[A-Z][A-Z0-9_-]*-[A-Z0-9]{2,}\b`)
	clockRe    = regexp.MustCompile(`(?i)\b(\d{1,2}:\d{2})(?::\d{2})?(?:\s*([ap]m))?\b`)
	methodRe   = regexp.MustCompile(`(?i)\b(GET|POST|PUT|PATCH|DELETE|OPTIONS|HEAD)\b`)
	statusRe   = regexp.MustCompile(`\b([1-5]\d{2})\b`)
	durationRe = regexp.MustCompile(`\b(\d+(?:\.\d+)?)\s?(ms|s)\b`)
	hostRe     = regexp.MustCompile(`(?i)\b((?:[a-z0-9](?:[a-z0-9-]*[a-z0-9])?\.)+[a-z]{2,})\b`)
	urlRe      = regexp.MustCompile(`https?://[^\s"'<>]+`)
	sizeRe     = regexp.MustCompile(`(?i)\b\d+(?:\.\d+)?\s?(?:b|kb|kib|mb|mib|bytes)\b`)
)

// HexID returns the first 8 to 32 character lowercase hex token.
func HexID(s string) (string, bool) {
	m := hexIDRe.FindString(s)
	return m, m != ""
}

// IsHexID reports whether s is exactly one hex identifier.
func IsHexID(s string) bool {
	m := hexIDRe.FindString(s)
	return m != "" && m == s
}

// IssueKey returns the first issue short key such as "FRONTEND-3K2".
func IssueKey(s string) (string, bool) {
	m := issueKeyRe.FindString(s)
	return m, m != ""
}

// ClockTime returns the first H:MM or HH:MM timestamp, keeping an am/pm
// suffix when present.
func ClockTime(s string) (string, bool) {
	m := clockRe.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	full := strings.TrimSpace(m[0])
	return full, true
}

// Method returns the first HTTP verb, upper-cased.
func Method(s string) (string, bool) {
	m := methodRe.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	return strings.ToUpper(m[1]), true
}

// Status returns the first standalone three-digit code in 100-599.
func Status(s string) (int, bool) {
	m := statusRe.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	code, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return code, true
}

// Duration returns the first "<number>ms" or "<number>s" token with any
// inner space removed, e.g. "842ms".
func Duration(s string) (string, bool) {
	m := durationRe.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	return m[1] + m[2], true
}

// Host returns the first dotted hostname-like token, lower-cased.
func Host(s string) (string, bool) {
	m := hostRe.FindString(s)
	if m == "" {
		return "", false
	}
	return strings.ToLower(m), true
}

// URL returns the first absolute http(s) URL, trailing punctuation trimmed.
func URL(s string) (string, bool) {
	m := urlRe.FindString(s)
	if m == "" {
		return "", false
	}
	m = strings.TrimRight(m, ".,;:)]}")
	return m, true
}

// HostOf returns the host component of an absolute URL.
func HostOf(raw string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", false
	}
	return strings.ToLower(u.Hostname()), true
}

// LastIssueKey returns the last issue key in s. Free-text rows carry the
// key among their trailing tokens.
func LastIssueKey(s string) (string, bool) {
	all := issueKeyRe.FindAllString(s, -1)
	if len(all) == 0 {
		return "", false
	}
	return all[len(all)-1], true
}

// LastClockTime returns the last clock timestamp in s.
func LastClockTime(s string) (string, bool) {
	all := clockRe.FindAllString(s, -1)
	if len(all) == 0 {
		return "", false
	}
	return strings.TrimSpace(all[len(all)-1]), true
}

// StripURLs blanks every absolute URL in s.
func StripURLs(s string) string { return urlRe.ReplaceAllString(s, " ") }

// StripDurations blanks every duration token in s.
func StripDurations(s string) string { return durationRe.ReplaceAllString(s, " ") }

// StripClockTimes blanks every clock timestamp in s.
func StripClockTimes(s string) string { return clockRe.ReplaceAllString(s, " ") }

// StripSizes blanks byte-size tokens ("512 B", "1.2 kB") so their digits
// are not mistaken for a status code.
func StripSizes(s string) string { return sizeRe.ReplaceAllString(s, " ") }

// StripMethods blanks every HTTP verb in s.
func StripMethods(s string) string { return methodRe.ReplaceAllString(s, " ") }

// Remove deletes the first occurrence of tok from s. Call sites use it to
// consume a token before applying a lower-precedence rule to the rest.
func Remove(s, tok string) string {
	if tok == "" {
		return s
	}
	return strings.Replace(s, tok, " ", 1)
}
