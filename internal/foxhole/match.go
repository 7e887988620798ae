package foxhole

import "strings"

// NormalizeName lowercases, drops everything but [a-z0-9] and folds the
// letters OCR confuses with digits (o→0, l→1).
func NormalizeName(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r == 'o':
			b.WriteByte('0')
		case r == 'l':
			b.WriteByte('1')
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		}
	}
	return b.String()
}

// MatchName picks the candidate that best matches an OCR-detected stockpile
// name: exact case-insensitive first, then equal normalized forms, then
// normalized containment in either direction. It returns -1 when nothing
// matches or detected is blank.
func MatchName(detected string, candidates []string) int {
	detected = strings.TrimSpace(detected)
	if detected == "" {
		return -1
	}
	lower := strings.ToLower(detected)
	for i, c := range candidates {
		if strings.ToLower(strings.TrimSpace(c)) == lower {
			return i
		}
	}
	norm := NormalizeName(detected)
	for i, c := range candidates {
		if NormalizeName(c) == norm {
			return i
		}
	}
	if norm == "" {
		return -1
	}
	for i, c := range candidates {
		cn := NormalizeName(c)
		if cn == "" {
			continue
		}
		if strings.Contains(norm, cn) || strings.Contains(cn, norm) {
			return i
		}
	}
	return -1
}
