package review

import "strings"

// NormalizeOwner maps raw extracted owner text onto one of exactly two known
// identities. A fuzzy (case-insensitive substring, either direction) match on
// the student's name wins first, then the counsellor's; anything else falls
// back to the counsellor, so the stored owner is never free text from the
// extraction service.
func NormalizeOwner(raw, studentName, counsellorName string) string {
	if fuzzyMatch(raw, studentName) {
		return studentName
	}
	if fuzzyMatch(raw, counsellorName) {
		return counsellorName
	}
	return counsellorName
}

func fuzzyMatch(raw, name string) bool {
	raw = strings.ToLower(strings.TrimSpace(raw))
	name = strings.ToLower(strings.TrimSpace(name))
	if raw == "" || name == "" {
		return false
	}
	return strings.Contains(name, raw) || strings.Contains(raw, name)
}
