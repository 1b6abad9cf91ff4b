package remote

import "strings"

// Matcher selects remote objects by name.
type Matcher func(name string) bool

// ExactName matches one name exactly.
func ExactName(name string) Matcher {
	return func(n string) bool { return n == name }
}

// ContainsFold matches names containing substr, ignoring case.
func ContainsFold(substr string) Matcher {
	substr = strings.ToLower(substr)
	return func(n string) bool { return strings.Contains(strings.ToLower(n), substr) }
}

// PendingDocuments matches pending reservation submissions.
func PendingDocuments() Matcher { return ContainsFold("json") }
