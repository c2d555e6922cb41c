package memory

import "strings"

// subjectMatches reports whether subject is covered by a NATS-style pattern:
// "*" matches exactly one token and a trailing ">" matches one or more.
func subjectMatches(pattern, subject string) bool {
	if pattern == "" || subject == "" {
		return false
	}

	want := strings.Split(pattern, ".")
	got := strings.Split(subject, ".")

	for i, tok := range want {
		if tok == ">" {
			return i < len(got)
		}
		if i >= len(got) {
			return false
		}
		if tok != "*" && tok != got[i] {
			return false
		}
	}
	return len(want) == len(got)
}
