package classify

import (
	"fmt"
	"strings"
	"unicode"
)

// defaultLabels are the signs recognized out of the box.
var defaultLabels = []string{"Hello", "Thank You", "Yes", "No", "I Love You"}

// Labels is an ordered, validated set of sign labels.
type Labels []string

// DefaultLabels returns a copy of the built-in label set.
func DefaultLabels() Labels {
	return append(Labels(nil), defaultLabels...)
}

// NewLabels trims names and checks the set is non-empty and unique,
// ignoring case.
func NewLabels(names ...string) (Labels, error) {
	seen := make(map[string]bool, len(names))
	out := make(Labels, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		key := normalize(n)
		if seen[key] {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateLabel, n)
		}
		seen[key] = true
		out = append(out, n)
	}
	if len(out) == 0 {
		return nil, ErrNoLabels
	}
	return out, nil
}

// ParseLabels builds a label set from a comma-separated list.
func ParseLabels(csv string) (Labels, error) {
	return NewLabels(strings.Split(csv, ",")...)
}

// Contains reports whether label is in the set exactly.
func (l Labels) Contains(label string) bool {
	for _, x := range l {
		if x == label {
			return true
		}
	}
	return false
}

// Index returns the position of label, or -1.
func (l Labels) Index(label string) int {
	for i, x := range l {
		if x == label {
			return i
		}
	}
	return -1
}

// replyLeads are lead-ins models put before the label, normalized.
var replyLeads = []string{"the answer is", "answer", "the sign is", "sign", "label"}

// Match maps a backend reply to a label. Case, quotes and punctuation are
// ignored, as is a short lead-in such as "Answer:". Anything else, like a
// sentence that merely contains a label or names several, is no match.
func (l Labels) Match(reply string) (string, bool) {
	norm := normalize(reply)
	for _, lead := range replyLeads {
		if rest, ok := strings.CutPrefix(norm, lead+" "); ok {
			norm = rest
			break
		}
	}
	if norm == "" {
		return "", false
	}
	for _, x := range l {
		if normalize(x) == norm {
			return x, true
		}
	}
	return "", false
}

// String joins the labels for prompts and logs.
func (l Labels) String() string {
	return strings.Join(l, ", ")
}

// normalize lowercases s, turns punctuation into spaces and collapses runs
// of whitespace.
func normalize(s string) string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			return unicode.ToLower(r)
		case r == '\'':
			return -1
		default:
			return ' '
		}
	}, s)
	return strings.Join(strings.Fields(mapped), " ")
}
