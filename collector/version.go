package collector

import (
	"fmt"
	"strconv"
	"strings"
)

// ServerVersion is the dotted numeric server version, e.g. {9, 6, 3}.
// Versions compare lexicographically; a shorter version that is a
// prefix of a longer one sorts first.
type ServerVersion []int

// ParseServerVersion parses the first whitespace-delimited token of s.
// Each dotted component contributes its leading digits; parsing stops
// at the first component with trailing text, so "10beta1" is {10}.
func ParseServerVersion(s string) (ServerVersion, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty server version")
	}

	var v ServerVersion
	for _, part := range strings.Split(fields[0], ".") {
		digits := part
		if i := strings.IndexFunc(part, func(r rune) bool { return r < '0' || r > '9' }); i >= 0 {
			digits = part[:i]
		}
		if digits == "" {
			break
		}
		n, err := strconv.Atoi(digits)
		if err != nil {
			return nil, fmt.Errorf("server version %q: %w", fields[0], err)
		}
		v = append(v, n)
		if len(digits) != len(part) {
			break
		}
	}
	if len(v) == 0 {
		return nil, fmt.Errorf("server version %q has no numeric component", fields[0])
	}
	return v, nil
}

// Compare returns -1, 0 or +1.
func (v ServerVersion) Compare(other ServerVersion) int {
	for i := 0; i < len(v) && i < len(other); i++ {
		switch {
		case v[i] < other[i]:
			return -1
		case v[i] > other[i]:
			return 1
		}
	}
	switch {
	case len(v) < len(other):
		return -1
	case len(v) > len(other):
		return 1
	}
	return 0
}

// AtLeast reports v >= other.
func (v ServerVersion) AtLeast(other ServerVersion) bool { return v.Compare(other) >= 0 }

// Before reports v < other.
func (v ServerVersion) Before(other ServerVersion) bool { return v.Compare(other) < 0 }

func (v ServerVersion) String() string {
	parts := make([]string, len(v))
	for i, n := range v {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ".")
}
