package ledger

import (
	"regexp"
	"strings"
)

var codePattern = regexp.MustCompile(`^\d{4}(-\d{2})*$`)

// AccountCode is a hierarchical chart code: a 4-digit root with optional 2-digit sub-levels.
type AccountCode string

// ParseAccountCode validates raw and returns it as an AccountCode.
func ParseAccountCode(raw string) (AccountCode, error) {
	if !codePattern.MatchString(raw) {
		return "", newError(KindInvalidCode, "parse code", "", "account code %q must match NNNN[-NN...]", raw)
	}
	return AccountCode(raw), nil
}

// Valid reports whether c has the hierarchical shape.
func (c AccountCode) Valid() bool {
	return codePattern.MatchString(string(c))
}

// Depth is 1 for a root code and grows by one per sub-level.
func (c AccountCode) Depth() int {
	if c == "" {
		return 0
	}
	return strings.Count(string(c), "-") + 1
}

// Root returns the 4-digit root segment.
func (c AccountCode) Root() AccountCode {
	root, _, _ := strings.Cut(string(c), "-")
	return AccountCode(root)
}

// IsSubCodeOf reports whether c sits strictly below parent in the code tree.
func (c AccountCode) IsSubCodeOf(parent AccountCode) bool {
	if c.Depth() <= parent.Depth() || parent == "" {
		return false
	}
	return strings.HasPrefix(string(c), string(parent)+"-")
}

func (c AccountCode) String() string { return string(c) }
