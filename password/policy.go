package password

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Policy describes the complexity rules a candidate password must satisfy.
// Lengths are counted in runes after NFKC normalization, matching what the
// hasher actually derives from.
type Policy struct {
	MinLength     int
	MaxLength     int
	RequireUpper  bool
	RequireLower  bool
	RequireDigit  bool
	RequireSymbol bool
}

// PolicyError reports every rule the candidate failed, not just the first,
// so callers can surface a complete list to the end user.
type PolicyError struct {
	Failures []string
}

func (e *PolicyError) Error() string {
	if len(e.Failures) == 0 {
		return "password does not meet policy"
	}
	return "password does not meet policy: " + strings.Join(e.Failures, "; ")
}

// Check validates candidate against the policy. It returns *PolicyError on
// failure and nil otherwise.
func (p Policy) Check(candidate string) error {
	normalized := norm.NFKC.String(candidate)
	length := utf8.RuneCountInString(normalized)

	var failures []string

	if p.MinLength > 0 && length < p.MinLength {
		failures = append(failures, "too short")
	}
	if p.MaxLength > 0 && length > p.MaxLength {
		failures = append(failures, "too long")
	}

	var hasUpper, hasLower, hasDigit, hasSymbol bool
	for _, r := range normalized {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			hasSymbol = true
		}
	}

	if p.RequireUpper && !hasUpper {
		failures = append(failures, "missing uppercase letter")
	}
	if p.RequireLower && !hasLower {
		failures = append(failures, "missing lowercase letter")
	}
	if p.RequireDigit && !hasDigit {
		failures = append(failures, "missing digit")
	}
	if p.RequireSymbol && !hasSymbol {
		failures = append(failures, "missing symbol")
	}

	if len(failures) > 0 {
		return &PolicyError{Failures: failures}
	}

	return nil
}
