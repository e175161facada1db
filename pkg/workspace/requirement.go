package workspace

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
)

// requirementIDPattern enforces "REQ-" followed by a zero-padded integer of
// at least 3 digits. Parsing is strict: no extra characters, no sign.
var requirementIDPattern = regexp.MustCompile(`^REQ-([0-9]{3,})$`)

// RequirementID is the opaque, monotonically allocated natural key of a Plan.
type RequirementID struct {
	raw string
	n   int
}

// ErrInvalidRequirementID is returned when a string doesn't match the strict
// REQ-NNN format.
type ErrInvalidRequirementID struct{ Input string }

func (e *ErrInvalidRequirementID) Error() string {
	return fmt.Sprintf("invalid requirement id %q: want REQ- followed by a zero-padded integer (min 3 digits)", e.Input)
}

// ParseRequirementID parses and strictly validates a requirement id string.
func ParseRequirementID(s string) (RequirementID, error) {
	m := requirementIDPattern.FindStringSubmatch(s)
	if m == nil {
		return RequirementID{}, &ErrInvalidRequirementID{Input: s}
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return RequirementID{}, &ErrInvalidRequirementID{Input: s}
	}
	return RequirementID{raw: s, n: n}, nil
}

// NewRequirementID formats a requirement id from a sequence number, using the
// minimum 3-digit zero-padded width (wider numbers are not truncated).
func NewRequirementID(n int) RequirementID {
	raw := fmt.Sprintf("REQ-%03d", n)
	return RequirementID{raw: raw, n: n}
}

// String returns the canonical "REQ-NNN" form.
func (r RequirementID) String() string { return r.raw }

// Number returns the integer sequence value.
func (r RequirementID) Number() int { return r.n }

// MarshalJSON renders the canonical "REQ-NNN" string form.
func (r RequirementID) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.raw)
}

// UnmarshalJSON parses the canonical string form, strictly.
func (r *RequirementID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseRequirementID(s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
