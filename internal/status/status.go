package status

import (
	"database/sql/driver"
	"errors"
	"fmt"
)

// Canonical is the normalized outcome of an item, chunk or upload.
// Values include Pending, Processing, Completed, PartiallyCompleted, and Failed.
type Canonical uint8

const (
	Pending Canonical = iota
	Processing
	Completed
	PartiallyCompleted
	Failed
)

var canonicalNames = [...]string{
	Pending:            "pending",
	Processing:         "processing",
	Completed:          "completed",
	PartiallyCompleted: "partially-completed",
	Failed:             "failed",
}

// All returns every canonical value in declaration order.
func All() []Canonical {
	return []Canonical{Pending, Processing, Completed, PartiallyCompleted, Failed}
}

// String returns the wire name of the status.
func (c Canonical) String() string {
	if int(c) < len(canonicalNames) {
		return canonicalNames[c]
	}
	return canonicalNames[Pending]
}

// Valid reports whether c is one of the declared values.
func (c Canonical) Valid() bool {
	return int(c) < len(canonicalNames)
}

// Parse converts a wire name back into a Canonical value.
// Parameters:
//   - name: exact canonical name such as "partially-completed".
//
// Returns:
//   - Canonical: matching value.
//   - error: non-nil if name is not a canonical name.
func Parse(name string) (Canonical, error) {
	for i, n := range canonicalNames {
		if n == name {
			return Canonical(i), nil
		}
	}
	return Pending, fmt.Errorf("unknown canonical status %q", name)
}

// MarshalText implements encoding.TextMarshaler.
func (c Canonical) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Canonical) UnmarshalText(text []byte) error {
	v, err := Parse(string(text))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// Value implements the driver.Valuer interface for database serialization.
func (c Canonical) Value() (driver.Value, error) {
	return c.String(), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
func (c *Canonical) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*c = Pending
		return nil
	case string:
		return c.UnmarshalText([]byte(v))
	case []byte:
		return c.UnmarshalText(v)
	default:
		return errors.New("failed to scan canonical status")
	}
}

// Presentation describes how a status is rendered by dashboards and the CLI.
type Presentation struct {
	Label string `json:"label"`
	Icon  string `json:"icon"`
	Tone  string `json:"tone"`
}

var presentations = map[Canonical]Presentation{
	Pending:            {Label: "Pending", Icon: "○", Tone: "muted"},
	Processing:         {Label: "Processing", Icon: "◐", Tone: "info"},
	Completed:          {Label: "Completed", Icon: "●", Tone: "success"},
	PartiallyCompleted: {Label: "Partially completed", Icon: "◑", Tone: "warning"},
	Failed:             {Label: "Failed", Icon: "✕", Tone: "danger"},
}

// Present returns the presentation for c; unknown values render as pending.
func (c Canonical) Present() Presentation {
	if p, ok := presentations[c]; ok {
		return p
	}
	return presentations[Pending]
}
