package record

import (
	"fmt"
	"strings"
)

// Watermark identifies the most recent row by business ordering.
type Watermark struct {
	Identity string `json:"identity"`
	Serial   string `json:"serial"`
}

// IsZero reports whether the watermark carries no identity and no serial.
func (w Watermark) IsZero() bool {
	return w.Identity == "" && w.Serial == ""
}

// Matches compares both halves case-insensitively; the store does not keep
// consistent casing.
func (w Watermark) Matches(other Watermark) bool {
	return strings.EqualFold(w.Identity, other.Identity) && strings.EqualFold(w.Serial, other.Serial)
}

// Describe explains how next differs from w, e.g. `serial "A" -> "B"`.
func (w Watermark) Describe(next Watermark) string {
	var parts []string
	if !strings.EqualFold(w.Serial, next.Serial) {
		parts = append(parts, fmt.Sprintf("serial %q -> %q", w.Serial, next.Serial))
	}
	if !strings.EqualFold(w.Identity, next.Identity) {
		parts = append(parts, fmt.Sprintf("identity %q -> %q", w.Identity, next.Identity))
	}
	if len(parts) == 0 {
		return "no change"
	}
	return strings.Join(parts, "; ")
}

func (w Watermark) String() string {
	return fmt.Sprintf("(%s, %s)", w.Identity, w.Serial)
}
