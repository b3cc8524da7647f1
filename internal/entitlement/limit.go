package entitlement

import (
	"encoding/json"
	"fmt"
	"math"
)

// Limit is a resource ceiling: either a finite non-negative count or
// unlimited. Stored rows use -1 for unlimited; that sentinel never leaves
// the storage layer.
type Limit struct {
	unlimited bool
	n         int
}

// Unlimited is the limit that allows any usage.
var Unlimited = Limit{unlimited: true}

// Finite returns a limit of exactly n. Negative values are clamped to zero;
// use FromStored to decode the -1 sentinel.
func Finite(n int) Limit {
	if n < 0 {
		n = 0
	}
	return Limit{n: n}
}

// FromStored decodes a persisted limit where -1 (or any negative) means
// unlimited.
func FromStored(n int) Limit {
	if n < 0 {
		return Unlimited
	}
	return Limit{n: n}
}

// FromStoredPtr decodes a nullable persisted limit. nil means unlimited,
// which is the coupon-grant convention for absent inlined values.
func FromStoredPtr(n *int) Limit {
	if n == nil {
		return Unlimited
	}
	return FromStored(*n)
}

// IsUnlimited reports whether the limit allows any usage.
func (l Limit) IsUnlimited() bool { return l.unlimited }

// Value returns the finite ceiling. It is math.MaxInt for an unlimited
// limit so that comparisons against real usage counts behave.
func (l Limit) Value() int {
	if l.unlimited {
		return math.MaxInt
	}
	return l.n
}

// Allows reports whether one more unit of usage fits under the limit.
func (l Limit) Allows(current int) bool {
	if l.unlimited {
		return true
	}
	return current < l.n
}

// Stored encodes the limit back to the persisted representation (-1 for
// unlimited).
func (l Limit) Stored() int {
	if l.unlimited {
		return -1
	}
	return l.n
}

func (l Limit) String() string {
	if l.unlimited {
		return "unlimited"
	}
	return fmt.Sprintf("%d", l.n)
}

// MarshalJSON encodes a finite limit as a number and an unlimited one as
// the string "unlimited".
func (l Limit) MarshalJSON() ([]byte, error) {
	if l.unlimited {
		return json.Marshal("unlimited")
	}
	return json.Marshal(l.n)
}

// UnmarshalJSON accepts a number, -1, or the string "unlimited".
func (l *Limit) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s == "unlimited" {
			*l = Unlimited
			return nil
		}
		return fmt.Errorf("entitlement: invalid limit %q", s)
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("entitlement: invalid limit: %w", err)
	}
	*l = FromStored(n)
	return nil
}
