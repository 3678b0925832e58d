// Package resource defines the vault's shared resource pools.
// This package is PURE and must NOT import any infrastructure packages.
package resource

import "fmt"

// Kind identifies a pooled resource.
type Kind string

const (
	Power   Kind = "power"
	Water   Kind = "water"
	Food    Kind = "food"
	Caps    Kind = "caps"
	Stimpak Kind = "stimpak"
	RadAway Kind = "radaway"
)

// Kinds lists every pool a vault carries, in a stable order.
var Kinds = []Kind{Power, Water, Food, Caps, Stimpak, RadAway}

// Vital lists the pools whose scarcity affects dwellers.
var Vital = []Kind{Power, Water, Food}

// ParseKind validates a stored or user supplied kind name.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown resource kind %q", s)
}

// Pool is a bounded quantity of one resource.
type Pool struct {
	Amount   float64 `json:"amount"`
	Capacity float64 `json:"capacity"`
}

// Valid reports whether the pool respects 0 <= Amount <= Capacity.
func (p Pool) Valid() bool {
	return p.Capacity >= 0 && p.Amount >= 0 && p.Amount <= p.Capacity
}

// Clamp forces the amount into [0, Capacity]. The second return value is the
// amount dropped above capacity (overflow is discarded, never banked).
func (p Pool) Clamp() (Pool, float64) {
	var dropped float64
	if p.Amount > p.Capacity {
		dropped = p.Amount - p.Capacity
		p.Amount = p.Capacity
	}
	if p.Amount < 0 {
		p.Amount = 0
	}
	return p, dropped
}

// Ratio returns Amount/Capacity, 0 for an empty-capacity pool.
func (p Pool) Ratio() float64 {
	if p.Capacity <= 0 {
		return 0
	}
	return p.Amount / p.Capacity
}

// Pools is the full set of a vault's pools keyed by kind.
type Pools map[Kind]Pool

// Clone returns an independent copy.
func (ps Pools) Clone() Pools {
	out := make(Pools, len(ps))
	for k, p := range ps {
		out[k] = p
	}
	return out
}

// Add applies a signed delta without clamping. Callers clamp once at the end
// of a tick so intermediate systems can see the raw totals.
func (ps Pools) Add(k Kind, delta float64) {
	p := ps[k]
	p.Amount += delta
	ps[k] = p
}

// ClampAll clamps every pool and returns the dropped overflow per kind.
func (ps Pools) ClampAll() map[Kind]float64 {
	dropped := make(map[Kind]float64)
	for k, p := range ps {
		clamped, d := p.Clamp()
		ps[k] = clamped
		if d > 0 {
			dropped[k] = d
		}
	}
	return dropped
}
