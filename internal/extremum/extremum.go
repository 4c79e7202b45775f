package extremum

import (
	"fmt"
	"time"
)

// Kind tells a local maximum from a local minimum.
type Kind uint8

const (
	Max Kind = iota + 1
	Min
)

func (k Kind) String() string {
	switch k {
	case Max:
		return "Max"
	case Min:
		return "Min"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// ParseKind parses "Max" or "Min".
func ParseKind(s string) (Kind, error) {
	switch s {
	case "Max":
		return Max, nil
	case "Min":
		return Min, nil
	}
	return 0, fmt.Errorf("extremum: unknown kind %q", s)
}

func (k Kind) MarshalText() ([]byte, error) {
	if k != Max && k != Min {
		return nil, fmt.Errorf("extremum: invalid kind %d", uint8(k))
	}
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	v, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// Extremum is a turning point of the price path at one term.
type Extremum struct {
	TS    int64   `json:"ts"`
	Term  Term    `json:"term"`
	Kind  Kind    `json:"kind"`
	Price float64 `json:"price"`
}

func (e Extremum) IsMax() bool { return e.Kind == Max }
func (e Extremum) IsMin() bool { return e.Kind == Min }

// Time returns the timestamp of the bar the extremum was taken from.
func (e Extremum) Time() time.Time { return time.Unix(0, e.TS).UTC() }

func (e Extremum) String() string {
	return fmt.Sprintf("Extremum{%s %s %s %v}", e.Term, e.Kind, e.Time().Format(time.RFC3339), e.Price)
}

// extendedBy reports whether price moves e further in its own direction.
// Equal prices never extend.
func (e Extremum) extendedBy(price float64) bool {
	if e.Kind == Max {
		return price > e.Price
	}
	return price < e.Price
}

func (e Extremum) withTerm(t Term) Extremum {
	e.Term = t
	return e
}
