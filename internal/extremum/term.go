package extremum

import "fmt"

// Term is the scale of a detector level. T1 is built from raw bars, each
// higher term from the historical extrema of the term below it.
type Term uint8

const (
	T1 Term = iota + 1
	T2
	T3
	T4
	T5
)

const termCount = 5

// Terms lists every term from shortest to longest.
var Terms = [termCount]Term{T1, T2, T3, T4, T5}

// Index returns the zero-based level index of t.
func (t Term) Index() int { return int(t) - 1 }

// Valid reports whether t is one of T1..T5.
func (t Term) Valid() bool { return t >= T1 && t <= T5 }

func (t Term) String() string {
	if !t.Valid() {
		return fmt.Sprintf("Term(%d)", uint8(t))
	}
	return fmt.Sprintf("T%d", uint8(t))
}

// ParseTerm parses "T1".."T5" (or "t1".."t5").
func ParseTerm(s string) (Term, error) {
	if len(s) == 2 && (s[0] == 'T' || s[0] == 't') && s[1] >= '1' && s[1] <= '5' {
		return Term(s[1] - '0'), nil
	}
	return 0, fmt.Errorf("extremum: unknown term %q", s)
}

func (t Term) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("extremum: invalid term %d", uint8(t))
	}
	return []byte(t.String()), nil
}

func (t *Term) UnmarshalText(b []byte) error {
	v, err := ParseTerm(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}
