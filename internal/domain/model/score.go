package model

import (
	"bytes"
	"fmt"
	"math/big"
	"strings"
)

// Score is an arbitrary-precision integer score. Observed ranked scores
// exceed the int64 range, so it is never narrowed to a machine integer and
// always crosses JSON boundaries as a string.
type Score struct {
	v *big.Int
}

// NewScore returns a Score holding x.
func NewScore(x int64) Score {
	return Score{v: big.NewInt(x)}
}

// ParseScore parses a base-10 integer string.
func ParseScore(s string) (Score, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Score{}, fmt.Errorf("%w: empty", ErrInvalidScore)
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return Score{}, fmt.Errorf("%w: %q", ErrInvalidScore, s)
	}
	return Score{v: v}, nil
}

// MustParseScore is ParseScore for literals known to be valid.
func MustParseScore(s string) Score {
	sc, err := ParseScore(s)
	if err != nil {
		panic(err)
	}
	return sc
}

func (s Score) big() *big.Int {
	if s.v == nil {
		return new(big.Int)
	}
	return s.v
}

// Cmp compares s and o and returns -1, 0 or +1.
func (s Score) Cmp(o Score) int {
	return s.big().Cmp(o.big())
}

// Equal reports whether s and o hold the same value.
func (s Score) Equal(o Score) bool {
	return s.Cmp(o) == 0
}

// String returns the base-10 representation.
func (s Score) String() string {
	return s.big().String()
}

// MarshalJSON encodes the score as a JSON string.
func (s Score) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON accepts a JSON string or a bare integer literal.
func (s *Score) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*s = Score{}
		return nil
	}
	raw := string(b)
	if len(b) >= 2 && b[0] == '"' && b[len(b)-1] == '"' {
		raw = string(b[1 : len(b)-1])
	}
	parsed, err := ParseScore(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Scan implements sql.Scanner. Scores are stored as TEXT.
func (s *Score) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*s = Score{}
		return nil
	case string:
		parsed, err := ParseScore(v)
		if err != nil {
			return err
		}
		*s = parsed
		return nil
	case []byte:
		parsed, err := ParseScore(string(v))
		if err != nil {
			return err
		}
		*s = parsed
		return nil
	case int64:
		*s = NewScore(v)
		return nil
	default:
		return fmt.Errorf("%w: unsupported column type %T", ErrInvalidScore, src)
	}
}
