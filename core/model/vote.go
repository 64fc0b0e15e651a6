package model

import (
	"fmt"
	"strings"
)

// Vote is the verdict of a condition. Votes are ordered Fail < Maybe < Pass.
type Vote int

const (
	Fail  Vote = -1
	Maybe Vote = 0
	Pass  Vote = 1
)

func (v Vote) String() string {
	switch v {
	case Fail:
		return "Fail"
	case Maybe:
		return "Maybe"
	case Pass:
		return "Pass"
	default:
		return fmt.Sprintf("Vote(%d)", int(v))
	}
}

// ParseVote accepts the vote names case-insensitively, as well as -1, 0 and 1.
func ParseVote(s string) (Vote, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fail", "-1":
		return Fail, nil
	case "maybe", "0":
		return Maybe, nil
	case "pass", "1":
		return Pass, nil
	}
	return 0, fmt.Errorf("unknown vote %q", s)
}

// MarshalText encodes the vote by name.
func (v Vote) MarshalText() ([]byte, error) {
	return []byte(strings.ToLower(v.String())), nil
}

// UnmarshalText decodes a vote name.
func (v *Vote) UnmarshalText(b []byte) error {
	parsed, err := ParseVote(string(b))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// Factor is the evaluation of one condition. A nil Vote means the condition
// could not be evaluated (indeterminate).
type Factor struct {
	Condition string `json:"condition"`
	Vote      *Vote  `json:"vote"`
	Inherited bool   `json:"inherited"`
}

// Voted returns a fresh factor carrying v.
func Voted(condition string, v Vote) Factor {
	return Factor{Condition: condition, Vote: &v}
}

// Indeterminate returns a factor without a vote.
func Indeterminate(condition string) Factor {
	return Factor{Condition: condition}
}

// Determinate reports whether the factor carries a vote.
func (f Factor) Determinate() bool { return f.Vote != nil }

// Label is the display name of the factor's vote, "Error" when indeterminate.
func (f Factor) Label() string {
	if f.Vote == nil {
		return "Error"
	}
	return f.Vote.String()
}

// Fold combines an earlier factor a with a later factor b. The later factor
// wins unless it is indeterminate, in which case a is carried forward and
// marked inherited. Fold is not commutative.
func Fold(a, b Factor) Factor {
	if b.Vote == nil {
		a.Inherited = true
		return a
	}
	return b
}

// Conclude returns the minimum vote over factors, counting indeterminate
// factors as Fail. An empty list concludes Pass.
func Conclude(factors []Factor) Vote {
	conclusion := Pass
	for _, f := range factors {
		v := Fail
		if f.Vote != nil {
			v = *f.Vote
		}
		if v < conclusion {
			conclusion = v
		}
	}
	return conclusion
}
