// internal/command/vocabulary.go

// Package command holds the text tokens the peripheral firmware understands.
// Tokens are opaque to the link: they are sent verbatim followed by "\n".
package command

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"link-service/internal/config"
)

var ErrInvalidCommand = errors.New("invalid command")

// Validate reports ErrInvalidCommand for empty or multi-line tokens
func Validate(cmd string) error {
	if cmd == "" {
		return fmt.Errorf("%w: empty", ErrInvalidCommand)
	}
	if strings.ContainsAny(cmd, "\r\n") {
		return fmt.Errorf("%w: %q contains a line break", ErrInvalidCommand, cmd)
	}
	return nil
}

// Action is one token of an actuator
type Action struct {
	Name  string `json:"name"`
	Token string `json:"token"`
}

// Actuator groups the tokens of one controllable unit, e.g. Box1
type Actuator struct {
	Name    string   `json:"name"`
	Actions []Action `json:"actions"`
}

// Vocabulary is the ordered set of actuators
type Vocabulary struct {
	actuators []Actuator
	tokens    map[string]struct{}
}

// actionOrder keeps paired actions adjacent; unknown actions sort after.
var actionOrder = map[string]int{
	"led_on":  0,
	"led_off": 1,
	"on":      2,
	"off":     3,
	"open":    4,
	"close":   5,
}

// NewVocabulary builds a vocabulary from configured actuators
func NewVocabulary(actuators []config.ActuatorConfig) (*Vocabulary, error) {
	v := &Vocabulary{tokens: make(map[string]struct{})}
	seen := make(map[string]bool, len(actuators))

	for _, a := range actuators {
		if a.Actuator == "" {
			return nil, errors.New("actuator name is required")
		}
		if seen[a.Actuator] {
			return nil, fmt.Errorf("actuator %s listed twice", a.Actuator)
		}
		seen[a.Actuator] = true

		act := Actuator{Name: a.Actuator}
		for name, token := range a.Tokens {
			if err := Validate(token); err != nil {
				return nil, fmt.Errorf("actuator %s action %s: %w", a.Actuator, name, err)
			}
			act.Actions = append(act.Actions, Action{Name: name, Token: token})
			v.tokens[token] = struct{}{}
		}
		sort.Slice(act.Actions, func(i, j int) bool {
			return lessAction(act.Actions[i].Name, act.Actions[j].Name)
		})
		v.actuators = append(v.actuators, act)
	}

	return v, nil
}

func lessAction(a, b string) bool {
	ra, okA := actionOrder[a]
	rb, okB := actionOrder[b]
	switch {
	case okA && okB:
		return ra < rb
	case okA != okB:
		return okA
	}
	return a < b
}

// Actuators returns the actuators in configuration order
func (v *Vocabulary) Actuators() []Actuator {
	out := make([]Actuator, len(v.actuators))
	for i, a := range v.actuators {
		out[i] = Actuator{Name: a.Name, Actions: append([]Action(nil), a.Actions...)}
	}
	return out
}

// Token returns the token for actuator and action
func (v *Vocabulary) Token(actuator, action string) (string, bool) {
	for _, a := range v.actuators {
		if a.Name != actuator {
			continue
		}
		for _, act := range a.Actions {
			if act.Name == action {
				return act.Token, true
			}
		}
	}
	return "", false
}

// Known reports whether cmd is one of the configured tokens. The link
// accepts unknown tokens as well; this is for callers that want to warn.
func (v *Vocabulary) Known(cmd string) bool {
	_, ok := v.tokens[cmd]
	return ok
}

// Len returns the number of tokens
func (v *Vocabulary) Len() int {
	return len(v.tokens)
}
