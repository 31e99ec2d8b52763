// Package features holds the named toggle presets that decide which pipeline
// stages run. A preset is chosen once at startup and passed by value.
package features

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var ErrUnknownMode = errors.New("unknown feature mode")

const DefaultMode = "full"

type Config struct {
	name               string
	gating             bool
	answerBuilding     bool
	failureTaxonomy    bool
	decisionCard       bool
	offtopicReclassify bool
}

func (c Config) Name() string             { return c.name }
func (c Config) Gating() bool             { return c.gating }
func (c Config) AnswerBuilding() bool     { return c.answerBuilding }
func (c Config) FailureTaxonomy() bool    { return c.failureTaxonomy }
func (c Config) DecisionCard() bool       { return c.decisionCard }
func (c Config) OfftopicReclassify() bool { return c.offtopicReclassify }

// TrustGate reports whether the answer builder may rely on a gate having
// passed. Presets that build answers without gating run the builder in its
// untrusted mode.
func (c Config) TrustGate() bool { return c.gating }

var presets = map[string]Config{
	"retrieval": {name: "retrieval"},
	"gated": {
		name:           "gated",
		gating:         true,
		answerBuilding: true,
	},
	"full": {
		name:               "full",
		gating:             true,
		answerBuilding:     true,
		failureTaxonomy:    true,
		decisionCard:       true,
		offtopicReclassify: true,
	},
	"ungated": {
		name:           "ungated",
		answerBuilding: true,
		decisionCard:   true,
	},
}

// FromName returns the preset registered under name, ignoring case and
// surrounding space. An empty name selects DefaultMode.
func FromName(name string) (Config, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = DefaultMode
	}
	c, ok := presets[name]
	if !ok {
		return Config{}, fmt.Errorf("%w: %q (known: %v)", ErrUnknownMode, name, Names())
	}
	return c, nil
}

func MustFromName(name string) Config {
	c, err := FromName(name)
	if err != nil {
		panic(err)
	}
	return c
}

func Names() []string {
	out := make([]string, 0, len(presets))
	for n := range presets {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
