package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Result names what the simulator answers for a card.
type Result string

const (
	ResultApprove        Result = "approve"
	ResultDecline        Result = "decline"
	ResultCardError      Result = "card_error"
	ResultUnavailable    Result = "unavailable"
	ResultMalformed      Result = "malformed"
	ResultInvalidRequest Result = "invalid_request"
)

type Scenario struct {
	// Suffix is matched against the end of the card number.
	Suffix      string        `yaml:"suffix"`
	Result      Result        `yaml:"result"`
	DeclineCode string        `yaml:"decline_code"`
	Delay       time.Duration `yaml:"delay"`
}

type Scenarios struct {
	Default Scenario   `yaml:"default"`
	Cards   []Scenario `yaml:"cards"`
}

func DefaultScenarios() *Scenarios {
	return &Scenarios{
		Default: Scenario{Result: ResultApprove},
		Cards: []Scenario{
			{Suffix: "0002", Result: ResultCardError, DeclineCode: "generic_decline"},
			{Suffix: "9995", Result: ResultCardError, DeclineCode: "insufficient_funds"},
			{Suffix: "0341", Result: ResultDecline, DeclineCode: "do_not_honor"},
			{Suffix: "0119", Result: ResultUnavailable},
			{Suffix: "0127", Result: ResultMalformed},
		},
	}
}

func LoadScenarios(path string) (*Scenarios, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenarios: %w", err)
	}
	s := &Scenarios{Default: Scenario{Result: ResultApprove}}
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parsing scenarios: %w", err)
	}
	for _, c := range s.Cards {
		if c.Suffix == "" {
			return nil, fmt.Errorf("scenario with result %q has no suffix", c.Result)
		}
	}
	return s, nil
}

// For returns the scenario with the longest matching suffix.
func (s *Scenarios) For(pan string) Scenario {
	best := s.Default
	bestLen := -1
	for _, c := range s.Cards {
		if strings.HasSuffix(pan, c.Suffix) && len(c.Suffix) > bestLen {
			best, bestLen = c, len(c.Suffix)
		}
	}
	if best.Result == "" {
		best.Result = ResultApprove
	}
	return best
}
