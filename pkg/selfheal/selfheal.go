// Package selfheal suggests how to recover from a logical node error.
package selfheal

import (
	"context"
	"strings"
	"time"
)

type Action string

const (
	ActionRetry  Action = "retry"
	ActionGiveUp Action = "give_up"
)

// Request describes the failed attempt.
type Request struct {
	NodeType string
	Error    string
	Config   map[string]any
	Attempt  int
}

// Strategy is the advice for the next attempt. ConfigPatch keys are merged
// into the node config before retrying.
type Strategy struct {
	Action      Action
	Delay       time.Duration
	ConfigPatch map[string]any
	Reason      string
}

type Advisor interface {
	Advise(ctx context.Context, req Request) Strategy
}

// Rule matches errors by substring and produces a strategy.
type Rule struct {
	Name     string
	Matches  []string
	Strategy func(req Request) Strategy
}

// RuleAdvisor evaluates rules in order; the first match wins. Unmatched
// errors are retried without delay.
type RuleAdvisor struct {
	rules []Rule
}

func NewRuleAdvisor(rules ...Rule) *RuleAdvisor {
	return &RuleAdvisor{rules: rules}
}

// NewDefaultAdvisor returns the built-in rules. unit scales suggested delays.
func NewDefaultAdvisor(unit time.Duration, maxTimeout time.Duration) *RuleAdvisor {
	return NewRuleAdvisor(
		Rule{
			Name:    "credentials",
			Matches: []string{"401", "403", "unauthorized", "forbidden", "invalid api key", "invalid credentials"},
			Strategy: func(Request) Strategy {
				return Strategy{Action: ActionGiveUp, Reason: "credentials rejected"}
			},
		},
		Rule{
			Name:    "not_found",
			Matches: []string{"404", "not found"},
			Strategy: func(Request) Strategy {
				return Strategy{Action: ActionGiveUp, Reason: "resource does not exist"}
			},
		},
		Rule{
			Name:    "rate_limited",
			Matches: []string{"429", "rate limit", "too many requests", "quota"},
			Strategy: func(req Request) Strategy {
				return Strategy{
					Action: ActionRetry,
					Delay:  unit * time.Duration(5*(req.Attempt+1)),
					Reason: "upstream rate limited",
				}
			},
		},
		Rule{
			Name:    "slow_upstream",
			Matches: []string{"timeout", "timed out", "deadline exceeded", "504"},
			Strategy: func(req Request) Strategy {
				return Strategy{
					Action:      ActionRetry,
					Delay:       unit,
					ConfigPatch: map[string]any{"timeout": raiseTimeout(req.Config, maxTimeout)},
					Reason:      "upstream too slow, raising timeout",
				}
			},
		},
	)
}

func (a *RuleAdvisor) Advise(_ context.Context, req Request) Strategy {
	message := strings.ToLower(req.Error)

	for _, rule := range a.rules {
		for _, match := range rule.Matches {
			if strings.Contains(message, match) {
				strategy := rule.Strategy(req)
				if strategy.Reason == "" {
					strategy.Reason = rule.Name
				}

				return strategy
			}
		}
	}

	return Strategy{Action: ActionRetry, Reason: "transient"}
}

// raiseTimeout doubles the "timeout" of config in seconds, up to maxTimeout.
func raiseTimeout(config map[string]any, maxTimeout time.Duration) float64 {
	current := 30.0

	switch v := config["timeout"].(type) {
	case int:
		current = float64(v)
	case float64:
		current = v
	}

	return min(current*2, maxTimeout.Seconds())
}
