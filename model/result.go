package model

import "time"

// RuleResult is the outcome of evaluating a single Rule.
type RuleResult struct {
	RuleID    string
	Triggered bool
	Message   string
	Severity  Severity
	StageKey  string
	Error     error
	Started   time.Time
	Duration  time.Duration
}

// GroupResult is the outcome of evaluating a RuleGroup.
type GroupResult struct {
	GroupID      string
	Triggered    bool
	Severity     Severity
	Evaluated    int
	Passed       int
	Failed       int
	PassedRules  []string
	FailedRules  []string
	MemberResults []RuleResult // populated only when Debug is on
}

// ChainResult is the outcome of executing a RuleChain.
type ChainResult struct {
	ChainID        string
	Success        bool
	FinalOutcome   any
	StageResults   map[string]RuleResult
	ExecutionPath  []string
	Errors         map[string]error
	// SkippedRuleIDs names rules a pattern considered but did not run,
	// e.g. accumulation rules a selection strategy excluded (spec §4.8
	// Pattern 4 step 4: "record selected/skipped ids").
	SkippedRuleIDs []string
}

// ScenarioResult is the outcome of Orchestration Facade's run-scenario.
type ScenarioResult struct {
	ScenarioID     string
	Matched        bool
	RuleResults    []RuleResult
	EnrichedFacts  map[string]any
}
