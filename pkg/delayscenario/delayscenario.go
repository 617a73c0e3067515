// Package delayscenario synthesizes the timetable perturbations (delay
// scenarios) that the builder probes in order to discover transfer-
// pattern arcs that only appear once a trip pattern runs late.
package delayscenario

import (
	"math/rand"

	"github.com/expr-lang/expr"

	"github.com/gridhop/transferpatterns/pkg/config"
	"github.com/gridhop/transferpatterns/pkg/tpmodel"
)

// CandidateDelay is one trip pattern eligible to be perturbed, paired
// with the delay magnitude (in seconds) to probe it with.
type CandidateDelay struct {
	TripPattern  *tpmodel.TripPattern
	MinDelaySecs int
}

// Builder synthesizes DelayScenarios from a set of candidate delays
// according to a DelayPolicy.
type Builder struct {
	Policy      config.DelayPolicy
	RestrictedK int

	// EligibilityExpr is an expr-lang/expr boolean expression evaluated
	// against each candidate (exposed as `pattern`, with fields `Code`
	// and `StopCount`) to decide whether it may be perturbed at all. An
	// empty expression accepts every candidate.
	EligibilityExpr string

	rand *rand.Rand
}

// NewBuilder constructs a Builder from cfg. seed lets tests make
// RestrictedSimple's sampling deterministic.
func NewBuilder(cfg config.DelayScenarioConfig, seed int64) *Builder {
	return &Builder{
		Policy:          cfg.Policy,
		RestrictedK:     cfg.RestrictedK,
		EligibilityExpr: cfg.EligibilityExpr,
		rand:            rand.New(rand.NewSource(seed)),
	}
}

// Build returns every DelayScenario this builder's policy generates from
// candidates, after filtering candidates through EligibilityExpr.
func (b *Builder) Build(candidates []CandidateDelay) ([]*tpmodel.DelayScenario, error) {
	eligible, err := b.filterEligible(candidates)
	if err != nil {
		return nil, err
	}

	switch b.Policy {
	case config.DelayPolicyNone, "":
		return nil, nil
	case config.DelayPolicySimple:
		return b.simple(eligible), nil
	case config.DelayPolicyRestrictedSimple:
		return b.restrictedSimple(eligible), nil
	case config.DelayPolicyPowerSet:
		return b.powerSet(eligible), nil
	default:
		return nil, &unknownPolicyError{policy: b.Policy}
	}
}

func (b *Builder) filterEligible(candidates []CandidateDelay) ([]CandidateDelay, error) {
	if b.EligibilityExpr == "" {
		return candidates, nil
	}

	program, err := expr.Compile(b.EligibilityExpr, expr.AsBool())
	if err != nil {
		return nil, err
	}

	var eligible []CandidateDelay
	for _, c := range candidates {
		env := map[string]any{
			"pattern": map[string]any{
				"Code":      c.TripPattern.Code,
				"StopCount": len(c.TripPattern.Stops),
			},
		}

		output, err := expr.Run(program, env)
		if err != nil {
			return nil, err
		}

		if output.(bool) {
			eligible = append(eligible, c)
		}
	}

	return eligible, nil
}

// simple builds one scenario per candidate: a single delayed trip
// pattern (mirrors SimpleDelayBuilder).
func (b *Builder) simple(candidates []CandidateDelay) []*tpmodel.DelayScenario {
	scenarios := make([]*tpmodel.DelayScenario, 0, len(candidates))
	for _, c := range candidates {
		scenarios = append(scenarios, singleScenario(c))
	}
	return scenarios
}

// restrictedSimple builds the same scenarios as simple, but caps the
// count at RestrictedK by random sampling without replacement (mirrors
// RestrictedSimpleDelayBuilder).
func (b *Builder) restrictedSimple(candidates []CandidateDelay) []*tpmodel.DelayScenario {
	scenarios := b.simple(candidates)

	if b.RestrictedK <= 0 || len(scenarios) <= b.RestrictedK {
		return scenarios
	}

	b.rand.Shuffle(len(scenarios), func(i, j int) {
		scenarios[i], scenarios[j] = scenarios[j], scenarios[i]
	})

	return scenarios[:b.RestrictedK]
}

// powerSet builds one scenario per non-empty subset of candidates of
// size 1..RestrictedK (mirrors PowerSetDelayBuilder).
func (b *Builder) powerSet(candidates []CandidateDelay) []*tpmodel.DelayScenario {
	maxItems := b.RestrictedK
	if maxItems <= 0 || maxItems > len(candidates) {
		maxItems = len(candidates)
	}

	var scenarios []*tpmodel.DelayScenario

	var recurse func(start int, chosen []CandidateDelay)
	recurse = func(start int, chosen []CandidateDelay) {
		if len(chosen) > 0 {
			scenarios = append(scenarios, scenarioFrom(chosen))
		}
		if len(chosen) == maxItems {
			return
		}
		for i := start; i < len(candidates); i++ {
			recurse(i+1, append(chosen, candidates[i]))
		}
	}

	recurse(0, nil)

	return scenarios
}

func singleScenario(c CandidateDelay) *tpmodel.DelayScenario {
	return scenarioFrom([]CandidateDelay{c})
}

func scenarioFrom(candidates []CandidateDelay) *tpmodel.DelayScenario {
	entries := make([]tpmodel.DelayScenarioEntry, 0, len(candidates))
	for _, c := range candidates {
		entries = append(entries, tpmodel.DelayScenarioEntry{
			TripPattern:  c.TripPattern,
			MinDelaySecs: c.MinDelaySecs,
		})
	}

	scenario, err := tpmodel.NewDelayScenario(entries)
	if err != nil {
		// Every candidate is validated to have MinDelaySecs > 0 by its
		// caller (builder.Orchestrator), so this can't happen in
		// practice; surfacing a zero-value scenario here would hide a
		// real bug instead.
		panic(err)
	}

	return scenario
}

type unknownPolicyError struct {
	policy config.DelayPolicy
}

func (e *unknownPolicyError) Error() string {
	return "delayscenario: unknown policy " + string(e.policy)
}
