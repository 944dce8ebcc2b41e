// Package analysis orchestrates the confirmatory analysis sequence over the
// simulated multi-lab dataset and renders the results into a report.
package analysis

import (
	"time"

	"github.com/brockf/manybabies-analysis/pkg/config"
	"github.com/brockf/manybabies-analysis/pkg/lmm"
	"github.com/brockf/manybabies-analysis/pkg/stats"
	"github.com/brockf/manybabies-analysis/pkg/study"
)

// ModelAnalysis is one fitted model together with the single-term deletion
// test of its term of interest.
type ModelAnalysis struct {
	Name     string         `json:"name"`
	Term     string         `json:"term"` // the tested fixed effect
	Fit      *lmm.Fit       `json:"fit"`
	Drop1    *lmm.LRTResult `json:"drop1,omitempty"`
	Warnings []string       `json:"warnings,omitempty"`
}

// ComparisonAnalysis is an explicit two-model likelihood-ratio comparison,
// used for the age polynomial ladder.
type ComparisonAnalysis struct {
	Name     string         `json:"name"`
	Fit      *lmm.Fit       `json:"fit"` // the fuller model
	LRT      *lmm.LRTResult `json:"lrt"`
	Warnings []string       `json:"warnings,omitempty"`
}

// ModeratorAnalysis tests whether one categorical covariate changes the
// condition effect, with per-level post-hoc trends.
type ModeratorAnalysis struct {
	Moderator string         `json:"moderator"`
	Levels    []string       `json:"levels"`
	Fit       *lmm.Fit       `json:"fit"`
	LRT       *lmm.LRTResult `json:"lrt"` // against the no-moderator model
	Trends    []lmm.Trend    `json:"trends"`
	Skipped   string         `json:"skipped,omitempty"` // reason, when the moderator could not be tested
	Warnings  []string       `json:"warnings,omitempty"`
}

// RunResults is everything one pipeline run produced.
type RunResults struct {
	RunID       string    `json:"runId"`
	StartedAt   time.Time `json:"startedAt"`
	CompletedAt time.Time `json:"completedAt"`

	Config *config.Config `json:"config"`

	Cleaning         *study.CleaningReport `json:"cleaning"`
	Subjects         int                   `json:"subjects"` // paired subjects entering analysis
	UnpairedSubjects int                   `json:"unpairedSubjects"`

	ConditionDescriptives map[string]stats.Descriptives `json:"conditionDescriptives"`
	AgeByMethod           *FacetedHistogram             `json:"ageByMethod"`

	Preference     *stats.TTestResult   `json:"preference"` // paired Diff vs 0
	Condition      *ModelAnalysis       `json:"condition"`
	ConditionByAge *ModelAnalysis       `json:"conditionByAge"`
	AgeQuadratic   *ComparisonAnalysis  `json:"ageQuadratic"`
	AgeCubic       *ComparisonAnalysis  `json:"ageCubic"`
	TrialOrder     *ModelAnalysis       `json:"trialOrder"`
	Moderators     []*ModeratorAnalysis `json:"moderators"`

	Diagnostics []MetricSample `json:"diagnostics"`
	Warnings    []string       `json:"warnings,omitempty"`
}

// ConvergenceWarnings collects the convergence messages across every fitted
// model, in analysis order.
func (r *RunResults) ConvergenceWarnings() []string {
	var out []string
	add := func(fit *lmm.Fit) {
		if fit != nil && !fit.Converged {
			out = append(out, fit.Name+": "+fit.Message)
		}
	}
	if r.Condition != nil {
		add(r.Condition.Fit)
	}
	if r.ConditionByAge != nil {
		add(r.ConditionByAge.Fit)
	}
	if r.AgeQuadratic != nil {
		add(r.AgeQuadratic.Fit)
	}
	if r.AgeCubic != nil {
		add(r.AgeCubic.Fit)
	}
	if r.TrialOrder != nil {
		add(r.TrialOrder.Fit)
	}
	for _, m := range r.Moderators {
		add(m.Fit)
	}
	return out
}
