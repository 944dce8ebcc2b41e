package analysis

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/brockf/manybabies-analysis/pkg/config"
	"github.com/brockf/manybabies-analysis/pkg/lmm"
	"github.com/brockf/manybabies-analysis/pkg/stats"
	"github.com/brockf/manybabies-analysis/pkg/study"
)

// Runner executes the full pipeline: simulate, clean, aggregate, then the
// fixed confirmatory analysis sequence. Every analysis is independent;
// convergence problems are recorded on the results and the sequence
// continues. Only configuration errors and an empty post-cleaning dataset
// abort the run.
type Runner struct {
	cfg     *config.Config
	logger  *zap.Logger
	fitter  *lmm.Fitter
	metrics *PipelineMetrics
}

// NewRunner builds a runner over a validated configuration.
func NewRunner(cfg *config.Config, logger *zap.Logger) *Runner {
	return &Runner{
		cfg:     cfg,
		logger:  logger,
		fitter:  lmm.NewFitter(logger),
		metrics: NewPipelineMetrics(),
	}
}

// Run executes the pipeline once.
func (r *Runner) Run(ctx context.Context) (*RunResults, error) {
	if err := r.cfg.Validate(); err != nil {
		return nil, err
	}

	results := &RunResults{
		RunID:     uuid.NewString(),
		StartedAt: time.Now(),
		Config:    r.cfg,
	}
	r.logger.Info("Starting analysis run", zap.String("runId", results.RunID))

	// Simulate.
	simulator := study.NewSimulator(r.cfg.Simulation, r.logger)
	trials, err := simulator.Simulate()
	if err != nil {
		return nil, err
	}
	r.metrics.ObserveSimulated(len(trials))

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Clean.
	cleaner, err := study.NewCleaner(r.cfg.Cleaning, r.logger)
	if err != nil {
		return nil, err
	}
	cleaned, cleaningReport, err := cleaner.Clean(trials)
	if err != nil {
		return nil, err
	}
	results.Cleaning = cleaningReport
	r.metrics.ObserveExclusion("short_trial", cleaningReport.ShortTrialsRemoved, 0)
	r.metrics.ObserveExclusion("outlier", cleaningReport.OutlierTrialsRemoved, cleaningReport.OutlierSubjects)
	r.metrics.ObserveExclusion("low_count", cleaningReport.LowCountTrialsRemoved, cleaningReport.LowCountSubjects)
	if cleaningReport.DegenerateVariance {
		results.Warnings = append(results.Warnings, "outlier filter saw zero variance across subject means; nobody excluded")
	}

	// Aggregate and pair.
	aggregator := study.NewAggregator(r.logger)
	aggregates := aggregator.Aggregate(cleaned)
	paired, unpaired := aggregator.Pair(aggregates)
	results.Subjects = len(paired)
	results.UnpairedSubjects = unpaired
	if len(paired) == 0 {
		return nil, fmt.Errorf("no paired subjects after aggregation (aggregate rows %d)", len(aggregates))
	}

	results.ConditionDescriptives = describeConditions(aggregates)
	results.AgeByMethod = ageByMethodHistogram(paired)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Paired preference test.
	diffs := make([]float64, len(paired))
	for i, p := range paired {
		diffs[i] = p.Diff
	}
	preference, err := stats.OneSampleT(diffs)
	if err != nil {
		r.reportFailure(results, "preference test", err)
	} else {
		results.Preference = preference
	}

	// Mixed-model sequence over the aggregates.
	agg := newAggregateData(aggregates)
	results.Condition = r.runConditionModel(agg)
	r.runAgeModels(agg, results)
	results.TrialOrder = r.runTrialOrderModel(cleaned)
	results.Moderators = r.runModerators(agg)

	results.Warnings = append(results.Warnings, results.ConvergenceWarnings()...)

	diagnostics, err := r.metrics.Gather()
	if err != nil {
		r.logger.Warn("Diagnostics unavailable", zap.Error(err))
	} else {
		results.Diagnostics = diagnostics
	}

	results.CompletedAt = time.Now()
	r.logger.Info("Analysis run completed",
		zap.String("runId", results.RunID),
		zap.Int("subjects", results.Subjects),
		zap.Int("warnings", len(results.Warnings)),
		zap.Duration("elapsed", results.CompletedAt.Sub(results.StartedAt)))

	return results, nil
}

// aggregateData holds the aggregate rows together with their centered
// predictors, shared by every aggregate-level model.
type aggregateData struct {
	rows       []study.SubjectAggregate
	response   []float64
	conditionC []float64
	ageC       []float64
	labs       []string
	subjects   []string
}

func newAggregateData(rows []study.SubjectAggregate) *aggregateData {
	d := &aggregateData{rows: rows}
	n := len(rows)
	d.response = make([]float64, n)
	coded := make([]float64, n)
	ages := make([]float64, n)
	d.labs = make([]string, n)
	d.subjects = make([]string, n)
	for i, row := range rows {
		d.response[i] = row.MeanLogLT
		if row.Condition == study.IDS {
			coded[i] = 0.5
		} else {
			coded[i] = -0.5
		}
		ages[i] = row.Age
		d.labs[i] = row.Lab
		d.subjects[i] = row.Subject
	}
	d.conditionC, _ = stats.Center(coded)
	d.ageC, _ = stats.Center(ages)
	return d
}

func (d *aggregateData) labTerm(slopeNames []string, slopes [][]float64) lmm.RandomTerm {
	return lmm.RandomTerm{Group: "Lab", Values: d.labs, SlopeNames: slopeNames, Slopes: slopes}
}

func (d *aggregateData) subjectTerm() lmm.RandomTerm {
	return lmm.RandomTerm{Group: "Subject", Values: d.subjects}
}

// runConditionModel fits the headline IDS-preference model: mean log looking
// time on centered condition, condition varying by lab, intercept by
// subject, with a drop1 test of the condition term.
func (r *Runner) runConditionModel(d *aggregateData) *ModelAnalysis {
	out := &ModelAnalysis{Name: "condition", Term: "ConditionC"}

	design := lmm.NewDesign(len(d.rows)).Intercept()
	if err := design.Add("ConditionC", d.conditionC); err != nil {
		out.Warnings = append(out.Warnings, err.Error())
		return out
	}
	spec := lmm.Spec{
		Name:     "MeanLogLT ~ ConditionC + (ConditionC | Lab) + (1 | Subject)",
		Response: d.response,
		Fixed:    design,
		Random: []lmm.RandomTerm{
			d.labTerm([]string{"ConditionC"}, [][]float64{d.conditionC}),
			d.subjectTerm(),
		},
	}

	fit, err := r.fitter.Fit(spec)
	if err != nil {
		out.Warnings = append(out.Warnings, err.Error())
		r.logger.Warn("Condition model failed", zap.Error(err))
		return out
	}
	r.metrics.ObserveFit(fit.Converged)
	out.Fit = fit

	lrt, reduced, err := r.fitter.Drop1(spec, fit, "ConditionC")
	if err != nil {
		out.Warnings = append(out.Warnings, err.Error())
		return out
	}
	r.metrics.ObserveFit(reduced.Converged)
	out.Drop1 = lrt
	return out
}

// runAgeModels fits the age ladder: linear condition-by-age interaction,
// then quadratic and cubic age terms, each compared against the previous
// degree by likelihood ratio. All three share one random structure so the
// comparisons stay nested.
func (r *Runner) runAgeModels(d *aggregateData, results *RunResults) {
	n := len(d.rows)
	age2 := lmm.Product(d.ageC, d.ageC)
	age3 := lmm.Product(age2, d.ageC)

	random := []lmm.RandomTerm{
		d.labTerm([]string{"ConditionC", "AgeC"}, [][]float64{d.conditionC, d.ageC}),
		d.subjectTerm(),
	}

	buildLinear := func() (*lmm.Design, error) {
		design := lmm.NewDesign(n).Intercept()
		if err := design.Add("ConditionC", d.conditionC); err != nil {
			return nil, err
		}
		if err := design.Add("AgeC", d.ageC); err != nil {
			return nil, err
		}
		if err := design.Add("ConditionC:AgeC", lmm.Product(d.conditionC, d.ageC)); err != nil {
			return nil, err
		}
		return design, nil
	}

	out := &ModelAnalysis{Name: "condition_by_age", Term: "ConditionC:AgeC"}
	results.ConditionByAge = out

	linearDesign, err := buildLinear()
	if err != nil {
		out.Warnings = append(out.Warnings, err.Error())
		return
	}
	linearSpec := lmm.Spec{
		Name:     "MeanLogLT ~ ConditionC * AgeC + (ConditionC + AgeC | Lab) + (1 | Subject)",
		Response: d.response,
		Fixed:    linearDesign,
		Random:   random,
	}
	linear, err := r.fitter.Fit(linearSpec)
	if err != nil {
		out.Warnings = append(out.Warnings, err.Error())
		r.logger.Warn("Age model failed", zap.Error(err))
		return
	}
	r.metrics.ObserveFit(linear.Converged)
	out.Fit = linear

	if lrt, reduced, err := r.fitter.Drop1(linearSpec, linear, "ConditionC:AgeC"); err != nil {
		out.Warnings = append(out.Warnings, err.Error())
	} else {
		r.metrics.ObserveFit(reduced.Converged)
		out.Drop1 = lrt
	}

	// Quadratic degree.
	quadDesign, err := buildLinear()
	if err == nil {
		err = quadDesign.Add("AgeC^2", age2)
	}
	if err == nil {
		err = quadDesign.Add("ConditionC:AgeC^2", lmm.Product(d.conditionC, age2))
	}
	if err != nil {
		results.AgeQuadratic = &ComparisonAnalysis{Name: "age_quadratic", Warnings: []string{err.Error()}}
		return
	}
	quadSpec := lmm.Spec{
		Name:     "MeanLogLT ~ ConditionC * (AgeC + AgeC^2) + (ConditionC + AgeC | Lab) + (1 | Subject)",
		Response: d.response,
		Fixed:    quadDesign,
		Random:   random,
	}
	quad := r.compareDegrees("age_quadratic", quadSpec, linear, results)

	// Cubic degree, only meaningful against a fitted quadratic.
	if quad == nil {
		return
	}
	cubicDesign, err := buildLinear()
	if err == nil {
		err = cubicDesign.Add("AgeC^2", age2)
	}
	if err == nil {
		err = cubicDesign.Add("ConditionC:AgeC^2", lmm.Product(d.conditionC, age2))
	}
	if err == nil {
		err = cubicDesign.Add("AgeC^3", age3)
	}
	if err == nil {
		err = cubicDesign.Add("ConditionC:AgeC^3", lmm.Product(d.conditionC, age3))
	}
	if err != nil {
		results.AgeCubic = &ComparisonAnalysis{Name: "age_cubic", Warnings: []string{err.Error()}}
		return
	}
	cubicSpec := lmm.Spec{
		Name:     "MeanLogLT ~ ConditionC * (AgeC + AgeC^2 + AgeC^3) + (ConditionC + AgeC | Lab) + (1 | Subject)",
		Response: d.response,
		Fixed:    cubicDesign,
		Random:   random,
	}
	r.compareDegrees("age_cubic", cubicSpec, quad, results)
}

// compareDegrees fits the fuller polynomial model and tests it against the
// previous degree.
func (r *Runner) compareDegrees(name string, spec lmm.Spec, previous *lmm.Fit, results *RunResults) *lmm.Fit {
	out := &ComparisonAnalysis{Name: name}
	switch name {
	case "age_quadratic":
		results.AgeQuadratic = out
	case "age_cubic":
		results.AgeCubic = out
	}

	fit, err := r.fitter.Fit(spec)
	if err != nil {
		out.Warnings = append(out.Warnings, err.Error())
		r.logger.Warn("Polynomial age model failed", zap.String("model", name), zap.Error(err))
		return nil
	}
	r.metrics.ObserveFit(fit.Converged)
	out.Fit = fit

	lrt, err := lmm.LikelihoodRatio(fit, previous)
	if err != nil {
		out.Warnings = append(out.Warnings, err.Error())
		return fit
	}
	out.LRT = lrt
	return fit
}

// runTrialOrderModel fits the trial-level habituation model: log looking
// time on condition, trial order, and their interaction, with trial-order
// slopes by lab and by subject.
func (r *Runner) runTrialOrderModel(cleaned []study.Trial) *ModelAnalysis {
	out := &ModelAnalysis{Name: "trial_order", Term: "ConditionC:TrialC"}

	n := len(cleaned)
	response := make([]float64, n)
	coded := make([]float64, n)
	trialNum := make([]float64, n)
	labs := make([]string, n)
	subjects := make([]string, n)
	for i, t := range cleaned {
		response[i] = math.Log(t.LT)
		if t.Condition == study.IDS {
			coded[i] = 0.5
		} else {
			coded[i] = -0.5
		}
		trialNum[i] = float64(t.Trial)
		labs[i] = t.Lab
		subjects[i] = t.Subject
	}
	conditionC, _ := stats.Center(coded)
	trialC, _ := stats.Center(trialNum)

	design := lmm.NewDesign(n).Intercept()
	err := design.Add("ConditionC", conditionC)
	if err == nil {
		err = design.Add("TrialC", trialC)
	}
	if err == nil {
		err = design.Add("ConditionC:TrialC", lmm.Product(conditionC, trialC))
	}
	if err != nil {
		out.Warnings = append(out.Warnings, err.Error())
		return out
	}

	spec := lmm.Spec{
		Name:     "LogLT ~ ConditionC * TrialC + (ConditionC + TrialC | Lab) + (TrialC | Subject)",
		Response: response,
		Fixed:    design,
		Random: []lmm.RandomTerm{
			{Group: "Lab", Values: labs, SlopeNames: []string{"ConditionC", "TrialC"}, Slopes: [][]float64{conditionC, trialC}},
			{Group: "Subject", Values: subjects, SlopeNames: []string{"TrialC"}, Slopes: [][]float64{trialC}},
		},
	}

	fit, err := r.fitter.Fit(spec)
	if err != nil {
		out.Warnings = append(out.Warnings, err.Error())
		r.logger.Warn("Trial-order model failed", zap.Error(err))
		return out
	}
	r.metrics.ObserveFit(fit.Converged)
	out.Fit = fit

	if lrt, reduced, err := r.fitter.Drop1(spec, fit, "ConditionC:TrialC"); err != nil {
		out.Warnings = append(out.Warnings, err.Error())
	} else {
		r.metrics.ObserveFit(reduced.Converged)
		out.Drop1 = lrt
	}
	return out
}

// moderatorColumn names one moderator and how to read it off an aggregate
// row.
type moderatorColumn struct {
	name  string
	value func(study.SubjectAggregate) string
}

func moderatorColumns() []moderatorColumn {
	return []moderatorColumn{
		{"Method", func(a study.SubjectAggregate) string { return string(a.Method) }},
		{"Session", func(a study.SubjectAggregate) string { return a.Session }},
		{"Language", func(a study.SubjectAggregate) string { return a.Language }},
		{"Bilingual", func(a study.SubjectAggregate) string { return a.Bilingual }},
	}
}

// runModerators tests each moderator against a shared no-moderator base
// model with the same random structure, and extracts the per-level condition
// trends from the full model.
func (r *Runner) runModerators(d *aggregateData) []*ModeratorAnalysis {
	n := len(d.rows)
	random := []lmm.RandomTerm{
		d.labTerm([]string{"ConditionC"}, [][]float64{d.conditionC}),
		d.subjectTerm(),
	}
	conditionByAge := lmm.Product(d.conditionC, d.ageC)

	buildBase := func() (*lmm.Design, error) {
		design := lmm.NewDesign(n).Intercept()
		if err := design.Add("ConditionC", d.conditionC); err != nil {
			return nil, err
		}
		if err := design.Add("AgeC", d.ageC); err != nil {
			return nil, err
		}
		if err := design.Add("ConditionC:AgeC", conditionByAge); err != nil {
			return nil, err
		}
		return design, nil
	}

	analyses := make([]*ModeratorAnalysis, 0, 4)

	baseDesign, err := buildBase()
	if err != nil {
		r.logger.Warn("Moderator base design failed", zap.Error(err))
		return analyses
	}
	baseSpec := lmm.Spec{
		Name:     "MeanLogLT ~ ConditionC * AgeC + (ConditionC | Lab) + (1 | Subject)",
		Response: d.response,
		Fixed:    baseDesign,
		Random:   random,
	}
	base, err := r.fitter.Fit(baseSpec)
	if err != nil {
		r.logger.Warn("Moderator base model failed", zap.Error(err))
		for _, col := range moderatorColumns() {
			analyses = append(analyses, &ModeratorAnalysis{
				Moderator: col.name,
				Skipped:   fmt.Sprintf("base model failed: %v", err),
			})
		}
		return analyses
	}
	r.metrics.ObserveFit(base.Converged)

	for _, col := range moderatorColumns() {
		analyses = append(analyses, r.runModerator(d, col, base, random, buildBase))
	}
	return analyses
}

func (r *Runner) runModerator(d *aggregateData, col moderatorColumn, base *lmm.Fit,
	random []lmm.RandomTerm, buildBase func() (*lmm.Design, error)) *ModeratorAnalysis {

	out := &ModeratorAnalysis{Moderator: col.name}

	values := make([]string, len(d.rows))
	for i, row := range d.rows {
		values[i] = col.value(row)
	}
	coding, err := lmm.SumCode(col.name, values)
	if err != nil {
		out.Skipped = err.Error()
		r.logger.Warn("Moderator skipped", zap.String("moderator", col.name), zap.Error(err))
		return out
	}
	out.Levels = coding.Levels()

	design, err := buildBase()
	if err == nil {
		err = design.AddFactor(coding)
	}
	if err == nil {
		err = design.AddInteraction("ConditionC", d.conditionC, coding)
	}
	if err == nil {
		err = design.AddInteraction("AgeC", d.ageC, coding)
	}
	if err == nil {
		err = design.AddInteraction("ConditionC:AgeC", lmm.Product(d.conditionC, d.ageC), coding)
	}
	if err != nil {
		out.Skipped = err.Error()
		return out
	}

	spec := lmm.Spec{
		Name:     fmt.Sprintf("MeanLogLT ~ ConditionC * AgeC * %s + (ConditionC | Lab) + (1 | Subject)", col.name),
		Response: d.response,
		Fixed:    design,
		Random:   random,
	}
	fit, err := r.fitter.Fit(spec)
	if err != nil {
		out.Skipped = fmt.Sprintf("fit failed: %v", err)
		r.logger.Warn("Moderator model failed", zap.String("moderator", col.name), zap.Error(err))
		return out
	}
	r.metrics.ObserveFit(fit.Converged)
	out.Fit = fit

	if lrt, err := lmm.LikelihoodRatio(fit, base); err != nil {
		out.Warnings = append(out.Warnings, err.Error())
	} else {
		out.LRT = lrt
	}

	if trends, err := fit.TrendsAt("ConditionC", coding); err != nil {
		out.Warnings = append(out.Warnings, err.Error())
	} else {
		out.Trends = trends
	}

	return out
}

// reportFailure records a non-fatal analysis failure.
func (r *Runner) reportFailure(results *RunResults, what string, err error) {
	r.logger.Warn("Analysis failed", zap.String("analysis", what), zap.Error(err))
	results.Warnings = append(results.Warnings, fmt.Sprintf("%s: %v", what, err))
}

// describeConditions summarizes mean log looking time per condition.
func describeConditions(aggregates []study.SubjectAggregate) map[string]stats.Descriptives {
	byCondition := make(map[string][]float64)
	for _, agg := range aggregates {
		key := string(agg.Condition)
		byCondition[key] = append(byCondition[key], agg.MeanLogLT)
	}
	out := make(map[string]stats.Descriptives, len(byCondition))
	for condition, values := range byCondition {
		out[condition] = stats.Describe(values)
	}
	return out
}

// ageByMethodHistogram bins subject ages faceted by lab method.
func ageByMethodHistogram(paired []study.PairedSubject) *FacetedHistogram {
	ages := make([]float64, len(paired))
	methods := make([]string, len(paired))
	for i, p := range paired {
		ages[i] = p.Age
		methods[i] = string(p.Method)
	}
	return NewFacetedHistogram("Age", "Method", ages, methods, 10)
}
