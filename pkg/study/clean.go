package study

import (
	"fmt"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"
)

// CleaningConfig holds the exclusion-rule parameters.
type CleaningConfig struct {
	ZThreshold       float64 `json:"zThreshold" yaml:"z_threshold" validate:"gt=0"`
	MinTrialsPerType int     `json:"minTrialsPerType" yaml:"min_trials_per_type" validate:"gt=0"`
}

// DefaultCleaningConfig returns the preregistered exclusion parameters.
func DefaultCleaningConfig() CleaningConfig {
	return CleaningConfig{ZThreshold: 2, MinTrialsPerType: 4}
}

// MinLookingTime is the shortest looking time counted as a valid trial.
const MinLookingTime = 2.0

// CleaningReport records what each filter removed.
type CleaningReport struct {
	InputTrials           int  `json:"inputTrials"`
	ShortTrialsRemoved    int  `json:"shortTrialsRemoved"`   // filter 1: LT below minimum
	OutlierSubjects       int  `json:"outlierSubjects"`      // filter 2: |z| >= threshold
	OutlierTrialsRemoved  int  `json:"outlierTrialsRemoved"` // trials of outlier subjects
	LowCountSubjects      int  `json:"lowCountSubjects"`     // filter 3: too few trials per condition
	LowCountTrialsRemoved int  `json:"lowCountTrialsRemoved"`
	OutputTrials          int  `json:"outputTrials"`
	DegenerateVariance    bool `json:"degenerateVariance"` // zero SD across subject means; nobody excluded by filter 2
}

// Cleaner applies the preregistered trial- and subject-level exclusion rules.
// Filters run in a fixed order and each recomputes its statistics over the
// set surviving the previous one.
type Cleaner struct {
	config CleaningConfig
	logger *zap.Logger
}

// NewCleaner validates the configuration and builds a cleaner.
func NewCleaner(config CleaningConfig, logger *zap.Logger) (*Cleaner, error) {
	if config.ZThreshold <= 0 {
		return nil, fmt.Errorf("z threshold must be positive, got %g", config.ZThreshold)
	}
	if config.MinTrialsPerType <= 0 {
		return nil, fmt.Errorf("minimum trials per type must be positive, got %d", config.MinTrialsPerType)
	}
	return &Cleaner{config: config, logger: logger}, nil
}

// Clean returns the trials surviving all three filters, plus a report of the
// exclusions. The input slice is never modified. An empty result is an error:
// the downstream models have nothing to fit.
func (c *Cleaner) Clean(trials []Trial) ([]Trial, *CleaningReport, error) {
	report := &CleaningReport{InputTrials: len(trials)}

	kept := c.dropShortTrials(trials, report)
	kept = c.dropOutlierSubjects(kept, report)
	kept = c.dropLowCountSubjects(kept, report)
	report.OutputTrials = len(kept)

	c.logger.Info("Cleaned dataset",
		zap.Int("input", report.InputTrials),
		zap.Int("shortTrials", report.ShortTrialsRemoved),
		zap.Int("outlierSubjects", report.OutlierSubjects),
		zap.Int("lowCountSubjects", report.LowCountSubjects),
		zap.Int("output", report.OutputTrials))

	if len(kept) == 0 {
		return nil, report, fmt.Errorf("no trials survived cleaning (input %d)", report.InputTrials)
	}
	return kept, report, nil
}

// dropShortTrials removes trials with looking time below the minimum.
func (c *Cleaner) dropShortTrials(trials []Trial, report *CleaningReport) []Trial {
	kept := make([]Trial, 0, len(trials))
	for _, t := range trials {
		if t.LT < MinLookingTime {
			report.ShortTrialsRemoved++
			continue
		}
		kept = append(kept, t)
	}
	return kept
}

// dropOutlierSubjects removes every trial of any subject whose mean log
// looking time sits ZThreshold or more standard deviations from the mean of
// subject means. A zero SD makes the
// z-score undefined; the policy is z=0 for everyone, so nobody is excluded,
// and the report flags the degenerate variance.
func (c *Cleaner) dropOutlierSubjects(trials []Trial, report *CleaningReport) []Trial {
	if len(trials) == 0 {
		return trials
	}

	subjectMeans := meanLogBySubject(trials)
	means := make([]float64, 0, len(subjectMeans))
	for _, m := range subjectMeans {
		means = append(means, m)
	}
	grandMean := stat.Mean(means, nil)
	sd := stat.StdDev(means, nil)

	if sd == 0 || math.IsNaN(sd) {
		report.DegenerateVariance = true
		c.logger.Warn("Zero variance across subject means; outlier filter excludes nobody",
			zap.Int("subjects", len(subjectMeans)))
		return trials
	}

	outliers := make(map[string]bool)
	for subject, m := range subjectMeans {
		if z := (m - grandMean) / sd; math.Abs(z) >= c.config.ZThreshold {
			outliers[subject] = true
		}
	}
	report.OutlierSubjects = len(outliers)

	kept := make([]Trial, 0, len(trials))
	for _, t := range trials {
		if outliers[t.Subject] {
			report.OutlierTrialsRemoved++
			continue
		}
		kept = append(kept, t)
	}
	return kept
}

// dropLowCountSubjects removes every trial of any subject with fewer than
// MinTrialsPerType surviving trials in either condition.
func (c *Cleaner) dropLowCountSubjects(trials []Trial, report *CleaningReport) []Trial {
	type counts struct{ ids, ads int }
	bySubject := make(map[string]*counts)
	for _, t := range trials {
		cnt := bySubject[t.Subject]
		if cnt == nil {
			cnt = &counts{}
			bySubject[t.Subject] = cnt
		}
		if t.Condition == IDS {
			cnt.ids++
		} else {
			cnt.ads++
		}
	}

	excluded := make(map[string]bool)
	for subject, cnt := range bySubject {
		if cnt.ids < c.config.MinTrialsPerType || cnt.ads < c.config.MinTrialsPerType {
			excluded[subject] = true
		}
	}
	report.LowCountSubjects = len(excluded)

	kept := make([]Trial, 0, len(trials))
	for _, t := range trials {
		if excluded[t.Subject] {
			report.LowCountTrialsRemoved++
			continue
		}
		kept = append(kept, t)
	}
	return kept
}

// meanLogBySubject computes each subject's mean log looking time.
func meanLogBySubject(trials []Trial) map[string]float64 {
	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, t := range trials {
		sums[t.Subject] += math.Log(t.LT)
		counts[t.Subject]++
	}
	means := make(map[string]float64, len(sums))
	for subject, sum := range sums {
		means[subject] = sum / float64(counts[subject])
	}
	return means
}
