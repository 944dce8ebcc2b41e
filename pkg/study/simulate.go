package study

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat/distuv"
)

// LTCeiling is the hard cap on a simulated looking time.
const LTCeiling = 20.0

// SimulationConfig describes the factorial design of the simulated study.
type SimulationConfig struct {
	Labs             int    `json:"labs" yaml:"labs" validate:"gt=0"`
	SubjectsPerLab   int    `json:"subjectsPerLab" yaml:"subjects_per_lab" validate:"gt=0"`
	TrialsPerSubject int    `json:"trialsPerSubject" yaml:"trials_per_subject" validate:"gt=0"`
	Seed             *int64 `json:"seed,omitempty" yaml:"seed"` // nil: unseeded, runs differ
}

// DefaultSimulationConfig matches the design of the real multi-lab
// collection: 20 labs, 30 subjects each, 16 trials per subject.
func DefaultSimulationConfig() SimulationConfig {
	return SimulationConfig{
		Labs:             20,
		SubjectsPerLab:   30,
		TrialsPerSubject: 16,
	}
}

// Simulator generates synthetic trial-level datasets shaped like the real
// multi-lab collection: a full lab x subject x trial cross-product with
// balanced condition assignment per block and lab- plus subject-level noise
// on the response.
type Simulator struct {
	config SimulationConfig
	logger *zap.Logger
	rng    *rand.Rand
}

// NewSimulator creates a simulator. When config.Seed is set the generated
// dataset is reproducible; otherwise every run differs.
func NewSimulator(config SimulationConfig, logger *zap.Logger) *Simulator {
	var src rand.Source
	if config.Seed != nil {
		src = rand.NewPCG(uint64(*config.Seed), uint64(*config.Seed)>>1)
	} else {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	return &Simulator{
		config: config,
		logger: logger,
		rng:    rand.New(src),
	}
}

// Simulate produces the full trial-level dataset, sorted by lab, subject,
// trial. The returned slice is freshly allocated on every call.
func (s *Simulator) Simulate() ([]Trial, error) {
	cfg := s.config
	if cfg.TrialsPerSubject%4 != 0 {
		return nil, fmt.Errorf("trials per subject must be a multiple of the block size 4, got %d", cfg.TrialsPerSubject)
	}

	trials := make([]Trial, 0, cfg.Labs*cfg.SubjectsPerLab*cfg.TrialsPerSubject)

	for labIdx := 0; labIdx < cfg.Labs; labIdx++ {
		lab := fmt.Sprintf("LAB%02d", labIdx+1)
		labOffset := s.rng.Float64() * 0.5
		labMeanAge := math.Round(3 + s.rng.Float64()*9)
		method := Methods[s.rng.IntN(len(Methods))]

		for subjIdx := 1; subjIdx <= cfg.SubjectsPerLab; subjIdx++ {
			subject := SubjectID(lab, subjIdx)
			subjOffset := s.rng.Float64() * 0.5
			age := roundTo(labMeanAge-0.5+s.rng.Float64(), 2)
			session := Sessions[s.rng.IntN(len(Sessions))]
			language := Languages[s.rng.IntN(len(Languages))]
			bilingual := BilingualLevels[s.rng.IntN(len(BilingualLevels))]

			conditions := s.assignConditions(cfg.TrialsPerSubject)

			for t := 1; t <= cfg.TrialsPerSubject; t++ {
				cond := conditions[t-1]
				loc := 1.5
				if cond == IDS {
					loc += labOffset
				}
				lt := distuv.LogNormal{Mu: loc, Sigma: 0.7, Src: s.rng}.Rand() + subjOffset
				if lt > LTCeiling {
					lt = LTCeiling
				}

				trials = append(trials, Trial{
					Lab:       lab,
					Subject:   subject,
					Trial:     t,
					Block:     BlockOf(t),
					Condition: cond,
					LT:        lt,
					Age:       age,
					Method:    method,
					Session:   session,
					Language:  language,
					Bilingual: bilingual,
				})
			}
		}
	}

	sort.Slice(trials, func(i, j int) bool {
		if trials[i].Lab != trials[j].Lab {
			return trials[i].Lab < trials[j].Lab
		}
		if trials[i].Subject != trials[j].Subject {
			return trials[i].Subject < trials[j].Subject
		}
		return trials[i].Trial < trials[j].Trial
	})

	s.logger.Info("Simulated dataset",
		zap.Int("labs", cfg.Labs),
		zap.Int("subjects", cfg.Labs*cfg.SubjectsPerLab),
		zap.Int("trials", len(trials)))

	return trials, nil
}

// assignConditions returns one condition per trial such that every block of
// four holds exactly two IDS and two ADS trials in random order.
func (s *Simulator) assignConditions(trialCount int) []Condition {
	conditions := make([]Condition, 0, trialCount)
	for b := 0; b < trialCount/4; b++ {
		block := []Condition{IDS, IDS, ADS, ADS}
		s.rng.Shuffle(len(block), func(i, j int) {
			block[i], block[j] = block[j], block[i]
		})
		conditions = append(conditions, block...)
	}
	return conditions
}

func roundTo(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}
