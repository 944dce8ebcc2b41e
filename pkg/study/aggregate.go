package study

import (
	"math"
	"sort"

	"go.uber.org/zap"
)

// Aggregator collapses trial-level data to subject-by-condition means and
// reshapes those into one paired row per subject.
type Aggregator struct {
	logger *zap.Logger
}

// NewAggregator builds an aggregator.
func NewAggregator(logger *zap.Logger) *Aggregator {
	return &Aggregator{logger: logger}
}

// Aggregate groups trials by subject and condition and computes the mean log
// looking time per group. Lab-, subject-, and condition-identifying fields
// are carried along unchanged; they are constant within each group by the
// dataset invariants. Output is sorted by lab, subject, condition.
func (a *Aggregator) Aggregate(trials []Trial) []SubjectAggregate {
	type key struct {
		subject   string
		condition Condition
	}
	type acc struct {
		first Trial
		sum   float64
		n     int
	}

	groups := make(map[key]*acc)
	for _, t := range trials {
		k := key{t.Subject, t.Condition}
		g := groups[k]
		if g == nil {
			g = &acc{first: t}
			groups[k] = g
		}
		g.sum += math.Log(t.LT)
		g.n++
	}

	aggregates := make([]SubjectAggregate, 0, len(groups))
	for k, g := range groups {
		aggregates = append(aggregates, SubjectAggregate{
			Lab:       g.first.Lab,
			Method:    g.first.Method,
			Session:   g.first.Session,
			Subject:   k.subject,
			Language:  g.first.Language,
			Bilingual: g.first.Bilingual,
			Condition: k.condition,
			Age:       g.first.Age,
			MeanLogLT: g.sum / float64(g.n),
			Trials:    g.n,
		})
	}

	sort.Slice(aggregates, func(i, j int) bool {
		if aggregates[i].Lab != aggregates[j].Lab {
			return aggregates[i].Lab < aggregates[j].Lab
		}
		if aggregates[i].Subject != aggregates[j].Subject {
			return aggregates[i].Subject < aggregates[j].Subject
		}
		return aggregates[i].Condition < aggregates[j].Condition
	})

	a.logger.Info("Aggregated dataset",
		zap.Int("trials", len(trials)),
		zap.Int("rows", len(aggregates)))

	return aggregates
}

// Pair pivots subject aggregates into one row per subject with IDS and ADS
// means side by side and the derived Diff and Prop scores. Subjects missing
// either condition cannot contribute a paired score; they are dropped and
// counted in the second return value. The minimum-trials filter upstream
// normally guarantees both conditions, so a nonzero count signals data fed
// in without cleaning.
func (a *Aggregator) Pair(aggregates []SubjectAggregate) ([]PairedSubject, int) {
	type half struct {
		agg SubjectAggregate
		set bool
	}
	type pair struct {
		ids half
		ads half
	}

	bySubject := make(map[string]*pair)
	order := make([]string, 0)
	for _, agg := range aggregates {
		p := bySubject[agg.Subject]
		if p == nil {
			p = &pair{}
			bySubject[agg.Subject] = p
			order = append(order, agg.Subject)
		}
		if agg.Condition == IDS {
			p.ids = half{agg, true}
		} else {
			p.ads = half{agg, true}
		}
	}

	paired := make([]PairedSubject, 0, len(order))
	unpaired := 0
	for _, subject := range order {
		p := bySubject[subject]
		if !p.ids.set || !p.ads.set {
			unpaired++
			continue
		}
		base := p.ids.agg
		ids := p.ids.agg.MeanLogLT
		ads := p.ads.agg.MeanLogLT
		paired = append(paired, PairedSubject{
			Lab:       base.Lab,
			Method:    base.Method,
			Session:   base.Session,
			Subject:   base.Subject,
			Language:  base.Language,
			Bilingual: base.Bilingual,
			Age:       base.Age,
			IDS:       ids,
			ADS:       ads,
			Diff:      ids - ads,
			Prop:      ids / (ids + ads),
		})
	}

	if unpaired > 0 {
		a.logger.Warn("Subjects missing a condition dropped from paired data",
			zap.Int("subjects", unpaired))
	}

	return paired, unpaired
}
