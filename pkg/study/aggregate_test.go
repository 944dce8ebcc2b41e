package study

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestAggregateMeansLogLT(t *testing.T) {
	trials := []Trial{
		{Lab: "L1", Subject: "L1-1", Trial: 1, Condition: IDS, LT: math.Exp(1), Age: 9, Method: MethodHPP},
		{Lab: "L1", Subject: "L1-1", Trial: 2, Condition: IDS, LT: math.Exp(3), Age: 9, Method: MethodHPP},
		{Lab: "L1", Subject: "L1-1", Trial: 3, Condition: ADS, LT: math.Exp(2), Age: 9, Method: MethodHPP},
	}

	aggregates := NewAggregator(zap.NewNop()).Aggregate(trials)
	require.Len(t, aggregates, 2)

	// Sorted ADS before IDS.
	assert.Equal(t, ADS, aggregates[0].Condition)
	assert.InDelta(t, 2.0, aggregates[0].MeanLogLT, 1e-12)
	assert.Equal(t, 1, aggregates[0].Trials)

	assert.Equal(t, IDS, aggregates[1].Condition)
	assert.InDelta(t, 2.0, aggregates[1].MeanLogLT, 1e-12)
	assert.Equal(t, 2, aggregates[1].Trials)
	assert.Equal(t, 9.0, aggregates[1].Age)
	assert.Equal(t, MethodHPP, aggregates[1].Method)
}

func TestAggregateIdempotent(t *testing.T) {
	seed := int64(21)
	trials, err := NewSimulator(SimulationConfig{
		Labs: 3, SubjectsPerLab: 4, TrialsPerSubject: 16, Seed: &seed,
	}, zap.NewNop()).Simulate()
	require.NoError(t, err)

	aggregator := NewAggregator(zap.NewNop())
	once := aggregator.Aggregate(trials)

	// Re-materialize the aggregates as one trial per subject x condition;
	// aggregating again must reproduce the rows.
	roundTrip := make([]Trial, 0, len(once))
	for _, agg := range once {
		roundTrip = append(roundTrip, Trial{
			Lab: agg.Lab, Subject: agg.Subject, Trial: 1, Condition: agg.Condition,
			LT: math.Exp(agg.MeanLogLT), Age: agg.Age, Method: agg.Method,
			Session: agg.Session, Language: agg.Language, Bilingual: agg.Bilingual,
		})
	}
	twice := aggregator.Aggregate(roundTrip)

	require.Len(t, twice, len(once))
	for i := range once {
		assert.Equal(t, once[i].Subject, twice[i].Subject)
		assert.Equal(t, once[i].Condition, twice[i].Condition)
		assert.InDelta(t, once[i].MeanLogLT, twice[i].MeanLogLT, 1e-9)
	}
}

func TestPairComputesDifferenceScores(t *testing.T) {
	aggregates := []SubjectAggregate{
		{Lab: "L1", Subject: "L1-1", Condition: IDS, MeanLogLT: 2.4, Age: 9},
		{Lab: "L1", Subject: "L1-1", Condition: ADS, MeanLogLT: 2.0, Age: 9},
		{Lab: "L1", Subject: "L1-2", Condition: IDS, MeanLogLT: 1.8, Age: 8},
		{Lab: "L1", Subject: "L1-2", Condition: ADS, MeanLogLT: 2.2, Age: 8},
	}

	paired, unpaired := NewAggregator(zap.NewNop()).Pair(aggregates)
	require.Len(t, paired, 2)
	assert.Zero(t, unpaired)

	for _, p := range paired {
		assert.InDelta(t, p.IDS-p.ADS, p.Diff, 1e-12)
		assert.InDelta(t, p.IDS/(p.IDS+p.ADS), p.Prop, 1e-12)
	}
	assert.InDelta(t, 0.4, paired[0].Diff, 1e-12)
	assert.InDelta(t, -0.4, paired[1].Diff, 1e-12)
}

func TestPairExcludesSubjectsMissingACondition(t *testing.T) {
	aggregates := []SubjectAggregate{
		{Lab: "L1", Subject: "L1-1", Condition: IDS, MeanLogLT: 2.4},
		{Lab: "L1", Subject: "L1-1", Condition: ADS, MeanLogLT: 2.0},
		{Lab: "L1", Subject: "L1-2", Condition: IDS, MeanLogLT: 1.8}, // no ADS row
	}

	paired, unpaired := NewAggregator(zap.NewNop()).Pair(aggregates)
	require.Len(t, paired, 1)
	assert.Equal(t, 1, unpaired)
	assert.Equal(t, "L1-1", paired[0].Subject)
}
