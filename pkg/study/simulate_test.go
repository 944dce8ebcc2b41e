package study

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testSimConfig(seed int64) SimulationConfig {
	return SimulationConfig{
		Labs:             4,
		SubjectsPerLab:   6,
		TrialsPerSubject: 16,
		Seed:             &seed,
	}
}

func simulate(t *testing.T, seed int64) []Trial {
	t.Helper()
	trials, err := NewSimulator(testSimConfig(seed), zap.NewNop()).Simulate()
	require.NoError(t, err)
	require.Len(t, trials, 4*6*16)
	return trials
}

func TestSimulateTrialInvariants(t *testing.T) {
	trials := simulate(t, 7)

	for _, tr := range trials {
		assert.Greater(t, tr.LT, 0.0, "LT must be positive")
		assert.LessOrEqual(t, tr.LT, LTCeiling, "LT must respect the ceiling")
		assert.Equal(t, (tr.Trial-1)/4+1, tr.Block, "block must derive from trial")
		assert.GreaterOrEqual(t, tr.Block, 1)
		assert.LessOrEqual(t, tr.Block, 4)
		assert.GreaterOrEqual(t, tr.Age, 2.5)
		assert.LessOrEqual(t, tr.Age, 12.5)
	}
}

func TestSimulateBalancedConditionsPerBlock(t *testing.T) {
	trials := simulate(t, 11)

	type key struct {
		subject string
		block   int
	}
	counts := make(map[key]map[Condition]int)
	for _, tr := range trials {
		k := key{tr.Subject, tr.Block}
		if counts[k] == nil {
			counts[k] = make(map[Condition]int)
		}
		counts[k][tr.Condition]++
	}

	require.Len(t, counts, 4*6*4)
	for k, c := range counts {
		assert.Equal(t, 2, c[IDS], "subject %s block %d", k.subject, k.block)
		assert.Equal(t, 2, c[ADS], "subject %s block %d", k.subject, k.block)
	}
}

func TestSimulateSubjectAndLabInvariants(t *testing.T) {
	trials := simulate(t, 3)

	methodByLab := make(map[string]Method)
	type subjectFields struct {
		age       float64
		session   string
		language  string
		bilingual string
		lab       string
	}
	bySubject := make(map[string]subjectFields)

	for _, tr := range trials {
		if m, seen := methodByLab[tr.Lab]; seen {
			assert.Equal(t, m, tr.Method, "method must be constant within lab %s", tr.Lab)
		} else {
			methodByLab[tr.Lab] = tr.Method
		}
		fields := subjectFields{tr.Age, tr.Session, tr.Language, tr.Bilingual, tr.Lab}
		if prev, seen := bySubject[tr.Subject]; seen {
			assert.Equal(t, prev, fields, "subject-level fields must be constant for %s", tr.Subject)
		} else {
			bySubject[tr.Subject] = fields
		}
	}

	assert.Len(t, bySubject, 4*6, "subject identifiers must be unique across labs")
}

func TestSimulateSortedOutput(t *testing.T) {
	trials := simulate(t, 19)

	for i := 1; i < len(trials); i++ {
		prev, cur := trials[i-1], trials[i]
		ordered := prev.Lab < cur.Lab ||
			(prev.Lab == cur.Lab && prev.Subject < cur.Subject) ||
			(prev.Lab == cur.Lab && prev.Subject == cur.Subject && prev.Trial < cur.Trial)
		require.True(t, ordered, "rows %d and %d out of order", i-1, i)
	}
}

func TestSimulateSeedReproducibility(t *testing.T) {
	first := simulate(t, 42)
	second := simulate(t, 42)
	assert.Equal(t, first, second, "identical seeds must reproduce the dataset")

	third := simulate(t, 43)
	assert.NotEqual(t, first, third, "different seeds should differ")
}

func TestSimulateRejectsPartialBlocks(t *testing.T) {
	cfg := testSimConfig(1)
	cfg.TrialsPerSubject = 14
	_, err := NewSimulator(cfg, zap.NewNop()).Simulate()
	require.Error(t, err)
}
