package optimization

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MRamiBalles/vaultsim/server/internal/platform/metrics"
)

func TestForProfile(t *testing.T) {
	low, err := ForProfile("low")
	require.NoError(t, err)
	assert.Equal(t, 2, low.TickWorkers)

	def, err := ForProfile("")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, def.DBMaxOpenConns, def.TickWorkers)

	_, err = ForProfile("turbo")
	assert.Error(t, err)
}

func TestAnalyzeReadsCollectorSnapshot(t *testing.T) {
	c := metrics.New()
	c.RecordTick(metrics.ResultCommitted, 2*time.Second)
	c.RecordTick(metrics.ResultContended, 0)
	c.RecordCommit(80*time.Millisecond, nil)

	rec := Analyze(c.Snapshot())
	assert.True(t, rec.IncreaseWorkers)
	assert.True(t, rec.IncreaseDBConnections)
	assert.False(t, rec.IncreaseBroadcastBuffer)
	assert.Len(t, rec.Notes, 3)
}

func TestApplyRecommendationsDoesNotMutateInput(t *testing.T) {
	base := LowResourceConfig()
	out := ApplyRecommendations(base, &Recommendations{IncreaseWorkers: true, IncreaseDBConnections: true})
	assert.Equal(t, 4, out.TickWorkers)
	assert.Equal(t, 6, out.DBMaxOpenConns)
	assert.Equal(t, 2, base.TickWorkers)
}
