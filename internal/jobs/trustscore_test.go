package jobs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrilink-dev/settlement_layer/internal/domain/farm"
	"github.com/agrilink-dev/settlement_layer/internal/domain/history"
	"github.com/agrilink-dev/settlement_layer/internal/storage/memory"
)

func TestScore(t *testing.T) {
	assert.Equal(t, float64(50), Score(nil), "no history keeps a neutral score")

	clean := []history.Record{
		{Status: history.StatusReleased},
		{Status: history.StatusReleased},
	}
	assert.InDelta(t, 91.0, Score(clean), 0.01)

	mixed := []history.Record{
		{Status: history.StatusReleased},
		{Status: history.StatusFailed},
	}
	assert.InDelta(t, 45.5, Score(mixed), 0.01)

	allFailed := []history.Record{{Status: history.StatusFailed}}
	assert.Zero(t, Score(allFailed))

	// Volume saturates at 20 released settlements.
	var busy []history.Record
	for i := 0; i < 40; i++ {
		busy = append(busy, history.Record{Status: history.StatusReleased})
	}
	assert.InDelta(t, 100.0, Score(busy), 0.01)
}

func TestRunUpdatesAllFarms(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	store.PutFarm(farm.Farm{ID: "farm-a", OwnerMemberID: "m-a"})
	store.PutFarm(farm.Farm{ID: "farm-b", OwnerMemberID: "m-b"})

	_, err := store.InsertHistory(ctx, history.Record{
		EvidenceID: "ev-a1", FarmID: "farm-a", Status: history.StatusReleased,
	})
	require.NoError(t, err)
	_, err = store.InsertHistory(ctx, history.Record{
		EvidenceID: "ev-b1", FarmID: "farm-b", Status: history.StatusFailed,
	})
	require.NoError(t, err)

	job := NewTrustScoreJob(store, store, "0 3 * * *")
	require.NoError(t, job.Run(ctx))

	a, err := store.GetFarm(ctx, "farm-a")
	require.NoError(t, err)
	assert.InDelta(t, 90.5, a.TrustScore, 0.01)

	b, err := store.GetFarm(ctx, "farm-b")
	require.NoError(t, err)
	assert.Zero(t, b.TrustScore)
}
