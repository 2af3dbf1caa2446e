package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/churnrunner/internal/apperrors"
	"github.com/wolfeidau/churnrunner/internal/models"
	"github.com/wolfeidau/churnrunner/internal/store"
)

func newTrainingModel(orgID uuid.UUID) *models.ModelMetadata {
	return &models.ModelMetadata{
		ModelID:   uuid.Must(uuid.NewV7()),
		OrgID:     orgID,
		ModelType: models.ModelTypeAuto,
		CreatedAt: time.Now(),
	}
}

func TestModelStoreTrainingExclusive(t *testing.T) {
	ctx := context.Background()
	st := NewModelStore()
	orgID := uuid.Must(uuid.NewV7())

	first := newTrainingModel(orgID)
	require.NoError(t, st.CreateTrainingModel(ctx, first))

	err := st.CreateTrainingModel(ctx, newTrainingModel(orgID))
	require.ErrorIs(t, err, store.ErrTrainingInProgress)
	require.ErrorIs(t, err, apperrors.ErrConflict)

	latest, err := st.LatestModel(ctx, orgID)
	require.NoError(t, err)
	require.Equal(t, first.ModelID, latest.ModelID)
	require.Equal(t, models.ModelStatusTraining, latest.Status)

	// Another organization is unaffected
	require.NoError(t, st.CreateTrainingModel(ctx, newTrainingModel(uuid.Must(uuid.NewV7()))))

	// Once the first run fails a new one may start
	require.NoError(t, st.FailModel(ctx, orgID, first.ModelID, "not enough data"))
	require.NoError(t, st.CreateTrainingModel(ctx, newTrainingModel(orgID)))
}

func TestModelStoreCompleteModel(t *testing.T) {
	ctx := context.Background()
	orgID := uuid.Must(uuid.NewV7())

	t.Run("advances pointer when version matches", func(t *testing.T) {
		st := NewModelStore()

		_, err := st.GetActiveModel(ctx, orgID)
		require.ErrorIs(t, err, store.ErrNoActiveModel)

		m := newTrainingModel(orgID)
		require.NoError(t, st.CreateTrainingModel(ctx, m))

		m.ModelType = models.ModelTypeLogisticRegression
		m.Metrics = &models.ModelMetrics{ROCAUC: 0.8}
		advanced, err := st.CompleteModel(ctx, m, 0)
		require.NoError(t, err)
		require.True(t, advanced)

		active, err := st.GetActiveModel(ctx, orgID)
		require.NoError(t, err)
		require.Equal(t, m.ModelID, active.ModelID)
		require.Equal(t, int64(1), active.Version)

		got, err := st.GetModel(ctx, orgID, m.ModelID)
		require.NoError(t, err)
		require.Equal(t, models.ModelStatusCompleted, got.Status)
		require.NotNil(t, got.TrainedAt)
		require.InDelta(t, 0.8, got.Metrics.ROCAUC, 1e-9)
	})

	t.Run("stale version leaves pointer untouched", func(t *testing.T) {
		st := NewModelStore()

		slow := newTrainingModel(orgID)
		require.NoError(t, st.CreateTrainingModel(ctx, slow))
		require.NoError(t, st.FailModel(ctx, orgID, slow.ModelID, "placeholder"))

		fast := newTrainingModel(orgID)
		require.NoError(t, st.CreateTrainingModel(ctx, fast))
		advanced, err := st.CompleteModel(ctx, fast, 0)
		require.NoError(t, err)
		require.True(t, advanced)

		stale := newTrainingModel(orgID)
		require.NoError(t, st.CreateTrainingModel(ctx, stale))
		advanced, err = st.CompleteModel(ctx, stale, 0)
		require.NoError(t, err)
		require.False(t, advanced)

		active, err := st.GetActiveModel(ctx, orgID)
		require.NoError(t, err)
		require.Equal(t, fast.ModelID, active.ModelID)

		got, err := st.GetModel(ctx, orgID, stale.ModelID)
		require.NoError(t, err)
		require.Equal(t, models.ModelStatusCompleted, got.Status)
	})

	t.Run("terminal model cannot change", func(t *testing.T) {
		st := NewModelStore()

		m := newTrainingModel(orgID)
		require.NoError(t, st.CreateTrainingModel(ctx, m))
		require.NoError(t, st.FailModel(ctx, orgID, m.ModelID, "boom"))

		_, err := st.CompleteModel(ctx, m, 0)
		require.ErrorIs(t, err, store.ErrModelNotTraining)
		require.ErrorIs(t, st.FailModel(ctx, orgID, m.ModelID, "again"), store.ErrModelNotTraining)

		_, err = st.GetActiveModel(ctx, orgID)
		require.ErrorIs(t, err, store.ErrNoActiveModel)
	})

	t.Run("org scoped", func(t *testing.T) {
		st := NewModelStore()

		m := newTrainingModel(orgID)
		require.NoError(t, st.CreateTrainingModel(ctx, m))

		_, err := st.GetModel(ctx, uuid.Must(uuid.NewV7()), m.ModelID)
		require.ErrorIs(t, err, store.ErrModelNotFound)
	})
}
