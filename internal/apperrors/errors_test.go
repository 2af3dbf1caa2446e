package apperrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"validation", Validation("missing column %q", "customer_id"), "validation"},
		{"not found", NotFound("dataset %s", "abc"), "not_found"},
		{"conflict", Conflict("training in progress"), "conflict"},
		{"training", Training("single class"), "training"},
		{"storage", Storage("put object", errors.New("disk full")), "storage"},
		{"wrapped", fmt.Errorf("outer: %w", NotFound("x")), "not_found"},
		{"plain", errors.New("boom"), "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Kind(tt.err))
		})
	}
}

func TestStorage(t *testing.T) {
	t.Run("nil passes through", func(t *testing.T) {
		require.NoError(t, Storage("op", nil))
	})

	t.Run("keeps cause", func(t *testing.T) {
		cause := errors.New("connection reset")
		err := Storage("get object", cause)
		require.ErrorIs(t, err, ErrStorage)
		require.ErrorIs(t, err, cause)
	})

	t.Run("not found is not reclassified", func(t *testing.T) {
		nf := NotFound("object")
		err := Storage("get object", nf)
		require.ErrorIs(t, err, ErrNotFound)
		require.NotErrorIs(t, err, ErrStorage)
	})

	t.Run("conflict is not reclassified", func(t *testing.T) {
		err := Storage("create model", Conflict("training in progress"))
		require.ErrorIs(t, err, ErrConflict)
		require.NotErrorIs(t, err, ErrStorage)
	})
}
