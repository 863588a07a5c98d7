package pipeline_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trobanga/sisyphus/internal/lib"
	"github.com/trobanga/sisyphus/internal/models"
	"github.com/trobanga/sisyphus/internal/pipeline"
	"github.com/trobanga/sisyphus/internal/testsupport"
)

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name      string
		library   func() models.Library
		wantReady bool
		wantLanes []string
	}{
		{
			name:      "all requested lanes received",
			library:   func() models.Library { return testsupport.NewLibrary("L1", 2, "FC2_1", "FC1_1") },
			wantReady: true,
			wantLanes: []string{"FC1_1", "FC2_1"},
		},
		{
			name:    "fewer lanes than requested",
			library: func() models.Library { return testsupport.NewLibrary("L1", 3, "FC1_1", "FC2_1") },
		},
		{
			name: "excluded library with complete lanes",
			library: func() models.Library {
				l := testsupport.NewLibrary("L1", 2, "FC1_1", "FC2_1")
				l.ExcludeFromAnalysis = true
				return l
			},
		},
		{
			name: "no sequencings",
			library: func() models.Library {
				l := testsupport.NewLibrary("L1", 0)
				l.Sequencings = nil
				return l
			},
		},
		{
			name:      "zero requested lanes accepts what arrived",
			library:   func() models.Library { return testsupport.NewLibrary("L1", 0, "FC1_1") },
			wantReady: true,
			wantLanes: []string{"FC1_1"},
		},
		{
			name: "one incomplete sequencing blocks the library",
			library: func() models.Library {
				l := testsupport.NewLibrary("L1", 1, "FC1_1")
				l.Sequencings = append(l.Sequencings, models.Sequencing{ID: 2, LanesRequested: 2,
					Lanes: []models.Lane{{ID: 9, FlowCellID: "FC3", LaneNumber: "1"}}})
				return l
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := pipeline.Evaluate(tt.library())

			assert.Equal(t, tt.wantReady, r.Ready)
			assert.Equal(t, tt.wantLanes, r.Lanes)
			if !tt.wantReady {
				assert.NotEmpty(t, r.Reason)
			}
		})
	}
}

func TestCheckReadiness(t *testing.T) {
	ctx := context.Background()
	catalog := testsupport.NewCatalog()
	catalog.PutLibrary(testsupport.NewLibrary("L1", 2, "FC1_1"))

	t.Run("not ready is not an error", func(t *testing.T) {
		r, err := pipeline.CheckReadiness(ctx, catalog, "L1", testsupport.Logger())
		require.NoError(t, err)
		assert.False(t, r.Ready)
		assert.Contains(t, r.Reason, "1 of 2")
	})

	t.Run("unknown library", func(t *testing.T) {
		_, err := pipeline.CheckReadiness(ctx, catalog, "L404", testsupport.Logger())
		require.Error(t, err)
		assert.True(t, errors.Is(err, lib.ErrNotFound))
	})
}
