package lib_test

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/trobanga/sisyphus/internal/lib"
)

func TestFingerprintIgnoresOrderAndDuplicates(t *testing.T) {
	a := lib.Fingerprint([]string{"FC2_1", "FC1_1", "FC3_2"})
	b := lib.Fingerprint([]string{"FC3_2", "FC1_1", "FC2_1", "FC1_1"})

	assert.Equal(t, a, b)
	assert.Len(t, a, 8)
	assert.NotEqual(t, a, lib.Fingerprint([]string{"FC1_1", "FC2_1"}))
}

func TestFingerprintIsStable(t *testing.T) {
	// md5("FC1_1, FC2_1")
	assert.Equal(t, "4c772dd8", lib.Fingerprint([]string{"FC2_1", "FC1_1"}))
	assert.Equal(t, "4c772dd8443d8cbf86fc6d736af445f0", lib.FingerprintWidth([]string{"FC1_1", "FC2_1"}, 32))
	assert.Equal(t, "d41d8cd9", lib.Fingerprint(nil), "empty set hashes the empty string")
}

func TestFingerprintWidthIsClamped(t *testing.T) {
	ids := []string{"FC1_1"}
	assert.Len(t, lib.FingerprintWidth(ids, 2), 8)
	assert.Len(t, lib.FingerprintWidth(ids, 16), 16)
	assert.Len(t, lib.FingerprintWidth(ids, 64), 32)
	assert.Equal(t, lib.FingerprintWidth(ids, 32)[:16], lib.FingerprintWidth(ids, 16))
}

func TestCanonicalInputSet(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, lib.CanonicalInputSet([]string{"c", "a", "b", "a"}))
	assert.Empty(t, lib.CanonicalInputSet(nil))
}

func randomLaneSet(r *rand.Rand) []string {
	n := 1 + r.Intn(8)
	lanes := make([]string, n)
	for i := range lanes {
		lanes[i] = fmt.Sprintf("%c%c%c%c%c_%d", 'A'+r.Intn(26), 'A'+r.Intn(26), 'A'+r.Intn(26), '0'+r.Intn(10), '0'+r.Intn(10), 1+r.Intn(8))
	}
	return lanes
}

func TestFingerprintHasNoCollisionsAcrossDistinctSets(t *testing.T) {
	tests := []struct {
		width int
		sets  int
	}{
		{width: 12, sets: 10000},
		{width: 8, sets: 1000},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("width %d", tt.width), func(t *testing.T) {
			r := rand.New(rand.NewSource(42))
			seen := make(map[string]string, tt.sets)
			for len(seen) < tt.sets {
				lanes := randomLaneSet(r)
				canonical := fmt.Sprint(lib.CanonicalInputSet(lanes))
				fp := lib.FingerprintWidth(lanes, tt.width)
				if prev, ok := seen[fp]; ok {
					assert.Equal(t, prev, canonical, "fingerprint %s collides", fp)
					continue
				}
				seen[fp] = canonical
			}
		})
	}
}
