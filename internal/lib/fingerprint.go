package lib

import (
	"crypto/md5"
	"encoding/hex"
	"sort"
	"strings"
)

const (
	minFingerprintWidth = 8
	maxFingerprintWidth = md5.Size * 2

	fingerprintDelimiter = ", "
)

// Fingerprint derives the 8 character lane-set identity used in analysis names.
//
// The input is treated as a set: duplicates are dropped and order is irrelevant.
// Eight hex characters give 32 bits; among n distinct lane sets of one library the
// chance of any collision is about n^2/2^33, which is negligible for the handful of
// lane sets a library ever has. Collisions are still detected by the registry, which
// widens the fingerprint when a name is taken by a different input set.
func Fingerprint(ids []string) string {
	return FingerprintWidth(ids, minFingerprintWidth)
}

// FingerprintWidth is Fingerprint with a caller-chosen prefix length, clamped to 8..32
func FingerprintWidth(ids []string, width int) string {
	if width < minFingerprintWidth {
		width = minFingerprintWidth
	}
	if width > maxFingerprintWidth {
		width = maxFingerprintWidth
	}

	sum := md5.Sum([]byte(strings.Join(CanonicalInputSet(ids), fingerprintDelimiter)))
	return hex.EncodeToString(sum[:])[:width]
}

// CanonicalInputSet returns the sorted, de-duplicated form of an input set
func CanonicalInputSet(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
