package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAdvisoryLockKeyDeterministic(t *testing.T) {
	assert.Equal(t, AdvisoryLockKey("user-1"), AdvisoryLockKey("user-1"))
	assert.NotEqual(t, AdvisoryLockKey("user-1"), AdvisoryLockKey("user-2"))
}

func TestAdvisoryLockKeySpread(t *testing.T) {
	// Not a collision-resistance proof, just a sanity check that nearby ids
	// do not collapse onto one lock key.
	keys := make(map[int64]bool)
	ids := []string{"u1", "u2", "u3", "u10", "u11", "u100", "a", "b", ""}
	for _, id := range ids {
		keys[AdvisoryLockKey(id)] = true
	}
	assert.Len(t, keys, len(ids))
}
