package rcache

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPatchExpiry_WithValidity(t *testing.T) {
	resp := []byte(`{"availabilityExpireTime":"stale"}`)
	seconds := int64(120)
	now := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)

	patched, err := patchExpiry(resp, &seconds, now)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(patched, &decoded))
	want := now.Add(120 * time.Second)
	assert.Equal(t, "2026-07-31T00:02:00Z", decoded["availabilityExpireTime"])
	assert.Equal(t, want.UTC().Format("2006-01-02T15:04:05Z"), decoded["availabilityExpireTime"])
}

func TestPatchExpiry_WithoutValidity(t *testing.T) {
	resp := []byte(`{"availabilityExpireTime":"stale","other":1}`)
	patched, err := patchExpiry(resp, nil, time.Now())
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(patched, &decoded))
	_, present := decoded["availabilityExpireTime"]
	assert.False(t, present)
	assert.EqualValues(t, 1, decoded["other"])
}

func TestStore_OperatorToggles_DefaultEnabled(t *testing.T) {
	s := New(nil, 0, 0)
	assert.True(t, s.UpdateEnabled())
	assert.True(t, s.PrecomputationEnabled())
	assert.Equal(t, 10, s.PrecomputeQuota())
	assert.True(t, s.InvalidationEnabled())
}

func TestStore_OperatorToggles_SettersFlip(t *testing.T) {
	s := New(nil, 0, 5)
	assert.Equal(t, 5, s.PrecomputeQuota())

	s.SetUpdateEnabled(false)
	assert.False(t, s.UpdateEnabled())

	s.SetPrecomputationEnabled(false)
	assert.False(t, s.PrecomputationEnabled())

	s.SetPrecomputeQuota(3)
	assert.Equal(t, 3, s.PrecomputeQuota())
}
