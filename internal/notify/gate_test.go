package notify

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	assert.Equal(t, "trip123:2km", Key("trip123", Threshold2Km))
	assert.Equal(t, "trip123:arrived", Key("trip123", ThresholdArrived))
}

func gates(t *testing.T) map[string]Gate {
	t.Helper()
	sqlite, err := NewSQLiteGate(filepath.Join(t.TempDir(), "alerts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })
	return map[string]Gate{
		"memory": NewMemoryGate(),
		"sqlite": sqlite,
	}
}

func TestGateFiresOncePerKey(t *testing.T) {
	for name, gate := range gates(t) {
		t.Run(name, func(t *testing.T) {
			key := Key("trip123", Threshold2Km)

			assert.True(t, gate.ShouldFire(key))
			require.NoError(t, gate.MarkFired(key))

			for i := 0; i < 5; i++ {
				assert.False(t, gate.ShouldFire(key))
			}

			// Other thresholds on the same trip fire independently.
			assert.True(t, gate.ShouldFire(Key("trip123", Threshold1Km)))
			// Same threshold on another trip fires independently.
			assert.True(t, gate.ShouldFire(Key("trip456", Threshold2Km)))
		})
	}
}

func TestGateResetTrip(t *testing.T) {
	for name, gate := range gates(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, gate.MarkFired(Key("tripA", Threshold2Km)))
			require.NoError(t, gate.MarkFired(Key("tripA", ThresholdArrived)))
			require.NoError(t, gate.MarkFired(Key("tripB", Threshold2Km)))

			require.NoError(t, gate.ResetTrip("tripA"))

			assert.True(t, gate.ShouldFire(Key("tripA", Threshold2Km)))
			assert.True(t, gate.ShouldFire(Key("tripA", ThresholdArrived)))
			// tripB is untouched.
			assert.False(t, gate.ShouldFire(Key("tripB", Threshold2Km)))
		})
	}
}

func TestFireOnce(t *testing.T) {
	gate := NewMemoryGate()
	key := Key("trip1", Threshold1Km)

	fired, err := FireOnce(gate, key)
	require.NoError(t, err)
	assert.True(t, fired)

	fired, err = FireOnce(gate, key)
	require.NoError(t, err)
	assert.False(t, fired)
}

func TestSQLiteGatePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts.db")

	gate, err := NewSQLiteGate(path)
	require.NoError(t, err)
	require.NoError(t, gate.MarkFired(Key("trip1", Threshold2Km)))
	require.NoError(t, gate.Close())

	gate, err = NewSQLiteGate(path)
	require.NoError(t, err)
	defer gate.Close()

	assert.False(t, gate.ShouldFire(Key("trip1", Threshold2Km)))
	assert.True(t, gate.ShouldFire(Key("trip1", Threshold1Km)))
}
