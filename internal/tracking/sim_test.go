package tracking

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimSourceEmitsAndStops(t *testing.T) {
	src := &SimSource{Start: testOrigin, Step: 0.0001, Interval: 5 * time.Millisecond}

	fixes := make(chan Fix, 16)
	stop, err := src.Watch(func(f Fix) {
		select {
		case fixes <- f:
		default:
		}
	}, nil)
	require.NoError(t, err)

	var got []Fix
	for len(got) < 3 {
		select {
		case f := <-fixes:
			got = append(got, f)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for simulated fixes")
		}
	}

	// One step north per tick on the first leg.
	assert.InDelta(t, testOrigin.Latitude+0.0001, got[0].Location.Latitude, 1e-9)
	assert.InDelta(t, testOrigin.Longitude, got[0].Location.Longitude, 1e-9)
	assert.Greater(t, got[1].Location.Latitude, got[0].Location.Latitude)

	stop()
	stop() // idempotent
}

func TestWatchErrorFormatting(t *testing.T) {
	cause := errors.New("no signal")
	err := &WatchError{Kind: KindPositionUnavailable, Err: cause}
	assert.Equal(t, "geolocation position_unavailable: no signal", err.Error())
	assert.ErrorIs(t, err, cause)

	denied := &WatchError{Kind: KindPermissionDenied}
	assert.Equal(t, "geolocation permission_denied", denied.Error())
	assert.Equal(t, "timeout", KindTimeout.String())
}
