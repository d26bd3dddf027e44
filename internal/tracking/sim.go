package tracking

import (
	"sync"
	"time"

	"nimbus.transitwatch.org/internal/models"
)

// Defaults for the simulated walk: a point on the Puttur route and a step of
// roughly eleven meters.
var defaultSimStart = models.LatLng{Latitude: 12.7443, Longitude: 75.0679}

const (
	defaultSimStep     = 0.0001
	defaultSimInterval = 3 * time.Second
	simLegFixes        = 25
)

// SimSource is a deterministic geolocation source that walks a small square
// from a starting point, one step per interval. It stands in for device GPS
// in demos and end-to-end tests.
type SimSource struct {
	Start    models.LatLng
	Step     float64
	Interval time.Duration
}

// NewSimSource returns a simulator with the default start point, step and
// cadence.
func NewSimSource() *SimSource {
	return &SimSource{Start: defaultSimStart, Step: defaultSimStep, Interval: defaultSimInterval}
}

// Watch emits one fix per interval, walking the square indefinitely until
// stopped.
func (s *SimSource) Watch(onFix func(Fix), onError func(*WatchError)) (func(), error) {
	step := s.Step
	if step == 0 {
		step = defaultSimStep
	}
	interval := s.Interval
	if interval <= 0 {
		interval = defaultSimInterval
	}

	done := make(chan struct{})
	var once sync.Once

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		pos := s.Start
		legs := [4][2]float64{{step, 0}, {0, step}, {-step, 0}, {0, -step}}
		leg, taken := 0, 0
		for {
			select {
			case <-done:
				return
			case now := <-ticker.C:
				select {
				case <-done:
					return
				default:
				}
				pos.Latitude += legs[leg][0]
				pos.Longitude += legs[leg][1]
				taken++
				if taken == simLegFixes {
					taken = 0
					leg = (leg + 1) % len(legs)
				}
				onFix(Fix{Location: pos, At: now})
			}
		}
	}()

	stop := func() {
		once.Do(func() { close(done) })
	}
	return stop, nil
}
