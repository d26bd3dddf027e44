package tracking

import (
	"context"
	"log/slog"
	"sync"

	"nimbus.transitwatch.org/internal/geo"
	"nimbus.transitwatch.org/internal/logging"
	"nimbus.transitwatch.org/internal/models"
	"nimbus.transitwatch.org/internal/notify"
	"nimbus.transitwatch.org/internal/store"
)

// Distance thresholds in kilometers.
const (
	AutoEndThresholdKm = 0.1
	ApproachKm         = 2.0
	GetReadyKm         = 1.0
	ArrivalThresholdKm = 0.05
)

// Notifier receives a staged proximity alert. eta is a display string from
// geo.EstimateETA.
type Notifier func(tripID, threshold string, distanceKm float64, eta string)

// Metrics receives tracking counters. A nil Metrics disables reporting.
type Metrics interface {
	PositionPersisted()
	PositionPersistFailed()
	NotificationFired(threshold string)
	TripAutoCompleted()
}

// Config wires one Processor to its trip session.
type Config struct {
	TripID string

	// Destination is the route's final stop; nil disables auto-completion.
	Destination *models.LatLng

	// Reference is the rider's chosen point; nil disables proximity alerts
	// and ETA reporting.
	Reference *models.LatLng

	Notify Notifier

	// OnArrive is invoked exactly once when the destination threshold is
	// crossed, with the final fix location. The processor has already
	// deactivated itself; the callback completes the trip.
	OnArrive func(ctx context.Context, final models.LatLng)

	// OnETA receives the rider distance and ETA string on every fix.
	OnETA func(distanceKm float64, eta string)

	Logger  *slog.Logger
	Metrics Metrics
}

// Processor consumes position fixes for one active trip. Fixes may arrive
// with unbounded jitter; persistence is most-recent-write-wins and nothing
// here assumes ordering beyond that.
type Processor struct {
	store store.Store
	gate  notify.Gate
	cfg   Config
	log   *slog.Logger

	mu      sync.Mutex
	active  bool
	reached bool

	writes sync.WaitGroup
}

// NewProcessor returns an active processor for the configured trip.
func NewProcessor(s store.Store, gate notify.Gate, cfg Config) *Processor {
	return &Processor{
		store:  s,
		gate:   gate,
		cfg:    cfg,
		log:    logging.ForComponent(cfg.Logger, "tracking"),
		active: true,
	}
}

// Active reports whether the processor still accepts fixes.
func (p *Processor) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// Deactivate stops accepting fixes. Late in-flight fixes after deactivation
// never reach the store. Idempotent.
func (p *Processor) Deactivate() {
	p.mu.Lock()
	p.active = false
	p.mu.Unlock()
}

// Drain blocks until all in-flight position writes have finished.
func (p *Processor) Drain() { p.writes.Wait() }

// HandleFix processes one position report: persist, check destination
// arrival, fire proximity alerts, report ETA. Fixes arriving after
// deactivation are dropped.
func (p *Processor) HandleFix(ctx context.Context, fix Fix) {
	if !p.Active() {
		return
	}

	p.persist(ctx, fix)

	if p.cfg.Destination != nil {
		d := geo.DistanceKm(fix.Location, *p.cfg.Destination)
		if d <= AutoEndThresholdKm && p.markReached() {
			logging.LogOperation(p.log, "destination reached",
				slog.String("trip_id", p.cfg.TripID),
				slog.Float64("distance_km", d))
			if p.cfg.Metrics != nil {
				p.cfg.Metrics.TripAutoCompleted()
			}
			if p.cfg.OnArrive != nil {
				p.cfg.OnArrive(ctx, fix.Location)
			}
			return
		}
	}

	if p.cfg.Reference == nil {
		return
	}
	d := geo.DistanceKm(fix.Location, *p.cfg.Reference)
	if threshold := bandFor(d); threshold != "" {
		p.fireAlert(threshold, d)
	}
	if p.cfg.OnETA != nil {
		p.cfg.OnETA(d, geo.EstimateETA(d, geo.DefaultSpeedKmph))
	}
}

// persist writes the fix without blocking the stream. Failures are logged
// and counted, never fatal.
func (p *Processor) persist(ctx context.Context, fix Fix) {
	p.writes.Add(1)
	go func() {
		defer p.writes.Done()
		if !p.Active() {
			return
		}
		err := p.store.Update(ctx, store.CollectionTrips, p.cfg.TripID, store.Fields{
			models.FieldLastKnownLocation: &fix.Location,
			models.FieldLastUpdated:       store.ServerTimestamp(),
		})
		if err != nil {
			logging.LogError(p.log, "position write failed", err,
				slog.String("trip_id", p.cfg.TripID))
			if p.cfg.Metrics != nil {
				p.cfg.Metrics.PositionPersistFailed()
			}
			return
		}
		if p.cfg.Metrics != nil {
			p.cfg.Metrics.PositionPersisted()
		}
	}()
}

// markReached flips the reached flag exactly once and deactivates the
// processor, so arrival can never fire twice for one trip instance.
func (p *Processor) markReached() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.reached || !p.active {
		return false
	}
	p.reached = true
	p.active = false
	return true
}

func (p *Processor) fireAlert(threshold string, distanceKm float64) {
	fired, err := notify.FireOnce(p.gate, notify.Key(p.cfg.TripID, threshold))
	if err != nil {
		logging.LogError(p.log, "notification gate error", err,
			slog.String("trip_id", p.cfg.TripID),
			slog.String("threshold", threshold))
		return
	}
	if !fired {
		return
	}
	if p.cfg.Metrics != nil {
		p.cfg.Metrics.NotificationFired(threshold)
	}
	if p.cfg.Notify != nil {
		p.cfg.Notify(p.cfg.TripID, threshold, distanceKm, geo.EstimateETA(distanceKm, geo.DefaultSpeedKmph))
	}
}

// bandFor maps a rider distance to the alert threshold it falls in, or ""
// when outside all bands.
func bandFor(distanceKm float64) string {
	switch {
	case distanceKm <= ArrivalThresholdKm:
		return notify.ThresholdArrived
	case distanceKm <= GetReadyKm:
		return notify.Threshold1Km
	case distanceKm <= ApproachKm:
		return notify.Threshold2Km
	}
	return ""
}
