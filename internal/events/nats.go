// Package events publishes trip lifecycle changes to NATS for downstream
// consumers (displays, analytics). Publication is best effort; a failed
// publish never affects the trip itself.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"nimbus.transitwatch.org/internal/logging"
	"nimbus.transitwatch.org/internal/models"
)

// PublisherMetrics receives publish counters. A nil value disables them.
type PublisherMetrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	PublishObserve(d time.Duration)
	NATSSetConnected(connected bool)
}

// TripEvent is the wire payload for one lifecycle change.
type TripEvent struct {
	TripID    string         `json:"trip_id"`
	RouteID   string         `json:"route_id"`
	DriverID  string         `json:"driver_id"`
	VehicleID string         `json:"vehicle_id"`
	Status    models.Status  `json:"status"`
	Reason    string         `json:"reason,omitempty"`
	Location  *models.LatLng `json:"location,omitempty"`
	At        time.Time      `json:"at"`
}

// NATSPublisher sends trip events on subjects of the form
// trips.<route>.<status>.
type NATSPublisher struct {
	nc      *nats.Conn
	log     *slog.Logger
	metrics PublisherMetrics
}

// NewNATSPublisher connects to the given NATS URL.
func NewNATSPublisher(url string, logger *slog.Logger, m PublisherMetrics) (*NATSPublisher, error) {
	log := logging.ForComponent(logger, "events")
	nc, err := nats.Connect(url,
		nats.Name("transitwatch"),
		nats.DisconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			logging.LogOperation(log, "nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			logging.LogOperation(log, "nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			logging.LogOperation(log, "nats closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	return &NATSPublisher{nc: nc, log: log, metrics: m}, nil
}

// Close drains and closes the connection.
func (p *NATSPublisher) Close() {
	if p.nc != nil {
		if err := p.nc.Drain(); err != nil {
			logging.LogError(p.log, "nats drain failed", err)
		}
		p.nc.Close()
	}
}

// PublishTripEvent sends one lifecycle change. Satisfies lifecycle.EventSink.
func (p *NATSPublisher) PublishTripEvent(_ context.Context, trip models.Trip) error {
	event := TripEvent{
		TripID:    trip.ID,
		RouteID:   trip.RouteID,
		DriverID:  trip.DriverID,
		VehicleID: trip.VehicleID,
		Status:    trip.Status,
		Reason:    trip.StatusReason,
		Location:  trip.LastKnownLocation,
		At:        trip.StatusTime,
	}
	subject := fmt.Sprintf("trips.%s.%s",
		subjectToken(trip.RouteID),
		subjectToken(strings.ToLower(trip.Status.String())))

	b, err := json.Marshal(event)
	if err != nil {
		return err
	}
	start := time.Now()
	err = p.nc.Publish(subject, b)
	if p.metrics != nil {
		p.metrics.PublishObserve(time.Since(start))
		if err != nil {
			p.metrics.NATSPublishErrInc()
		} else {
			p.metrics.NATSPublishedInc()
		}
	}
	return err
}

// subjectToken sanitizes one subject segment; NATS tokens cannot contain
// spaces, wildcards or separators.
func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
