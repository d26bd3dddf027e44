// Package tracking processes the active trip's position stream: it persists
// fixes, auto-completes the trip on destination arrival and fires staged
// proximity alerts through the notification gate.
package tracking

import (
	"fmt"
	"time"

	"nimbus.transitwatch.org/internal/models"
)

// Fix is one position report from a geolocation source.
type Fix struct {
	Location models.LatLng
	At       time.Time
}

// ErrorKind classifies geolocation failures. Each kind is reported
// distinctly; callers must not collapse them into a generic failure.
type ErrorKind int

const (
	KindPermissionDenied ErrorKind = iota
	KindPositionUnavailable
	KindTimeout
)

func (k ErrorKind) String() string {
	switch k {
	case KindPermissionDenied:
		return "permission_denied"
	case KindPositionUnavailable:
		return "position_unavailable"
	case KindTimeout:
		return "timeout"
	}
	return "unknown"
}

// WatchError is a classified geolocation failure.
type WatchError struct {
	Kind ErrorKind
	Err  error
}

func (e *WatchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("geolocation %s", e.Kind)
	}
	return fmt.Sprintf("geolocation %s: %v", e.Kind, e.Err)
}

func (e *WatchError) Unwrap() error { return e.Err }

// Source delivers position fixes asynchronously at its own cadence.
type Source interface {
	// Watch starts delivering fixes to onFix and failures to onError until
	// the returned stop function is called. Stop is idempotent and safe to
	// call from inside a callback; no new callback begins after it returns,
	// though one already in progress may finish. Consumers gate writes on
	// their own active flag, so a late in-flight fix is harmless.
	Watch(onFix func(Fix), onError func(*WatchError)) (stop func(), err error)
}
