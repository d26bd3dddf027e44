// Package store defines the realtime document store capability the
// reconciliation core is written against: filtered point queries, filtered
// push subscriptions that deliver the full matching set on every change,
// and async writes with a server-assigned timestamp sentinel.
//
// Two implementations are provided: an in-memory store for a single session
// and a SQLite-backed store for durable sessions. Both are in-process; the
// store is the single source of truth and the core holds no durable state of
// its own.
package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"sort"
	"time"
)

// Collection names used by the application.
const (
	CollectionRoutes    = "routes"
	CollectionStops     = "stops"
	CollectionVehicles  = "vehicles"
	CollectionDrivers   = "drivers"
	CollectionSchedules = "schedules"
	CollectionTrips     = "trips"
)

// ErrNotFound is returned by GetByID when no document matches.
var ErrNotFound = errors.New("document not found")

// Fields is the schemaless body of a document.
type Fields map[string]any

// Document is one stored record with its store-assigned id.
type Document struct {
	ID     string
	Fields Fields
}

// Clone returns a copy whose field map is independent of the original.
// Values are shared; documents are treated as immutable once delivered.
func (d Document) Clone() Document {
	fields := make(Fields, len(d.Fields))
	for k, v := range d.Fields {
		fields[k] = v
	}
	return Document{ID: d.ID, Fields: fields}
}

// Op is a filter comparison operator.
type Op int

const (
	OpEq Op = iota
	OpIn
)

// Filter restricts a query or subscription to matching documents.
type Filter struct {
	Field string
	Op    Op
	Value any
	In    []any
}

// Eq matches documents whose field equals value.
func Eq(field string, value any) Filter {
	return Filter{Field: field, Op: OpEq, Value: value}
}

// In matches documents whose field equals any of the given values.
func In(field string, values ...any) Filter {
	return Filter{Field: field, Op: OpIn, In: values}
}

// Matches reports whether the document satisfies the filter.
func (f Filter) Matches(doc Document) bool {
	got, ok := doc.Fields[f.Field]
	if !ok {
		return false
	}
	switch f.Op {
	case OpEq:
		return got == f.Value
	case OpIn:
		for _, v := range f.In {
			if got == v {
				return true
			}
		}
	}
	return false
}

func matchesAll(doc Document, filters []Filter) bool {
	for _, f := range filters {
		if !f.Matches(doc) {
			return false
		}
	}
	return true
}

// Event is one subscription notification: the complete current matching set,
// or a subscription error. After an error the subscription stays open and a
// later change delivers a fresh full set.
type Event struct {
	Docs []Document
	Err  error
}

// Store is the trip-store capability contract.
type Store interface {
	// Query returns the documents matching all filters, ordered ascending by
	// orderBy when non-empty.
	Query(ctx context.Context, collection string, filters []Filter, orderBy string) ([]Document, error)

	// Subscribe delivers the full current matching set immediately and again
	// after every change to the collection, until unsubscribed.
	Subscribe(ctx context.Context, collection string, filters ...Filter) (*Subscription, error)

	// GetByID returns a single document or ErrNotFound.
	GetByID(ctx context.Context, collection, id string) (Document, error)

	// Update merges the given fields into an existing document.
	Update(ctx context.Context, collection, id string, fields Fields) error

	// Add stores a new document and returns its assigned id.
	Add(ctx context.Context, collection string, fields Fields) (string, error)

	// Set stores a document under a caller-chosen id, replacing any existing
	// fields. Used by back-office style seeding (reference data, imports).
	Set(ctx context.Context, collection, id string, fields Fields) error

	Close() error
}

type serverTimestamp struct{}

// ServerTimestamp returns the sentinel replaced by the store's own clock at
// write time. Used for last_updated, last_status_time, trip_start_time and
// end_time so ordering decisions never depend on client clocks.
func ServerTimestamp() any { return serverTimestamp{} }

func resolveSentinels(fields Fields, now time.Time) Fields {
	resolved := make(Fields, len(fields))
	for k, v := range fields {
		if _, ok := v.(serverTimestamp); ok {
			resolved[k] = now
			continue
		}
		resolved[k] = v
	}
	return resolved
}

func sortDocs(docs []Document, orderBy string) {
	if orderBy == "" {
		return
	}
	sort.SliceStable(docs, func(i, j int) bool {
		return lessValue(docs[i].Fields[orderBy], docs[j].Fields[orderBy])
	})
}

func lessValue(a, b any) bool {
	switch av := a.(type) {
	case string:
		if bv, ok := b.(string); ok {
			return av < bv
		}
	case float64:
		if bv, ok := b.(float64); ok {
			return av < bv
		}
	case int:
		if bv, ok := b.(int); ok {
			return av < bv
		}
	case time.Time:
		if bv, ok := b.(time.Time); ok {
			return av.Before(bv)
		}
	}
	return false
}

func newDocumentID() string {
	buf := make([]byte, 10)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand only fails when the platform entropy source is broken;
		// fall back to a time-derived id rather than aborting a write.
		return hex.EncodeToString([]byte(time.Now().Format("20060102150405.000000000")))[:20]
	}
	return hex.EncodeToString(buf)
}
