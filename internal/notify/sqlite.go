package notify

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteGate persists fired keys so alert suppression survives a client
// restart within the same session, the way the original per-device key-value
// side-store did.
type SQLiteGate struct {
	db *sql.DB
}

// NewSQLiteGate opens (creating if needed) the fired-keys database at path.
func NewSQLiteGate(path string) (*SQLiteGate, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open notification gate database: %w", err)
	}
	db.SetMaxOpenConns(1)

	g := &SQLiteGate{db: db}
	if err := g.init(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize notification gate: %w", err)
	}
	return g, nil
}

func (g *SQLiteGate) init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS fired_alerts (
		key TEXT PRIMARY KEY,
		trip_id TEXT NOT NULL,
		fired_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_fired_alerts_trip ON fired_alerts(trip_id);
	`
	_, err := g.db.Exec(schema)
	return err
}

func (g *SQLiteGate) ShouldFire(key string) bool {
	var one int
	err := g.db.QueryRow(`SELECT 1 FROM fired_alerts WHERE key = ?`, key).Scan(&one)
	// A read failure suppresses rather than re-fires: a duplicate alert is
	// worse than a missed one once the key may already be recorded.
	return err == sql.ErrNoRows
}

func (g *SQLiteGate) MarkFired(key string) error {
	tripID, _, _ := splitKey(key)
	_, err := g.db.Exec(`
		INSERT OR IGNORE INTO fired_alerts (key, trip_id, fired_at)
		VALUES (?, ?, ?)
	`, key, tripID, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to record fired alert %q: %w", key, err)
	}
	return nil
}

func (g *SQLiteGate) ResetTrip(tripID string) error {
	_, err := g.db.Exec(`DELETE FROM fired_alerts WHERE trip_id = ?`, tripID)
	if err != nil {
		return fmt.Errorf("failed to reset alerts for trip %q: %w", tripID, err)
	}
	return nil
}

func (g *SQLiteGate) Close() error { return g.db.Close() }

func splitKey(key string) (tripID, threshold string, ok bool) {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == ':' {
			return key[:i], key[i+1:], true
		}
	}
	return key, "", false
}
