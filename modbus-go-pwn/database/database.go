package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// Audit event types. Only operations are journaled, never scan results.
const (
	EventScanStarted  = "SCAN_STARTED"
	EventScanFinished = "SCAN_FINISHED"
	EventExploitWrite = "EXPLOIT_WRITE"
	EventDosStarted   = "DOS_STARTED"
	EventDosStopped   = "DOS_STOPPED"
)

// Event represents a single operation launched against a target.
type Event struct {
	Timestamp time.Time
	Target    string
	UnitID    int
	EventType string
	Detail    string
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp TEXT NOT NULL,
    target TEXT NOT NULL,
    unit_id INTEGER,
    event_type TEXT NOT NULL,
    detail TEXT
);`

// JournalPath returns the daily journal file for t under dir.
func JournalPath(dir string, t time.Time) string {
	return filepath.Join(dir, fmt.Sprintf("events_%s.db", t.Format("2006-01-02")))
}

// DatabaseWriter is a long-running goroutine that listens for events and writes them to a daily SQLite database under dir.
func DatabaseWriter(ctx context.Context, wg *sync.WaitGroup, dir string, eventChan <-chan Event, logger logrus.FieldLogger) {
	defer wg.Done()
	logger.Info("Database Writer Goroutine Started.")
	dbConnections := make(map[string]*sql.DB)
	defer func() {
		for _, db := range dbConnections {
			db.Close()
		}
		logger.Info("Database Writer Goroutine Shutting Down.")
	}()

	if err := os.MkdirAll(dir, 0755); err != nil {
		logger.Errorf("Could not create audit directory %s: %v", dir, err)
	}

	writeEvent := func(event Event) {
		dateStr := event.Timestamp.Format("2006-01-02")
		db, ok := dbConnections[dateStr]
		if !ok {
			var err error
			fileName := JournalPath(dir, event.Timestamp)
			db, err = sql.Open("sqlite", fileName)
			if err != nil {
				logger.Errorf("Could not open/create database %s: %v", fileName, err)
				return
			}
			dbConnections[dateStr] = db

			if _, err = db.Exec(createTableSQL); err != nil {
				logger.Errorf("Could not create table in %s: %v", fileName, err)
				db.Close()
				delete(dbConnections, dateStr)
				return
			}
			logger.Debugf("Opened audit journal %s", fileName)
		}

		_, err := db.Exec("INSERT INTO events(timestamp, target, unit_id, event_type, detail) VALUES(?, ?, ?, ?, ?)",
			event.Timestamp.Format("2006-01-02 15:04:05.000"), event.Target, event.UnitID, event.EventType, event.Detail)
		if err != nil {
			logger.Errorf("Failed to insert event into database: %v", err)
		}
	}

	for {
		select {
		case event, ok := <-eventChan:
			if !ok {
				return
			}
			writeEvent(event)

		case <-ctx.Done():
			logger.Info("Shutdown signal received. Writing remaining events to database...")
			for len(eventChan) > 0 {
				writeEvent(<-eventChan)
			}
			return
		}
	}
}

// ReadEvents returns every event journaled in one daily file, oldest first.
func ReadEvents(path string) ([]Event, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.Query("SELECT timestamp, target, unit_id, event_type, detail FROM events ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e      Event
			ts     string
			detail sql.NullString
		)
		if err := rows.Scan(&ts, &e.Target, &e.UnitID, &e.EventType, &detail); err != nil {
			return nil, err
		}
		e.Timestamp, _ = time.ParseInLocation("2006-01-02 15:04:05.000", ts, time.Local)
		e.Detail = detail.String
		events = append(events, e)
	}
	return events, rows.Err()
}
