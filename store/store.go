/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package store is the durable queue of map-note reports. It is the only
// persistent state of the gateway: a single sqlite file holding the notes
// table, per-origin preferences and one row of system state used by the
// clock-skew corrector.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// Report statuses. A report only ever moves from pending to sent.
const (
	StatusPending = "pending"
	StatusSent    = "sent"
)

// DedupBucketSeconds is the width of the tumbling dedup window.
const DedupBucketSeconds = 120

// ErrNotPending is returned by MarkSent when the report already left the
// pending state; double delivery must not overwrite upstream identifiers.
var ErrNotPending = errors.New("report is not pending")

// Report is one persisted row of the notes table.
type Report struct {
	ID             int64
	QueueID        string
	Origin         string
	CreatedAt      time.Time
	Lat            float64
	Lon            float64
	TextOriginal   string
	TextNormalized string
	Status         string
	UpstreamID     int64
	UpstreamURL    string
	SentAt         time.Time
	LastError      string
	NotifiedSent   bool
}

// Store wraps the sqlite handle. All writes go through a single
// connection, so they serialize inside the driver.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS notes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	queue_id TEXT UNIQUE NOT NULL,
	origin TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	lat REAL NOT NULL,
	lon REAL NOT NULL,
	text_original TEXT NOT NULL,
	text_normalized TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	upstream_id INTEGER,
	upstream_url TEXT,
	sent_at INTEGER,
	last_error TEXT,
	notified_sent INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_notes_origin ON notes(origin);
CREATE INDEX IF NOT EXISTS idx_notes_status ON notes(status);
CREATE INDEX IF NOT EXISTS idx_notes_created_at ON notes(created_at);
CREATE INDEX IF NOT EXISTS idx_notes_origin_created ON notes(origin, created_at);
CREATE TABLE IF NOT EXISTS system_state (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	boot_wallclock INTEGER,
	time_correction_applied INTEGER NOT NULL DEFAULT 0,
	last_broadcast_date TEXT
);
CREATE TABLE IF NOT EXISTS user_prefs (
	origin TEXT PRIMARY KEY,
	language TEXT NOT NULL
);
`

// Open opens (and if needed creates) the database at path.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	// one connection keeps every write serialized
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	if _, err := db.Exec(`INSERT OR IGNORE INTO system_state (id) VALUES (1)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing system state: %w", err)
	}
	log.Infof("Database initialized at %s", path)
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append persists a freshly accepted report and mints its queue
// identifier from the assigned row id: Q- plus the id zero-padded to
// width 4, growing naturally past Q-9999.
func (s *Store) Append(origin string, lat, lon float64, textOriginal, textNormalized string, createdAt time.Time) (string, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		INSERT INTO notes (queue_id, origin, created_at, lat, lon, text_original, text_normalized, status)
		VALUES ('', ?, ?, ?, ?, ?, ?, 'pending')`,
		origin, createdAt.UTC().Unix(), lat, lon, textOriginal, textNormalized)
	if err != nil {
		return "", fmt.Errorf("inserting report: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return "", err
	}
	queueID := FormatQueueID(id)
	if _, err := tx.Exec(`UPDATE notes SET queue_id = ? WHERE id = ?`, queueID, id); err != nil {
		return "", fmt.Errorf("assigning queue id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	log.Infof("Created report %s for origin %s", queueID, origin)
	return queueID, nil
}

// FormatQueueID derives the human-readable queue token from a row id.
func FormatQueueID(id int64) string {
	return fmt.Sprintf("Q-%04d", id)
}

// MarkSent transitions a report from pending to sent and records the upstream
// note identity. Any other starting state returns ErrNotPending.
func (s *Store) MarkSent(queueID string, upstreamID int64, upstreamURL string, sentAt time.Time) error {
	res, err := s.db.Exec(`
		UPDATE notes SET status = 'sent', upstream_id = ?, upstream_url = ?, sent_at = ?
		WHERE queue_id = ? AND status = 'pending'`,
		upstreamID, upstreamURL, sentAt.UTC().Unix(), queueID)
	if err != nil {
		return fmt.Errorf("marking %s sent: %w", queueID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotPending
	}
	log.Infof("Marked report %s as sent (note #%d)", queueID, upstreamID)
	return nil
}

// RecordError stores the tag of the last failed publish attempt. The
// report stays pending.
func (s *Store) RecordError(queueID, tag string) error {
	_, err := s.db.Exec(`UPDATE notes SET last_error = ? WHERE queue_id = ?`, tag, queueID)
	return err
}

// CheckDuplicate reports whether an equivalent report already exists:
// same origin, same normalized text, position within the dedup rounding
// tolerance and created inside the same 120 s bucket.
func (s *Store) CheckDuplicate(origin, textNormalized string, latRounded, lonRounded float64, bucket int64) (bool, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM notes
		WHERE origin = ?
		  AND text_normalized = ?
		  AND ABS(lat - ?) < 0.0001
		  AND ABS(lon - ?) < 0.0001
		  AND created_at / ? = ?`,
		origin, textNormalized, latRounded, lonRounded, int64(DedupBucketSeconds), bucket).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking duplicate: %w", err)
	}
	return n > 0, nil
}

// PendingPage returns up to limit pending reports, oldest first.
func (s *Store) PendingPage(limit int) ([]Report, error) {
	return s.queryReports(`
		SELECT `+reportColumns+` FROM notes
		WHERE status = 'pending'
		ORDER BY created_at ASC, id ASC
		LIMIT ?`, limit)
}

// PendingBefore returns pending reports created at or before t. The
// flush worker uses it to pick the rows eligible for skew correction.
func (s *Store) PendingBefore(t time.Time) ([]Report, error) {
	return s.queryReports(`
		SELECT `+reportColumns+` FROM notes
		WHERE status = 'pending' AND created_at <= ?
		ORDER BY created_at ASC, id ASC`, t.UTC().Unix())
}

// ShiftCreatedAt moves created_at of the given rows by delta in one
// statement. Used once per boot by the skew corrector.
func (s *Store) ShiftCreatedAt(ids []int64, delta time.Duration) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+1)
	args = append(args, int64(delta.Seconds()))
	for _, id := range ids {
		args = append(args, id)
	}
	res, err := s.db.Exec(`
		UPDATE notes SET created_at = created_at + ?
		WHERE status = 'pending' AND id IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("shifting timestamps: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// GetByQueueID fetches one report.
func (s *Store) GetByQueueID(queueID string) (*Report, error) {
	reports, err := s.queryReports(`SELECT `+reportColumns+` FROM notes WHERE queue_id = ?`, queueID)
	if err != nil {
		return nil, err
	}
	if len(reports) == 0 {
		return nil, nil
	}
	return &reports[0], nil
}

// UnannouncedSent lists sent reports whose origin has not yet been told,
// oldest sent first.
func (s *Store) UnannouncedSent() ([]Report, error) {
	return s.queryReports(`
		SELECT ` + reportColumns + ` FROM notes
		WHERE status = 'sent' AND notified_sent = 0
		ORDER BY sent_at ASC, id ASC`)
}

// MarkAnnounced latches notified_sent so a promotion is announced at most
// once for the lifetime of the row.
func (s *Store) MarkAnnounced(queueID string) error {
	_, err := s.db.Exec(`UPDATE notes SET notified_sent = 1 WHERE queue_id = ?`, queueID)
	return err
}

// OriginStats answers #osmcount and the per-origin part of #osmstatus.
// "Today" is evaluated in the gateway's display timezone.
func (s *Store) OriginStats(origin string, loc *time.Location) (total, today, queue int, err error) {
	if err = s.db.QueryRow(`SELECT COUNT(*) FROM notes WHERE origin = ?`, origin).Scan(&total); err != nil {
		return
	}
	dayStart := startOfDay(time.Now().In(loc))
	if err = s.db.QueryRow(`SELECT COUNT(*) FROM notes WHERE origin = ? AND created_at >= ?`,
		origin, dayStart.Unix()).Scan(&today); err != nil {
		return
	}
	err = s.db.QueryRow(`SELECT COUNT(*) FROM notes WHERE origin = ? AND status = 'pending'`, origin).Scan(&queue)
	return
}

// TotalQueue returns the number of pending reports across all origins.
func (s *Store) TotalQueue() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM notes WHERE status = 'pending'`).Scan(&n)
	return n, err
}

// RecentReports returns the newest reports for an origin, for #osmlist.
func (s *Store) RecentReports(origin string, limit int) ([]Report, error) {
	return s.queryReports(`
		SELECT `+reportColumns+` FROM notes
		WHERE origin = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, origin, limit)
}

// SentCount returns how many reports from origin have reached sent.
// The notifier keys the privacy-suffix cadence off this counter.
func (s *Store) SentCount(origin string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM notes WHERE origin = ? AND status = 'sent'`, origin).Scan(&n)
	return n, err
}

// RecordBoot stores the boot wall-clock reading and re-arms the one-shot
// skew correction for this process lifetime.
func (s *Store) RecordBoot(t time.Time) error {
	_, err := s.db.Exec(`
		UPDATE system_state SET boot_wallclock = ?, time_correction_applied = 0 WHERE id = 1`,
		t.UTC().Unix())
	return err
}

// BootState returns the recorded boot wall clock and whether the skew
// correction already ran.
func (s *Store) BootState() (time.Time, bool, error) {
	var boot sql.NullInt64
	var applied int
	err := s.db.QueryRow(`SELECT boot_wallclock, time_correction_applied FROM system_state WHERE id = 1`).
		Scan(&boot, &applied)
	if err != nil {
		return time.Time{}, false, err
	}
	var bootTime time.Time
	if boot.Valid {
		bootTime = time.Unix(boot.Int64, 0).UTC()
	}
	return bootTime, applied != 0, nil
}

// SetTimeCorrectionApplied latches the one-shot correction flag.
func (s *Store) SetTimeCorrectionApplied() error {
	_, err := s.db.Exec(`UPDATE system_state SET time_correction_applied = 1 WHERE id = 1`)
	return err
}

// LastBroadcastDate returns the calendar day (YYYY-MM-DD) of the last
// daily broadcast, or empty when none was ever sent.
func (s *Store) LastBroadcastDate() (string, error) {
	var d sql.NullString
	err := s.db.QueryRow(`SELECT last_broadcast_date FROM system_state WHERE id = 1`).Scan(&d)
	if err != nil {
		return "", err
	}
	return d.String, nil
}

// SetLastBroadcastDate latches the daily broadcast for the given day.
func (s *Store) SetLastBroadcastDate(day string) error {
	_, err := s.db.Exec(`UPDATE system_state SET last_broadcast_date = ? WHERE id = 1`, day)
	return err
}

// UserLanguage returns the stored language preference for origin, or
// empty when the origin never chose one.
func (s *Store) UserLanguage(origin string) (string, error) {
	var lang string
	err := s.db.QueryRow(`SELECT language FROM user_prefs WHERE origin = ?`, origin).Scan(&lang)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return lang, err
}

// SetUserLanguage stores the language preference for origin.
func (s *Store) SetUserLanguage(origin, lang string) error {
	_, err := s.db.Exec(`
		INSERT INTO user_prefs (origin, language) VALUES (?, ?)
		ON CONFLICT(origin) DO UPDATE SET language = excluded.language`, origin, lang)
	return err
}

const reportColumns = `id, queue_id, origin, created_at, lat, lon, text_original, text_normalized,
	status, upstream_id, upstream_url, sent_at, last_error, notified_sent`

func (s *Store) queryReports(query string, args ...any) ([]Report, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Report
	for rows.Next() {
		var r Report
		var createdAt int64
		var upstreamID sql.NullInt64
		var upstreamURL, lastError sql.NullString
		var sentAt sql.NullInt64
		var notified int
		if err := rows.Scan(&r.ID, &r.QueueID, &r.Origin, &createdAt, &r.Lat, &r.Lon,
			&r.TextOriginal, &r.TextNormalized, &r.Status,
			&upstreamID, &upstreamURL, &sentAt, &lastError, &notified); err != nil {
			return nil, err
		}
		r.CreatedAt = time.Unix(createdAt, 0).UTC()
		r.UpstreamID = upstreamID.Int64
		r.UpstreamURL = upstreamURL.String
		if sentAt.Valid {
			r.SentAt = time.Unix(sentAt.Int64, 0).UTC()
		}
		r.LastError = lastError.String
		r.NotifiedSent = notified != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
