package store

import (
	"database/sql"
	"time"
)

// IngestUnit is the audit record for one file's ingestion attempt. One row
// per file per run, written whether the unit succeeded or rolled back.
type IngestUnit struct {
	ID              int64
	StartedAt       time.Time
	FinishedAt      sql.NullTime
	Source          string // "station-csv", "raster"
	File            string
	RecordsParsed   sql.NullInt64
	RecordsSkipped  sql.NullInt64
	RecordsInserted sql.NullInt64
	Success         bool
	ErrorMessage    sql.NullString
}

// StartIngestUnit records the beginning of one file's processing.
func (s *Store) StartIngestUnit(source, file string) (*IngestUnit, error) {
	unit := &IngestUnit{
		StartedAt: time.Now().UTC(),
		Source:    source,
		File:      file,
	}

	result, err := s.db.Exec(`
		INSERT INTO ingest_units (started_at, source, file, success)
		VALUES (?, ?, ?, FALSE)
	`, unit.StartedAt, unit.Source, unit.File)
	if err != nil {
		return nil, err
	}

	unit.ID, err = result.LastInsertId()
	if err != nil {
		return nil, err
	}
	return unit, nil
}

// CompleteIngestUnit writes the unit's outcome.
func (s *Store) CompleteIngestUnit(unit *IngestUnit) error {
	if unit == nil {
		return nil
	}

	unit.FinishedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}

	_, err := s.db.Exec(`
		UPDATE ingest_units SET
			finished_at = ?,
			records_parsed = ?,
			records_skipped = ?,
			records_inserted = ?,
			success = ?,
			error_message = ?
		WHERE id = ?
	`, unit.FinishedAt, unit.RecordsParsed, unit.RecordsSkipped,
		unit.RecordsInserted, unit.Success, unit.ErrorMessage, unit.ID)
	return err
}

// RecentUnitFailures returns the most recent failed units, newest first.
func (s *Store) RecentUnitFailures(limit int) ([]IngestUnit, error) {
	rows, err := s.db.Query(`
		SELECT id, started_at, finished_at, source, file,
		       records_parsed, records_skipped, records_inserted,
		       success, error_message
		FROM ingest_units
		WHERE success = FALSE
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []IngestUnit
	for rows.Next() {
		var u IngestUnit
		if err := rows.Scan(&u.ID, &u.StartedAt, &u.FinishedAt, &u.Source, &u.File,
			&u.RecordsParsed, &u.RecordsSkipped, &u.RecordsInserted,
			&u.Success, &u.ErrorMessage); err != nil {
			return nil, err
		}
		results = append(results, u)
	}
	return results, rows.Err()
}
