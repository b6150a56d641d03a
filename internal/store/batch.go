package store

import (
	"fmt"

	"github.com/jlin/airtrace/internal/models"
)

// InsertStationBatch writes one source file's worth of station measurements
// as a single transaction. A natural-key collision is skipped (the row is
// already there from a previous run), so re-running ingestion over the same
// inputs inserts nothing and is safe. Any other failure rolls the whole
// batch back and surfaces the error; no partial file is ever committed.
// Returns the number of rows actually inserted.
func (s *Store) InsertStationBatch(batch []models.Measurement) (int64, error) {
	if len(batch) == 0 {
		return 0, nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO station_measurements (natural_key, site_id, pollutant_id, date, hour, value)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(natural_key) DO NOTHING
	`)
	if err != nil {
		return 0, fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	var inserted int64
	for _, m := range batch {
		res, err := stmt.Exec(m.Key, m.SiteID, m.PollutantID, formatDate(m.Date), m.Hour, m.Value)
		if err != nil {
			return 0, fmt.Errorf("insert %s: %w", m.Key, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("rows affected %s: %w", m.Key, err)
		}
		inserted += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return inserted, nil
}

// InsertRasterBatch is InsertStationBatch for raster-derived measurements;
// same transactional and idempotency contract, plus the source raster path.
func (s *Store) InsertRasterBatch(batch []models.RasterMeasurement) (int64, error) {
	if len(batch) == 0 {
		return 0, nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO raster_measurements (natural_key, site_id, pollutant_id, date, hour, value, source_path)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(natural_key) DO NOTHING
	`)
	if err != nil {
		return 0, fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	var inserted int64
	for _, m := range batch {
		res, err := stmt.Exec(m.Key, m.SiteID, m.PollutantID, formatDate(m.Date), m.Hour, m.Value, m.SourcePath)
		if err != nil {
			return 0, fmt.Errorf("insert %s: %w", m.Key, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("rows affected %s: %w", m.Key, err)
		}
		inserted += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return inserted, nil
}
