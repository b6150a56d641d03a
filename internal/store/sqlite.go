// Package store persists pollutant observations in SQLite: reference data
// (sites, pollutants), the two hourly measurement streams keyed by natural
// key, the merged read path, and a per-file ingest audit trail.
package store

import (
	"database/sql"
	"strings"
	"time"

	"github.com/jlin/airtrace/internal/models"
)

const dateFormat = "2006-01-02"

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// UpsertSite creates or refreshes a site by name. Reference data is seeded
// out-of-band (by the CLI at startup), never by the ingestion core.
func (s *Store) UpsertSite(site models.Site) error {
	_, err := s.db.Exec(`
		INSERT INTO sites (site_name, longitude, latitude)
		VALUES (?, ?, ?)
		ON CONFLICT(site_name) DO UPDATE SET
			longitude = excluded.longitude,
			latitude = excluded.latitude
	`, site.Name, site.Longitude, site.Latitude)
	return err
}

func (s *Store) UpsertPollutant(name string) error {
	_, err := s.db.Exec(`
		INSERT INTO pollutants (pollutant_name) VALUES (?)
		ON CONFLICT(pollutant_name) DO NOTHING
	`, name)
	return err
}

// ListSites returns all sites ordered by display name.
func (s *Store) ListSites() ([]models.Site, error) {
	rows, err := s.db.Query(`SELECT site_id, site_name, longitude, latitude FROM sites ORDER BY site_name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sites []models.Site
	for rows.Next() {
		var site models.Site
		if err := rows.Scan(&site.SiteID, &site.Name, &site.Longitude, &site.Latitude); err != nil {
			return nil, err
		}
		sites = append(sites, site)
	}
	return sites, rows.Err()
}

// ListPollutants returns all pollutants ordered by display name.
func (s *Store) ListPollutants() ([]models.Pollutant, error) {
	rows, err := s.db.Query(`SELECT pollutant_id, pollutant_name FROM pollutants ORDER BY pollutant_name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pollutants []models.Pollutant
	for rows.Next() {
		var p models.Pollutant
		if err := rows.Scan(&p.PollutantID, &p.Name); err != nil {
			return nil, err
		}
		pollutants = append(pollutants, p)
	}
	return pollutants, rows.Err()
}

// SiteIDsByName returns the site name -> id map, loaded in one query so that
// per-record resolution during ingestion is a map lookup, not a query.
func (s *Store) SiteIDsByName() (map[string]int64, error) {
	rows, err := s.db.Query(`SELECT site_name, site_id FROM sites`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	m := make(map[string]int64)
	for rows.Next() {
		var name string
		var id int64
		if err := rows.Scan(&name, &id); err != nil {
			return nil, err
		}
		m[name] = id
	}
	return m, rows.Err()
}

// PollutantIDsByName returns the pollutant name -> id map with upper-cased
// keys, since file-path tokens and CSV type columns vary in case.
func (s *Store) PollutantIDsByName() (map[string]int64, error) {
	rows, err := s.db.Query(`SELECT pollutant_name, pollutant_id FROM pollutants`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	m := make(map[string]int64)
	for rows.Next() {
		var name string
		var id int64
		if err := rows.Scan(&name, &id); err != nil {
			return nil, err
		}
		m[strings.ToUpper(name)] = id
	}
	return m, rows.Err()
}

func formatDate(t time.Time) string {
	return t.Format(dateFormat)
}

func parseDate(s string) (time.Time, error) {
	// SQLite may hand dates back either as stored ("2006-01-02") or with a
	// time component, depending on how they were written.
	if len(s) > len(dateFormat) {
		s = s[:len(dateFormat)]
	}
	return time.ParseInLocation(dateFormat, s, time.UTC)
}
