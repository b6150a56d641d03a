package store

import (
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/jlin/airtrace/internal/models"
)

type hourKey struct {
	date string
	hour int
}

// MergedSeries outer-joins the station and raster streams for one
// (site, pollutant) over an inclusive date range. Every (date, hour) present
// in either stream appears exactly once; the side with no observation is
// absent. Output is sorted ascending by (date, hour), since downstream charting
// relies on monotonic time. The join is a single hash-map pass over both
// result sets.
func (s *Store) MergedSeries(siteID, pollutantID int64, start, end time.Time) ([]models.SeriesPoint, error) {
	station, err := s.queryStream(`
		SELECT date, hour, value FROM station_measurements
		WHERE site_id = ? AND pollutant_id = ? AND date >= ? AND date <= ?
	`, siteID, pollutantID, start, end)
	if err != nil {
		return nil, fmt.Errorf("read station stream: %w", err)
	}

	raster, err := s.queryStream(`
		SELECT date, hour, value FROM raster_measurements
		WHERE site_id = ? AND pollutant_id = ? AND date >= ? AND date <= ?
	`, siteID, pollutantID, start, end)
	if err != nil {
		return nil, fmt.Errorf("read raster stream: %w", err)
	}

	merged := make(map[hourKey]*models.SeriesPoint, len(station)+len(raster))

	for _, row := range station {
		k := hourKey{formatDate(row.date), row.hour}
		merged[k] = &models.SeriesPoint{
			Date:         row.date,
			Hour:         row.hour,
			Timestamp:    timestampLabel(row.date, row.hour),
			StationValue: row.value,
		}
	}

	for _, row := range raster {
		k := hourKey{formatDate(row.date), row.hour}
		if pt, ok := merged[k]; ok {
			pt.RasterValue = row.value
			continue
		}
		merged[k] = &models.SeriesPoint{
			Date:        row.date,
			Hour:        row.hour,
			Timestamp:   timestampLabel(row.date, row.hour),
			RasterValue: row.value,
		}
	}

	points := make([]models.SeriesPoint, 0, len(merged))
	for _, pt := range merged {
		points = append(points, *pt)
	}
	sort.Slice(points, func(i, j int) bool {
		if !points[i].Date.Equal(points[j].Date) {
			return points[i].Date.Before(points[j].Date)
		}
		return points[i].Hour < points[j].Hour
	})
	return points, nil
}

type streamRow struct {
	date  time.Time
	hour  int
	value sql.NullFloat64
}

func (s *Store) queryStream(query string, siteID, pollutantID int64, start, end time.Time) ([]streamRow, error) {
	rows, err := s.db.Query(query, siteID, pollutantID, formatDate(start), formatDate(end))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []streamRow
	for rows.Next() {
		var r streamRow
		var dateStr string
		if err := rows.Scan(&dateStr, &r.hour, &r.value); err != nil {
			return nil, err
		}
		r.date, err = parseDate(dateStr)
		if err != nil {
			return nil, fmt.Errorf("parse stored date %q: %w", dateStr, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func timestampLabel(date time.Time, hour int) string {
	return fmt.Sprintf("%s %02d:00", date.Format(dateFormat), hour)
}
