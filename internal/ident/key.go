// Package ident derives the natural key that makes observation writes
// idempotent: one stable string per (date, hour, site, pollutant).
package ident

import (
	"fmt"
	"time"
)

// Key returns the natural key for an observation. The fields are joined with
// "-" so that adjacent numeric identifiers can never run together: site 1 with
// pollutant 23 keys differently from site 12 with pollutant 3. hour must
// already be validated to [0,23] by the caller; the store additionally
// enforces it with a check constraint.
//
// The output is byte-identical across runs for identical inputs. Example:
// Key(2024-02-10, 0, 28, 1) == "2024-02-10-00-28-1".
func Key(date time.Time, hour int, siteID, pollutantID int64) string {
	return fmt.Sprintf("%s-%02d-%d-%d", date.Format("2006-01-02"), hour, siteID, pollutantID)
}

// ValidHour reports whether h is a legal hour-of-day.
func ValidHour(h int) bool {
	return h >= 0 && h <= 23
}
