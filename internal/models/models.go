package models

import (
	"database/sql"
	"time"
)

// Site is a ground monitoring station. Reference data, created out-of-band
// and read-only during an ingestion run.
type Site struct {
	SiteID    int64
	Name      string
	Longitude float64
	Latitude  float64
}

// Pollutant is a measured species (NO2, PM2.5, ...). Reference data.
type Pollutant struct {
	PollutantID int64
	Name        string
}

// Measurement is one hourly station reading. Key is the natural key derived
// from (date, hour, site, pollutant); the store enforces it as unique and
// treats a second write for the same key as a no-op.
type Measurement struct {
	Key         string
	SiteID      int64
	PollutantID int64
	Date        time.Time // date only, midnight UTC
	Hour        int
	Value       sql.NullFloat64
	CreatedAt   time.Time
}

// RasterMeasurement is one hourly reading sampled out of a raster field at a
// site's coordinates. SourcePath records which raster it came from.
type RasterMeasurement struct {
	Measurement
	SourcePath string
}

// SeriesPoint is one hour of the merged station/raster series. Either value
// may be absent when that stream has no observation for the hour. Derived on
// read, never persisted.
type SeriesPoint struct {
	Date         time.Time
	Hour         int
	Timestamp    string // "YYYY-MM-DD HH:00" chart label
	StationValue sql.NullFloat64
	RasterValue  sql.NullFloat64
}
