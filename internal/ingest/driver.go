package ingest

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"time"

	"github.com/jlin/airtrace/internal/ident"
	"github.com/jlin/airtrace/internal/metrics"
	"github.com/jlin/airtrace/internal/models"
	"github.com/jlin/airtrace/internal/store"
)

// Sampler extracts the scalar value covering a geographic point from a
// raster file. ok is false for no-data pixels and points off the grid.
type Sampler interface {
	Sample(path string, lon, lat float64) (value float64, ok bool, err error)
}

// ErrNoInputFiles aborts a run before any write: an empty file list means a
// misconfigured input path, not an empty day.
var ErrNoInputFiles = errors.New("no input files found")

const (
	SourceStationCSV = "station-csv"
	SourceRaster     = "raster"
)

// Driver walks a file list and ingests each file as one isolated unit: parse,
// resolve references, (for rasters) sample every registered site, then hand
// the batch to the store's transactional upsert. One bad file never aborts
// the run; its failure is recorded and the next file proceeds.
type Driver struct {
	store    *store.Store
	resolver *Resolver
	sampler  Sampler
}

func NewDriver(st *store.Store, resolver *Resolver, sampler Sampler) *Driver {
	return &Driver{store: st, resolver: resolver, sampler: sampler}
}

// FileResult is the per-file line of a run summary.
type FileResult struct {
	File     string
	Parsed   int
	Skipped  int
	Inserted int64
	Err      error
}

// Summary aggregates a run. Failures never escape per-file boundaries except
// as these counted results.
type Summary struct {
	TotalInserted int64
	Results       []FileResult
}

// Failures counts files whose unit rolled back.
func (s *Summary) Failures() int {
	n := 0
	for _, r := range s.Results {
		if r.Err != nil {
			n++
		}
	}
	return n
}

// RunStationFiles ingests wide-format station CSV files.
func (d *Driver) RunStationFiles(files []string) (*Summary, error) {
	if len(files) == 0 {
		return nil, ErrNoInputFiles
	}

	summary := &Summary{}
	for _, file := range files {
		result := d.ingestStationFile(file)
		summary.TotalInserted += result.Inserted
		summary.Results = append(summary.Results, result)
	}
	return summary, nil
}

func (d *Driver) ingestStationFile(file string) FileResult {
	started := time.Now()
	result := FileResult{File: file}
	unit, err := d.store.StartIngestUnit(SourceStationCSV, file)
	if err != nil {
		// Audit rows are best-effort; the data write still proceeds.
		log.Printf("driver: start ingest unit for %s: %v", file, err)
	}

	f, err := os.Open(file)
	if err != nil {
		return d.finishUnit(unit, result, started, SourceStationCSV, fmt.Errorf("open: %w", err))
	}
	records, cellSkips, err := ReshapeWide(f)
	f.Close()
	if err != nil {
		return d.finishUnit(unit, result, started, SourceStationCSV, fmt.Errorf("reshape: %w", err))
	}
	result.Parsed = len(records)
	result.Skipped = cellSkips
	metrics.RecordsSkipped.WithLabelValues(SourceStationCSV, "malformed").Add(float64(cellSkips))

	var batch []models.Measurement
	for _, rec := range records {
		siteID, ok := d.resolver.SiteID(rec.Site)
		if !ok {
			// Sites not yet registered are assumed intentionally excluded.
			result.Skipped++
			metrics.RecordsSkipped.WithLabelValues(SourceStationCSV, "unknown_site").Inc()
			continue
		}
		pollutantID, ok := d.resolver.PollutantID(rec.Pollutant)
		if !ok {
			log.Printf("driver: warning: pollutant %q not registered, dropping record (%s)", rec.Pollutant, file)
			result.Skipped++
			metrics.RecordsSkipped.WithLabelValues(SourceStationCSV, "unknown_pollutant").Inc()
			continue
		}
		batch = append(batch, models.Measurement{
			Key:         ident.Key(rec.Date, rec.Hour, siteID, pollutantID),
			SiteID:      siteID,
			PollutantID: pollutantID,
			Date:        rec.Date,
			Hour:        rec.Hour,
			Value:       sql.NullFloat64{Float64: rec.Value, Valid: true},
		})
	}

	inserted, err := d.store.InsertStationBatch(batch)
	if err != nil {
		return d.finishUnit(unit, result, started, SourceStationCSV, fmt.Errorf("upsert batch: %w", err))
	}
	result.Inserted = inserted
	return d.finishUnit(unit, result, started, SourceStationCSV, nil)
}

// RunRasterFiles samples every registered site from each raster file and
// ingests the results. Files whose path metadata does not parse are skipped
// (counted, audited) rather than failed: the trees are produced externally
// and stray files are expected.
func (d *Driver) RunRasterFiles(files []string) (*Summary, error) {
	if len(files) == 0 {
		return nil, ErrNoInputFiles
	}

	summary := &Summary{}
	for _, file := range files {
		result := d.ingestRasterFile(file)
		summary.TotalInserted += result.Inserted
		summary.Results = append(summary.Results, result)
	}
	return summary, nil
}

func (d *Driver) ingestRasterFile(file string) FileResult {
	started := time.Now()
	result := FileResult{File: file}
	unit, err := d.store.StartIngestUnit(SourceRaster, file)
	if err != nil {
		log.Printf("driver: start ingest unit for %s: %v", file, err)
	}

	info := ParseRasterPath(file, d.resolver.Pollutants())
	if info == nil {
		result.Skipped = 1
		metrics.RecordsSkipped.WithLabelValues(SourceRaster, "bad_path").Inc()
		if unit != nil {
			unit.ErrorMessage = sql.NullString{String: "path metadata did not parse", Valid: true}
		}
		return d.finishUnit(unit, result, started, SourceRaster, nil)
	}

	var batch []models.RasterMeasurement
	for _, site := range d.resolver.Sites() {
		value, ok, err := d.sampler.Sample(file, site.Longitude, site.Latitude)
		if err != nil {
			// One failed sample must not block other sites or files.
			log.Printf("driver: sample %s at site %s: %v", file, site.Name, err)
			metrics.RasterSamples.WithLabelValues("error").Inc()
			result.Skipped++
			continue
		}
		if !ok {
			metrics.RasterSamples.WithLabelValues("nodata").Inc()
			continue
		}
		metrics.RasterSamples.WithLabelValues("ok").Inc()
		value = math.Round(value*100) / 100
		if value < 0 {
			log.Printf("driver: negative sample %.2f at site %s in %s, dropping", value, site.Name, file)
			result.Skipped++
			metrics.RecordsSkipped.WithLabelValues(SourceRaster, "negative").Inc()
			continue
		}
		result.Parsed++
		batch = append(batch, models.RasterMeasurement{
			Measurement: models.Measurement{
				Key:         ident.Key(info.Date, info.Hour, site.SiteID, info.PollutantID),
				SiteID:      site.SiteID,
				PollutantID: info.PollutantID,
				Date:        info.Date,
				Hour:        info.Hour,
				Value:       sql.NullFloat64{Float64: value, Valid: true},
			},
			SourcePath: info.SourcePath,
		})
	}

	inserted, err := d.store.InsertRasterBatch(batch)
	if err != nil {
		return d.finishUnit(unit, result, started, SourceRaster, fmt.Errorf("upsert batch: %w", err))
	}
	result.Inserted = inserted
	return d.finishUnit(unit, result, started, SourceRaster, nil)
}

func (d *Driver) finishUnit(unit *store.IngestUnit, result FileResult, started time.Time, source string, err error) FileResult {
	result.Err = err

	status := "ok"
	if err != nil {
		status = "failed"
		log.Printf("driver: %s: %v", result.File, err)
	} else {
		log.Printf("driver: %s: parsed %d, inserted %d, skipped %d", result.File, result.Parsed, result.Inserted, result.Skipped)
	}
	metrics.FilesProcessed.WithLabelValues(source, status).Inc()
	metrics.RecordsInserted.WithLabelValues(source).Add(float64(result.Inserted))
	metrics.FileDuration.WithLabelValues(source).Observe(time.Since(started).Seconds())

	if unit != nil {
		unit.Success = err == nil && !unit.ErrorMessage.Valid
		unit.RecordsParsed = sql.NullInt64{Int64: int64(result.Parsed), Valid: true}
		unit.RecordsSkipped = sql.NullInt64{Int64: int64(result.Skipped), Valid: true}
		unit.RecordsInserted = sql.NullInt64{Int64: result.Inserted, Valid: true}
		if err != nil {
			unit.ErrorMessage = sql.NullString{String: err.Error(), Valid: true}
		}
		if cerr := d.store.CompleteIngestUnit(unit); cerr != nil {
			log.Printf("driver: complete ingest unit for %s: %v", result.File, cerr)
		}
	}
	return result
}
