// Package ingest turns station CSV files and raster file trees into
// idempotent measurement batches, one isolated transaction per file.
package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/jlin/airtrace/internal/ident"
)

// StationRecord is one melted (date, hour, pollutant, site, value) tuple out
// of a wide-format station CSV.
type StationRecord struct {
	Date      time.Time
	Hour      int
	Pollutant string
	Site      string
	Value     float64
}

// The fixed leading columns of a wide station CSV; every further column is a
// site name. The date column really is spelled "data" upstream.
var wideHeader = []string{"data", "hour", "type"}

// ReshapeWide melts a wide station CSV (one column per site) into long
// tuples. Cells with no value are dropped silently: missing station data is a
// gap, not an error. Malformed rows and unparseable cells are dropped too and
// counted in skipped. Only an unreadable stream or an unrecognized header is
// an error, since then nothing in the file can be trusted.
func ReshapeWide(r io.Reader) (records []StationRecord, skipped int, err error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, 0, fmt.Errorf("read header: %w", err)
	}
	if len(header) < len(wideHeader)+1 {
		return nil, 0, fmt.Errorf("header has %d columns, want date/hour/pollutant plus at least one site", len(header))
	}
	for i, want := range wideHeader {
		if !strings.EqualFold(strings.TrimSpace(header[i]), want) {
			return nil, 0, fmt.Errorf("header column %d is %q, want %q", i, header[i], want)
		}
	}
	siteColumns := header[len(wideHeader):]

	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, 0, fmt.Errorf("read row: %w", err)
		}
		if len(row) < len(wideHeader) {
			skipped++
			continue
		}

		date, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(row[0]), time.UTC)
		if err != nil {
			log.Printf("ingest: skipping row with bad date %q: %v", row[0], err)
			skipped += countCells(row, siteColumns)
			continue
		}
		hour, err := strconv.Atoi(strings.TrimSpace(row[1]))
		if err != nil || !ident.ValidHour(hour) {
			log.Printf("ingest: skipping row with bad hour %q", row[1])
			skipped += countCells(row, siteColumns)
			continue
		}
		pollutant := strings.TrimSpace(row[2])

		for i, site := range siteColumns {
			col := len(wideHeader) + i
			if col >= len(row) {
				break
			}
			cell := strings.TrimSpace(row[col])
			if cell == "" {
				continue
			}
			value, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				skipped++
				continue
			}
			records = append(records, StationRecord{
				Date:      date,
				Hour:      hour,
				Pollutant: pollutant,
				Site:      strings.TrimSpace(site),
				Value:     value,
			})
		}
	}

	return records, skipped, nil
}

// countCells counts the non-empty site cells of a row being dropped wholesale
// so the skip totals stay honest.
func countCells(row, siteColumns []string) int {
	n := 0
	for i := range siteColumns {
		col := len(wideHeader) + i
		if col < len(row) && strings.TrimSpace(row[col]) != "" {
			n++
		}
	}
	return n
}
