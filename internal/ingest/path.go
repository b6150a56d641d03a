package ingest

import (
	"log"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jlin/airtrace/internal/ident"
)

// Raster paths embed their metadata as the last three path segments:
// .../NO2/2024_02_08/00.tif
var rasterPathPattern = regexp.MustCompile(`(?i)[/\\](\w+)[/\\](\d{4}_\d{2}_\d{2})[/\\](\d{2})\.tiff?$`)

// RasterFile is the metadata carried by a raster file's storage path.
type RasterFile struct {
	PollutantID   int64
	PollutantName string
	Date          time.Time
	Hour          int
	SourcePath    string
}

// ParseRasterPath extracts (pollutant, date, hour) from a raster path. The
// pollutant token is matched case-insensitively against the vocabulary (whose
// keys are upper-cased). Returns nil for any path that does not fit: these
// trees are produced externally, so malformed entries are logged and skipped
// rather than aborting the batch.
func ParseRasterPath(path string, pollutants map[string]int64) *RasterFile {
	m := rasterPathPattern.FindStringSubmatch(path)
	if m == nil {
		log.Printf("ingest: path %s does not match pollutant/date/hour layout", path)
		return nil
	}

	name := strings.ToUpper(m[1])
	pollutantID, ok := pollutants[name]
	if !ok {
		// Worth a warning: an unknown pollutant usually means the vocabulary
		// and the file tree have drifted apart.
		log.Printf("ingest: warning: unknown pollutant %q in path %s", name, path)
		return nil
	}

	date, err := time.ParseInLocation("2006_01_02", m[2], time.UTC)
	if err != nil {
		log.Printf("ingest: bad date token in path %s: %v", path, err)
		return nil
	}
	hour, err := strconv.Atoi(m[3])
	if err != nil || !ident.ValidHour(hour) {
		log.Printf("ingest: bad hour token %q in path %s", m[3], path)
		return nil
	}

	return &RasterFile{
		PollutantID:   pollutantID,
		PollutantName: name,
		Date:          date,
		Hour:          hour,
		SourcePath:    path,
	}
}
