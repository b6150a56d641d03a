package main

import (
	"database/sql"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"
	_ "modernc.org/sqlite"

	"github.com/jlin/airtrace/internal/fetch"
	"github.com/jlin/airtrace/internal/ingest"
	"github.com/jlin/airtrace/internal/models"
	"github.com/jlin/airtrace/internal/raster"
	"github.com/jlin/airtrace/internal/store"
)

// Reference data is created here, out-of-band from the ingestion core. Site
// names must match the station CSV column headers; operators extend this via
// direct inserts.
var defaultSites = []models.Site{
	{Name: "Daxing Huangcun", Longitude: 116.404, Latitude: 39.718},
	{Name: "Daxing Jiugong", Longitude: 116.47456, Latitude: 39.78284},
}

var defaultPollutants = []string{"NO2", "PM2.5", "PM10", "SO2", "O3", "CO"}

type cli struct {
	DB          string `help:"Path to the SQLite database." default:"data/airtrace.db" env:"AIRTRACE_DB"`
	MetricsAddr string `help:"Serve Prometheus metrics on this address (empty disables)." env:"AIRTRACE_METRICS_ADDR"`

	ImportStations importStationsCmd `cmd:"" help:"Ingest wide-format station CSV files from a directory."`
	ImportRasters  importRastersCmd  `cmd:"" help:"Sample rasters at every registered site and ingest the values."`
	Mirror         mirrorCmd         `cmd:"" help:"Mirror the upstream raster tree over FTP."`
	Merge          mergeCmd          `cmd:"" help:"Print the merged station/raster series for one site and pollutant as CSV."`
}

// appEnv opens the store lazily: mirror runs without touching the database.
type appEnv struct {
	dbPath string
	st     *store.Store
}

func (e *appEnv) store() (*store.Store, error) {
	if e.st != nil {
		return e.st, nil
	}

	if dir := filepath.Dir(e.dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", e.dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA busy_timeout=5000")

	st := store.New(db)
	if err := st.Migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	for _, site := range defaultSites {
		if err := st.UpsertSite(site); err != nil {
			return nil, fmt.Errorf("seed site %s: %w", site.Name, err)
		}
	}
	for _, name := range defaultPollutants {
		if err := st.UpsertPollutant(name); err != nil {
			return nil, fmt.Errorf("seed pollutant %s: %w", name, err)
		}
	}

	e.st = st
	return st, nil
}

type importStationsCmd struct {
	Dir string `arg:"" help:"Directory containing station CSV files." type:"existingdir"`
}

func (c *importStationsCmd) Run(env *appEnv) error {
	st, err := env.store()
	if err != nil {
		return err
	}
	resolver, err := ingest.LoadResolver(st)
	if err != nil {
		return fmt.Errorf("load reference data: %w", err)
	}

	files, err := findFiles(c.Dir, ".csv")
	if err != nil {
		return fmt.Errorf("discover csv files: %w", err)
	}

	driver := ingest.NewDriver(st, resolver, nil)
	summary, err := driver.RunStationFiles(files)
	if err != nil {
		return err
	}
	logSummary(summary)
	return nil
}

type importRastersCmd struct {
	Dir string `arg:"" help:"Root of the raster file tree." type:"existingdir"`
}

func (c *importRastersCmd) Run(env *appEnv) error {
	st, err := env.store()
	if err != nil {
		return err
	}
	resolver, err := ingest.LoadResolver(st)
	if err != nil {
		return fmt.Errorf("load reference data: %w", err)
	}

	files, err := findFiles(c.Dir, ".tif", ".tiff")
	if err != nil {
		return fmt.Errorf("discover raster files: %w", err)
	}

	driver := ingest.NewDriver(st, resolver, raster.GeoTIFF{})
	summary, err := driver.RunRasterFiles(files)
	if err != nil {
		return err
	}
	logSummary(summary)
	return nil
}

type mirrorCmd struct {
	Addr      string `help:"FTP server host:port." env:"AIRTRACE_FTP_ADDR" required:""`
	User      string `help:"FTP user." env:"AIRTRACE_FTP_USER" default:"anonymous"`
	Pass      string `help:"FTP password." env:"AIRTRACE_FTP_PASS" default:"anonymous"`
	RemoteDir string `help:"Remote directory to mirror." env:"AIRTRACE_FTP_REMOTE_DIR" default:"/"`
	Dest      string `arg:"" help:"Local directory to mirror into."`
}

func (c *mirrorCmd) Run(env *appEnv) error {
	mirror := fetch.NewMirror(c.Addr, c.User, c.Pass)
	n, err := mirror.Run(c.RemoteDir, c.Dest)
	if err != nil {
		return err
	}
	log.Printf("mirror: downloaded %d files into %s", n, c.Dest)
	return nil
}

type mergeCmd struct {
	Site      string `help:"Site display name." required:""`
	Pollutant string `help:"Pollutant name." required:""`
	Start     string `help:"Start date (YYYY-MM-DD, inclusive)." required:""`
	End       string `help:"End date (YYYY-MM-DD, inclusive)." required:""`
}

func (c *mergeCmd) Run(env *appEnv) error {
	st, err := env.store()
	if err != nil {
		return err
	}

	start, err := time.ParseInLocation("2006-01-02", c.Start, time.UTC)
	if err != nil {
		return fmt.Errorf("parse start date: %w", err)
	}
	end, err := time.ParseInLocation("2006-01-02", c.End, time.UTC)
	if err != nil {
		return fmt.Errorf("parse end date: %w", err)
	}
	if end.Before(start) {
		return fmt.Errorf("end date %s is before start date %s", c.End, c.Start)
	}

	resolver, err := ingest.LoadResolver(st)
	if err != nil {
		return fmt.Errorf("load reference data: %w", err)
	}
	siteID, ok := resolver.SiteID(c.Site)
	if !ok {
		return fmt.Errorf("unknown site %q", c.Site)
	}
	pollutantID, ok := resolver.PollutantID(c.Pollutant)
	if !ok {
		return fmt.Errorf("unknown pollutant %q", c.Pollutant)
	}

	points, err := st.MergedSeries(siteID, pollutantID, start, end)
	if err != nil {
		return fmt.Errorf("merge: %w", err)
	}

	fmt.Println("timestamp,station_value,raster_value")
	for _, pt := range points {
		fmt.Printf("%s,%s,%s\n", pt.Timestamp, formatNull(pt.StationValue), formatNull(pt.RasterValue))
	}
	return nil
}

func formatNull(v sql.NullFloat64) string {
	if !v.Valid {
		return ""
	}
	return fmt.Sprintf("%g", v.Float64)
}

func findFiles(root string, exts ...string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(p))
		for _, want := range exts {
			if ext == want {
				files = append(files, p)
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

func logSummary(summary *ingest.Summary) {
	for _, r := range summary.Results {
		if r.Err != nil {
			log.Printf("failed: %s: %v", r.File, r.Err)
		}
	}
	log.Printf("run complete: %d files, %d inserted, %d failed",
		len(summary.Results), summary.TotalInserted, summary.Failures())
}

func main() {
	var c cli
	app := kong.Parse(&c,
		kong.Name("airtrace"),
		kong.Description("Ingests station and satellite pollutant observations into one hourly series."),
		kong.Configuration(kongdotenv.ENVFileReader, ".env"),
	)

	if c.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(c.MetricsAddr, mux); err != nil {
				log.Printf("metrics server: %v", err)
			}
		}()
	}

	app.FatalIfErrorf(app.Run(&appEnv{dbPath: c.DB}))
}
