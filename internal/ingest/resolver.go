package ingest

import (
	"fmt"
	"strings"

	"github.com/jlin/airtrace/internal/models"
	"github.com/jlin/airtrace/internal/store"
)

// Resolver maps site and pollutant display names to their identifiers.
// Loaded once per run so per-record resolution is an O(1) lookup instead of a
// query; immutable afterwards.
type Resolver struct {
	sites      map[string]int64
	pollutants map[string]int64 // upper-cased keys
	siteList   []models.Site
}

// LoadResolver reads the reference data. Failure here is fatal to the run:
// nothing downstream can resolve names without it.
func LoadResolver(st *store.Store) (*Resolver, error) {
	sites, err := st.SiteIDsByName()
	if err != nil {
		return nil, fmt.Errorf("load site map: %w", err)
	}
	pollutants, err := st.PollutantIDsByName()
	if err != nil {
		return nil, fmt.Errorf("load pollutant map: %w", err)
	}
	siteList, err := st.ListSites()
	if err != nil {
		return nil, fmt.Errorf("load site list: %w", err)
	}
	return &Resolver{sites: sites, pollutants: pollutants, siteList: siteList}, nil
}

// SiteID resolves a site display name.
func (r *Resolver) SiteID(name string) (int64, bool) {
	id, ok := r.sites[name]
	return id, ok
}

// PollutantID resolves a pollutant name, case-insensitively.
func (r *Resolver) PollutantID(name string) (int64, bool) {
	id, ok := r.pollutants[strings.ToUpper(name)]
	return id, ok
}

// Pollutants exposes the vocabulary for path parsing.
func (r *Resolver) Pollutants() map[string]int64 {
	return r.pollutants
}

// Sites returns every registered site with coordinates, the target points for
// raster sampling.
func (r *Resolver) Sites() []models.Site {
	return r.siteList
}
