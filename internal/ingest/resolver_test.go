package ingest

import "testing"

func TestResolverLookups(t *testing.T) {
	st := setupTestStore(t)
	resolver := seedAndResolve(t, st)

	if _, ok := resolver.SiteID("Huangcun"); !ok {
		t.Error("registered site not resolvable")
	}
	if _, ok := resolver.SiteID("Nowhere"); ok {
		t.Error("unregistered site resolved")
	}

	// Pollutant names match case-insensitively: CSV type columns and path
	// tokens vary in case.
	upper, ok := resolver.PollutantID("NO2")
	if !ok {
		t.Fatal("NO2 not resolvable")
	}
	lower, ok := resolver.PollutantID("no2")
	if !ok {
		t.Fatal("no2 not resolvable")
	}
	if upper != lower {
		t.Errorf("case-variant lookups disagree: %d != %d", upper, lower)
	}

	if _, ok := resolver.PollutantID("XYZ"); ok {
		t.Error("unknown pollutant resolved")
	}

	if len(resolver.Sites()) != 2 {
		t.Errorf("Sites() = %d entries, want 2", len(resolver.Sites()))
	}
}
