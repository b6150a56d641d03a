package ingest

import (
	"testing"
	"time"
)

func TestParseRasterPath(t *testing.T) {
	vocab := map[string]int64{"NO2": 1, "PM25": 2}

	tests := []struct {
		name string
		path string
		want *RasterFile
	}{
		{
			name: "canonical path",
			path: "tif/NO2/2024_02_08/00.tif",
			want: &RasterFile{PollutantID: 1, PollutantName: "NO2", Hour: 0},
		},
		{
			name: "lowercase pollutant token",
			path: "data/no2/2024_02_08/13.tif",
			want: &RasterFile{PollutantID: 1, PollutantName: "NO2", Hour: 13},
		},
		{
			name: "tiff extension",
			path: "/abs/path/NO2/2024_02_08/23.tiff",
			want: &RasterFile{PollutantID: 1, PollutantName: "NO2", Hour: 23},
		},
		{
			name: "windows separators",
			path: `J:\data\tif\NO2\2024_02_08\07.tif`,
			want: &RasterFile{PollutantID: 1, PollutantName: "NO2", Hour: 7},
		},
		{name: "unknown pollutant", path: "tif/SO2/2024_02_08/00.tif"},
		{name: "invalid calendar date", path: "tif/NO2/2024_02_30/00.tif"},
		{name: "hour out of range", path: "tif/NO2/2024_02_08/24.tif"},
		{name: "missing date segment", path: "tif/NO2/00.tif"},
		{name: "wrong extension", path: "tif/NO2/2024_02_08/00.png"},
		{name: "date with dashes", path: "tif/NO2/2024-02-08/00.tif"},
	}

	wantDate := time.Date(2024, 2, 8, 0, 0, 0, 0, time.UTC)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseRasterPath(tt.path, vocab)
			if tt.want == nil {
				if got != nil {
					t.Fatalf("ParseRasterPath(%q) = %+v, want nil", tt.path, got)
				}
				return
			}
			if got == nil {
				t.Fatalf("ParseRasterPath(%q) = nil, want %+v", tt.path, tt.want)
			}
			if got.PollutantID != tt.want.PollutantID || got.PollutantName != tt.want.PollutantName || got.Hour != tt.want.Hour {
				t.Errorf("ParseRasterPath(%q) = %+v, want %+v", tt.path, got, tt.want)
			}
			if !got.Date.Equal(wantDate) {
				t.Errorf("Date = %v, want %v", got.Date, wantDate)
			}
			if got.SourcePath != tt.path {
				t.Errorf("SourcePath = %q, want %q", got.SourcePath, tt.path)
			}
		})
	}
}
