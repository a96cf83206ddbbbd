package catalog

import (
	"testing"
	"time"
)

func TestZipURL(t *testing.T) {
	tests := []struct {
		location    string
		wantArchive string
		wantEntry   string
		wantOK      bool
	}{
		{
			location:    "/vsizip/vsicurl/https://daten-hamburg.de/geographie/DGM1_2x2km_XYZ_hh_2021_04_01.zip/dgm1_32_565_5920_2_hh_2021.xyz",
			wantArchive: "https://daten-hamburg.de/geographie/DGM1_2x2km_XYZ_hh_2021_04_01.zip",
			wantEntry:   "dgm1_32_565_5920_2_hh_2021.xyz",
			wantOK:      true,
		},
		{
			location:    "/vsizip//vsicurl/https://x/a.zip/dir/b.txt",
			wantArchive: "https://x/a.zip",
			wantEntry:   "dir/b.txt",
			wantOK:      true,
		},
		{location: "https://x/tile.tif"},
	}

	for _, tt := range tests {
		t.Run(tt.location, func(t *testing.T) {
			archive, entry, ok := ZipURL(tt.location)
			if ok != tt.wantOK || archive != tt.wantArchive || entry != tt.wantEntry {
				t.Errorf("ZipURL() = (%q, %q, %v), want (%q, %q, %v)",
					archive, entry, ok, tt.wantArchive, tt.wantEntry, tt.wantOK)
			}
		})
	}
}

func TestVSICurl(t *testing.T) {
	tests := map[string]string{
		"https://x/t.tif":          "/vsicurl/https://x/t.tif",
		"/vsicurl/https://x/t.tif": "/vsicurl/https://x/t.tif",
		"/data/BB/t.tif":           "/data/BB/t.tif",
	}
	for in, want := range tests {
		if got := VSICurl(in); got != want {
			t.Errorf("VSICurl(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestArchiveURL(t *testing.T) {
	tests := []struct {
		location string
		want     string
		ok       bool
	}{
		{"/vsizip/vsicurl/https://x/a.zip/b.xyz", "https://x/a.zip", true},
		{"https://x/dgm_33250-5888.zip", "https://x/dgm_33250-5888.zip", true},
		{"/vsicurl/https://x/B.ZIP", "https://x/B.ZIP", true},
		{"https://x/tile.tif", "", false},
	}
	for _, tt := range tests {
		got, ok := ArchiveURL(tt.location)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ArchiveURL(%q) = (%q, %v), want (%q, %v)", tt.location, got, ok, tt.want, tt.ok)
		}
	}
}

func TestTileURL(t *testing.T) {
	now := time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name     string
		src      Source
		location string
		want     string
	}{
		{
			name:     "date token",
			src:      Source{DateToken: "DATE"},
			location: "https://gds.hessen.de/DATE/dgm1_32_477_5536.tif",
			want:     "https://gds.hessen.de/20260307/dgm1_32_477_5536.tif",
		},
		{
			name:     "relative",
			src:      Source{DataURL: "https://data.geobasis-bb.de/dgm/xyz/"},
			location: "dgm_33250-5888.zip",
			want:     "https://data.geobasis-bb.de/dgm/xyz/dgm_33250-5888.zip",
		},
		{
			name:     "absolute ignores data url",
			src:      Source{DataURL: "https://other/"},
			location: " https://x/t.tif ",
			want:     "https://x/t.tif",
		},
		{
			name:     "gdal path",
			src:      Source{DataURL: "https://other/"},
			location: "/vsizip/vsicurl/https://x/a.zip/b.xyz",
			want:     "/vsizip/vsicurl/https://x/a.zip/b.xyz",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.src.TileURL(tt.location, now); got != tt.want {
				t.Errorf("TileURL() = %q, want %q", got, tt.want)
			}
		})
	}
}
