package application

import "testing"

func TestTileName(t *testing.T) {
	tests := []struct {
		location string
		want     string
	}{
		{"https://example.org/dgm1_32_390_5820_1_th.tif", "dgm1_32_390_5820_1_th_abc"},
		{"/vsizip/vsicurl/https://example.org/a.zip/3dm_33_410_5650.xyz", "tile_3dm_33_410_5650_abc"},
		{`C:\data\dom-1.tif?x=1`, "dom1_abc"},
		{"https://example.org/a.b.tif", "a_b_abc"},
		{"https://example.org/.tif", "tile__abc"},
	}
	for _, tt := range tests {
		t.Run(tt.location, func(t *testing.T) {
			if got := tileName(tt.location, "abc"); got != tt.want {
				t.Errorf("tileName(%q) = %q, want %q", tt.location, got, tt.want)
			}
		})
	}
}
