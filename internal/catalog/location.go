package catalog

import (
	"path"
	"strings"
	"time"
)

const vsiCurl = "/vsicurl/"

// VSICurl prefixes a URL for GDAL's streaming driver. Other locations are
// returned unchanged.
func VSICurl(location string) string {
	if strings.HasPrefix(location, vsiCurl) || !isURL(location) {
		return location
	}
	return vsiCurl + location
}

// ZipURL splits a GDAL path like /vsizip/vsicurl/https://x/a.zip/b.xyz into
// the archive URL and the entry. ok is false for locations without archive.
func ZipURL(location string) (archive, entry string, ok bool) {
	s := strings.TrimPrefix(location, "/vsizip/")
	s = strings.TrimPrefix(s, "/")
	s = strings.TrimPrefix(s, "vsicurl/")
	before, after, found := strings.Cut(s, ".zip/")
	if !found {
		return "", "", false
	}
	return before + ".zip", after, true
}

// TileURL turns a tile index location into a fetchable location. The date
// token is replaced by the day of now and relative locations are resolved
// against the data URL.
func (s Source) TileURL(location string, now time.Time) string {
	loc := strings.TrimSpace(location)
	if s.DateToken != "" {
		loc = strings.ReplaceAll(loc, s.DateToken, now.Format("20060102"))
	}
	if s.DataURL != "" && !isURL(loc) && !strings.HasPrefix(loc, "/vsi") {
		loc = strings.TrimSuffix(s.DataURL, "/") + "/" + strings.TrimPrefix(loc, "/")
	}
	return loc
}

// ArchiveURL returns the zip archive a location lives in. Plain zip URLs
// are returned as they are.
func ArchiveURL(location string) (string, bool) {
	if archive, _, ok := ZipURL(location); ok {
		return archive, true
	}
	trimmed := strings.TrimPrefix(location, vsiCurl)
	if strings.EqualFold(path.Ext(trimmed), ".zip") {
		return trimmed, true
	}
	return "", false
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
