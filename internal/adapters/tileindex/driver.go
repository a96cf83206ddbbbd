// Package tileindex reads tile index GeoPackages with SpatiaLite.
package tileindex

import (
	"database/sql"
	"os"

	"github.com/mattn/go-sqlite3"
)

// driverName is the sqlite driver with the SpatiaLite extension loaded.
const driverName = "sqlite3_with_extensions"

func init() {
	sql.Register(driverName, &sqlite3.SQLiteDriver{
		Extensions: spatiaLiteLibrary(),
	})
}

// spatiaLiteLibrary returns the SpatiaLite module to load. The environment
// variable wins; otherwise the first existing platform path is used and the
// bare module name is left to the dynamic loader.
func spatiaLiteLibrary() []string {
	if envPath := os.Getenv("SPATIALITE_LIBRARY_PATH"); envPath != "" {
		return []string{envPath}
	}

	candidates := []string{
		// Alpine
		"/usr/lib/mod_spatialite.so",
		"/usr/lib/mod_spatialite.so.8",
		// Debian/Ubuntu
		"/usr/lib/x86_64-linux-gnu/mod_spatialite.so",
		"/usr/lib/x86_64-linux-gnu/mod_spatialite.so.8",
		"/usr/lib/aarch64-linux-gnu/mod_spatialite.so",
		"/usr/lib/aarch64-linux-gnu/mod_spatialite.so.8",
		// Homebrew
		"/usr/local/lib/mod_spatialite.dylib",
		"/opt/homebrew/lib/mod_spatialite.dylib",
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return []string{p}
		}
	}
	return []string{"mod_spatialite"}
}
