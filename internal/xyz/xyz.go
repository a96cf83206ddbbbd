// Package xyz reads and repairs gridded XYZ point files as published by the
// state survey offices.
package xyz

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/jobrunner/demimport/internal/domain"
)

// Separator names as understood by r.in.xyz.
const (
	Comma     = "comma"
	Semicolon = "semicolon"
	Space     = "space"
)

// ErrEmpty is returned for files without a single valid point.
var ErrEmpty = errors.New("xyz: no valid points")

// Summary describes the points of an XYZ file.
type Summary struct {
	Extent     domain.Extent
	Points     int
	Separator  string
	Resolution float64 // smallest spacing between distinct x values
}

// DetectSeparator guesses the separator of a data line.
func DetectSeparator(line string) string {
	switch {
	case strings.Contains(line, ";"):
		return Semicolon
	case strings.Contains(line, ","):
		return Comma
	default:
		return Space
	}
}

// Scan reads an XYZ file and summarizes its points. An empty separator is
// detected from the first data line. Malformed rows are skipped.
func Scan(path, sep string) (Summary, error) {
	f, err := os.Open(path) //#nosec G304 -- path comes from the download directory
	if err != nil {
		return Summary{}, err
	}
	defer func() { _ = f.Close() }()
	return ScanReader(f, sep)
}

// ScanReader is Scan over a reader.
func ScanReader(r io.Reader, sep string) (Summary, error) {
	s := Summary{Separator: sep}
	s.Extent = domain.Extent{MinX: math.Inf(1), MinY: math.Inf(1), MaxX: math.Inf(-1), MaxY: math.Inf(-1)}
	xs := make(map[float64]struct{})

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if s.Separator == "" {
			s.Separator = DetectSeparator(line)
		}
		x, y, _, ok := parsePoint(line, s.Separator)
		if !ok {
			continue
		}
		s.Points++
		s.Extent.MinX = math.Min(s.Extent.MinX, x)
		s.Extent.MaxX = math.Max(s.Extent.MaxX, x)
		s.Extent.MinY = math.Min(s.Extent.MinY, y)
		s.Extent.MaxY = math.Max(s.Extent.MaxY, y)
		if len(xs) < 4096 {
			xs[x] = struct{}{}
		}
	}
	if err := sc.Err(); err != nil {
		return Summary{}, err
	}
	if s.Points == 0 {
		return Summary{}, ErrEmpty
	}
	s.Resolution = spacing(xs)
	return s, nil
}

// Repair rewrites a file so that every row holds exactly three numbers.
// Trailing separators are trimmed and rows that still do not parse are
// dropped. The original file is kept as <path>.bak when anything changed.
// It returns the number of changed rows and the backup path.
func Repair(path, sep string) (int, string, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- path comes from the download directory
	if err != nil {
		return 0, "", err
	}

	lines := strings.Split(string(data), "\n")
	out := make([]string, 0, len(lines))
	fixed := 0
	for _, raw := range lines {
		line := strings.TrimRight(raw, "\r")
		if strings.TrimSpace(line) == "" {
			if line != "" {
				fixed++
			}
			continue
		}
		if sep == "" {
			sep = DetectSeparator(line)
		}
		clean := strings.TrimRight(strings.TrimSpace(line), separatorChars(sep))
		if _, _, _, ok := parsePoint(clean, sep); !ok {
			fixed++
			continue
		}
		if clean != line {
			fixed++
		}
		out = append(out, clean)
	}
	if fixed == 0 {
		return 0, "", nil
	}

	backup := path + ".bak"
	if err := os.WriteFile(backup, data, 0o600); err != nil {
		return 0, "", fmt.Errorf("writing backup: %w", err)
	}
	if err := os.WriteFile(path, []byte(strings.Join(out, "\n")+"\n"), 0o600); err != nil {
		return 0, backup, fmt.Errorf("rewriting %s: %w", path, err)
	}
	return fixed, backup, nil
}

func parsePoint(line, sep string) (x, y, z float64, ok bool) {
	var fields []string
	switch sep {
	case Comma:
		fields = strings.Split(line, ",")
	case Semicolon:
		fields = strings.Split(line, ";")
	default:
		fields = strings.Fields(line)
	}
	if len(fields) != 3 {
		return 0, 0, 0, false
	}
	vals := [3]float64{}
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return 0, 0, 0, false
		}
		vals[i] = v
	}
	return vals[0], vals[1], vals[2], true
}

func separatorChars(sep string) string {
	switch sep {
	case Comma:
		return ", \t"
	case Semicolon:
		return "; \t"
	default:
		return " \t"
	}
}

func spacing(xs map[float64]struct{}) float64 {
	if len(xs) < 2 {
		return 0
	}
	sorted := make([]float64, 0, len(xs))
	for x := range xs {
		sorted = append(sorted, x)
	}
	sort.Float64s(sorted)
	best := math.Inf(1)
	for i := 1; i < len(sorted); i++ {
		if d := sorted[i] - sorted[i-1]; d > 0 && d < best {
			best = d
		}
	}
	if math.IsInf(best, 1) {
		return 0
	}
	// round away float noise, e.g. 0.49999999 -> 0.5
	return math.Round(best*1e6) / 1e6
}

// CellExtent grows a point extent by half a cell so that the points become
// cell centres.
func CellExtent(s Summary) domain.Extent {
	if s.Resolution <= 0 {
		return s.Extent
	}
	return s.Extent.Buffer(s.Resolution / 2)
}
