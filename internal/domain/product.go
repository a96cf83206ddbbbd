// Package domain contains the core types of the elevation importers.
package domain

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"unicode"
)

// Product is an elevation model product.
type Product string

// Products.
const (
	DTM  Product = "DTM"
	DSM  Product = "DSM"
	NDSM Product = "nDSM"
)

// Products lists all products in dispatch order.
var Products = []Product{DTM, DSM, NDSM}

// ParseProduct parses a product name case-insensitively.
func ParseProduct(s string) (Product, error) {
	for _, p := range Products {
		if strings.EqualFold(strings.TrimSpace(s), string(p)) {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownProduct, s)
}

// Prefix returns the lower-case name used for raster and directory names.
func (p Product) Prefix() string {
	return strings.ToLower(string(p))
}

// FederalState is the two-letter code of a German federal state.
type FederalState string

// Federal states.
const (
	BW FederalState = "BW"
	BY FederalState = "BY"
	BE FederalState = "BE"
	BB FederalState = "BB"
	HB FederalState = "HB"
	HH FederalState = "HH"
	HE FederalState = "HE"
	MV FederalState = "MV"
	NI FederalState = "NI"
	NW FederalState = "NW"
	RP FederalState = "RP"
	SL FederalState = "SL"
	SN FederalState = "SN"
	ST FederalState = "ST"
	SH FederalState = "SH"
	TH FederalState = "TH"
)

var stateNames = map[FederalState][]string{
	BW: {"Baden-Württemberg", "Baden-Wuerttemberg"},
	BY: {"Bayern", "Bavaria"},
	BE: {"Berlin"},
	BB: {"Brandenburg"},
	HB: {"Bremen"},
	HH: {"Hamburg"},
	HE: {"Hessen", "Hesse"},
	MV: {"Mecklenburg-Vorpommern"},
	NI: {"Niedersachsen", "Lower Saxony"},
	NW: {"Nordrhein-Westfalen", "NRW", "North Rhine-Westphalia"},
	RP: {"Rheinland-Pfalz"},
	SL: {"Saarland"},
	SN: {"Sachsen", "Saxony"},
	ST: {"Sachsen-Anhalt", "Saxony-Anhalt"},
	SH: {"Schleswig-Holstein"},
	TH: {"Thüringen", "Thueringen", "Thuringia"},
}

// Name returns the German name of the state.
func (s FederalState) Name() string {
	if names, ok := stateNames[s]; ok {
		return names[0]
	}
	return string(s)
}

// Lower returns the lower-case state code.
func (s FederalState) Lower() string {
	return strings.ToLower(string(s))
}

// Valid reports whether s is a known state code.
func (s FederalState) Valid() bool {
	_, ok := stateNames[s]
	return ok
}

// ParseState accepts a state code or name.
func ParseState(s string) (FederalState, error) {
	s = strings.TrimSpace(s)
	if code := FederalState(strings.ToUpper(s)); code.Valid() {
		return code, nil
	}
	for code, names := range stateNames {
		for _, n := range names {
			if strings.EqualFold(n, s) {
				return code, nil
			}
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownState, s)
}

// ParseStates parses a list of state codes or names. Entries may be separated
// by commas or line breaks. Duplicates are collapsed, first occurrence wins.
func ParseStates(values ...string) ([]FederalState, error) {
	var out []FederalState
	seen := make(map[FederalState]bool)
	for _, v := range values {
		for _, field := range splitStates(v) {
			st, err := ParseState(field)
			if err != nil {
				return nil, err
			}
			if !seen[st] {
				seen[st] = true
				out = append(out, st)
			}
		}
	}
	return out, nil
}

// ReadStates parses a federal state file: states separated by commas or
// newlines, '#' starts a comment.
func ReadStates(r io.Reader) ([]FederalState, error) {
	var lines []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		lines = append(lines, line)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return ParseStates(lines...)
}

// splitStates splits on commas, semicolons and line breaks. Whitespace only
// separates entries that are plain codes, since names may contain spaces.
func splitStates(s string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ';' || r == '\n' || r == '\r'
	}) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if fields := strings.Fields(part); len(fields) > 1 && allCodes(fields) {
			out = append(out, fields...)
			continue
		}
		out = append(out, part)
	}
	return out
}

func allCodes(fields []string) bool {
	for _, f := range fields {
		if len(f) != 2 || !unicode.IsLetter(rune(f[0])) || !FederalState(strings.ToUpper(f)).Valid() {
			return false
		}
	}
	return true
}
