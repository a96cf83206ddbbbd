package domain

import (
	"fmt"
	"sort"
)

// Availability classifies whether a state publishes a product as open data
// that can be imported.
type Availability string

// Availability buckets.
const (
	NoOpenData      Availability = "NO_OPEN_DATA"
	NotYetSupported Availability = "NOT_YET_SUPPORTED"
	Supported       Availability = "SUPPORTED"
	Unknown         Availability = "UNKNOWN"
)

// Importable reports whether the bucket allows an open data import.
// Unknown counts as importable.
func (a Availability) Importable() bool {
	return a == Supported || a == Unknown
}

// SupportMatrix maps product and availability to states.
type SupportMatrix map[Product]map[Availability][]FederalState

// OpenDataAvailability is the static support matrix.
var OpenDataAvailability = SupportMatrix{
	DTM: {
		NoOpenData: {BW, BY},
		NotYetSupported: {
			// available data
			RP, ST,
			// no data available
			MV, NI, SL, SH,
		},
		Supported: {BB, BE, HE, HH, NW, SN, TH},
	},
	DSM: {
		NoOpenData: {BW, BY},
		NotYetSupported: {
			// available data
			NW, ST,
			// no data available
			MV, NI, RP, SH, SL,
		},
		Supported: {BB, BE, HE, HH, SN, TH},
	},
	NDSM: {
		NoOpenData: {BW, BY},
		NotYetSupported: {
			// calculated from DSM and DTM
			BB, BE, HE, HH, TH,
			// available data
			SN, ST,
			// no data available
			MV, NI, RP, SH, SL,
		},
		Supported: {NW},
	},
}

// AlwaysLocal lists states whose data is only ever read from local
// directories. Local data that misses the area of interest is fatal for them.
var AlwaysLocal = []FederalState{BW}

// IsAlwaysLocal reports whether s is in AlwaysLocal.
func IsAlwaysLocal(s FederalState) bool {
	for _, st := range AlwaysLocal {
		if st == s {
			return true
		}
	}
	return false
}

// Classify returns the bucket of a state for a product.
func (m SupportMatrix) Classify(p Product, s FederalState) Availability {
	for _, a := range []Availability{NoOpenData, NotYetSupported, Supported} {
		for _, st := range m[p][a] {
			if st == s {
				return a
			}
		}
	}
	return Unknown
}

// States returns the states of a bucket, sorted.
func (m SupportMatrix) States(p Product, a Availability) []FederalState {
	out := append([]FederalState(nil), m[p][a]...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Validate checks that no state appears in more than one bucket of a product.
func (m SupportMatrix) Validate() error {
	for p, buckets := range m {
		seen := make(map[FederalState]Availability)
		for a, states := range buckets {
			for _, s := range states {
				if prev, ok := seen[s]; ok {
					return &ValidationError{
						Field:      string(p) + "." + string(s),
						Value:      []Availability{prev, a},
						Constraint: "one bucket per product",
						Message:    fmt.Sprintf("state %s classified twice", s),
					}
				}
				seen[s] = a
			}
		}
	}
	return nil
}
