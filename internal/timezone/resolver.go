// Package timezone maps phone numbers to IANA zones by calling-code prefix.
package timezone

import (
	"sort"
	"strings"
	"time"

	// Zone data is embedded so resolution does not depend on the host image.
	_ "time/tzdata"
)

// DefaultZone is used when no prefix matches.
const DefaultZone = "America/New_York"

type prefix struct {
	code string
	zone string
}

// Countries with several zones are pinned to their most populous business zone.
var defaultTable = map[string]string{
	"1":   "America/New_York",
	"7":   "Europe/Moscow",
	"27":  "Africa/Johannesburg",
	"31":  "Europe/Amsterdam",
	"32":  "Europe/Brussels",
	"33":  "Europe/Paris",
	"34":  "Europe/Madrid",
	"39":  "Europe/Rome",
	"41":  "Europe/Zurich",
	"44":  "Europe/London",
	"45":  "Europe/Copenhagen",
	"46":  "Europe/Stockholm",
	"47":  "Europe/Oslo",
	"48":  "Europe/Warsaw",
	"49":  "Europe/Berlin",
	"52":  "America/Mexico_City",
	"55":  "America/Sao_Paulo",
	"61":  "Australia/Sydney",
	"64":  "Pacific/Auckland",
	"65":  "Asia/Singapore",
	"81":  "Asia/Tokyo",
	"86":  "Asia/Shanghai",
	"91":  "Asia/Kolkata",
	"351": "Europe/Lisbon",
	"353": "Europe/Dublin",
	"358": "Europe/Helsinki",
	"852": "Asia/Hong_Kong",
	"971": "Asia/Dubai",
	"972": "Asia/Jerusalem",
}

// Resolver is safe for concurrent use; it is immutable after construction.
type Resolver struct {
	fallback string
	prefixes []prefix
}

// NewResolver builds a resolver over the built-in table. An invalid
// fallback is replaced by DefaultZone.
func NewResolver(fallback string) *Resolver {
	return NewResolverWithTable(fallback, defaultTable)
}

func NewResolverWithTable(fallback string, table map[string]string) *Resolver {
	if !Valid(fallback) {
		fallback = DefaultZone
	}
	ps := make([]prefix, 0, len(table))
	for code, zone := range table {
		if code == "" || !Valid(zone) {
			continue
		}
		ps = append(ps, prefix{code: code, zone: zone})
	}
	// Longest first so "353" wins over "35" and "3".
	sort.Slice(ps, func(i, j int) bool {
		if len(ps[i].code) != len(ps[j].code) {
			return len(ps[i].code) > len(ps[j].code)
		}
		return ps[i].code < ps[j].code
	})
	return &Resolver{fallback: fallback, prefixes: ps}
}

// Resolve returns the zone for phone, or the fallback zone.
func (r *Resolver) Resolve(phone string) string {
	digits := digitsOnly(phone)
	if digits == "" {
		return r.fallback
	}
	for _, p := range r.prefixes {
		if strings.HasPrefix(digits, p.code) {
			return p.zone
		}
	}
	return r.fallback
}

// Valid reports whether zone is a loadable IANA name.
func Valid(zone string) bool {
	if zone == "" || zone == "Local" {
		return false
	}
	_, err := time.LoadLocation(zone)
	return err == nil
}

func digitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
