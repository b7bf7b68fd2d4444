// Package geo resolves a best-effort location descriptor for a client
// address from a MaxMind GeoLite2/GeoIP2 City database. Lookups never fail:
// an unknown address yields a descriptor with "Unknown" fields and a note.
package geo

import (
	"fmt"
	"log"
	"net"
	"strings"

	"github.com/oschwald/geoip2-golang"
)

const unknown = "Unknown"

const (
	noteLocalhost   = "Localhost - development environment"
	noteUnavailable = "Location not available (VPN/Proxy possible)"
)

// Location is the descriptor stored with a report.
type Location struct {
	IP        string  `json:"ip"`
	Country   string  `json:"country"`
	Region    string  `json:"region"`
	City      string  `json:"city"`
	Timezone  string  `json:"timezone,omitempty"`
	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`
	Note      string  `json:"note,omitempty"`
}

// Locator looks up addresses. A Locator without a database returns the
// fallback descriptor for every address.
type Locator struct {
	db *geoip2.Reader
}

// Open loads the City database at path. An empty path yields a Locator that
// always falls back.
func Open(path string) (*Locator, error) {
	if path == "" {
		return &Locator{}, nil
	}
	db, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("geo: open %s: %w", path, err)
	}
	return &Locator{db: db}, nil
}

// Close releases the database.
func (l *Locator) Close() error {
	if l.db == nil {
		return nil
	}
	return l.db.Close()
}

// Locate returns the location descriptor for addr.
func (l *Locator) Locate(addr string) Location {
	ip := net.ParseIP(strings.TrimSpace(addr))
	if l.db == nil || ip == nil || ip.IsLoopback() || ip.IsPrivate() {
		return Fallback(addr)
	}

	rec, err := l.db.City(ip)
	if err != nil {
		log.Printf("[geo] lookup %s: %v", addr, err)
		return Fallback(addr)
	}
	if rec.Country.IsoCode == "" {
		return Fallback(addr)
	}

	loc := Location{
		IP:        addr,
		Country:   rec.Country.IsoCode,
		Region:    unknown,
		City:      unknown,
		Timezone:  rec.Location.TimeZone,
		Latitude:  rec.Location.Latitude,
		Longitude: rec.Location.Longitude,
	}
	if len(rec.Subdivisions) > 0 && rec.Subdivisions[0].IsoCode != "" {
		loc.Region = rec.Subdivisions[0].IsoCode
	}
	if name := rec.City.Names["en"]; name != "" {
		loc.City = name
	}
	return loc
}

// Fallback is the descriptor used when no location is known for addr.
func Fallback(addr string) Location {
	note := noteUnavailable
	if strings.Contains(addr, "::1") || strings.Contains(addr, "127.0.0.1") {
		note = noteLocalhost
	}
	return Location{
		IP:      addr,
		Country: unknown,
		Region:  unknown,
		City:    unknown,
		Note:    note,
	}
}
