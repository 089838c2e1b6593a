package geoip

import (
	"encoding/json"
	"net"
	"os"

	"github.com/oschwald/geoip2-golang"

	"github.com/patrickwarner/videoadserve/internal/models"
)

// GeoIP provides location lookup using a MaxMind DB or a JSON fallback.
type GeoIP struct {
	db       *geoip2.Reader
	fallback []record
}

type record struct {
	net     *net.IPNet
	country string
	region  string
	city    string
}

// Init opens the GeoIP2 database located at path. If the file is not a
// MaxMind database it is parsed as a JSON list of
// {"net","country","region","city"} entries.
func Init(path string) (*GeoIP, error) {
	g := &GeoIP{}
	db, err := geoip2.Open(path)
	if err == nil {
		g.db = db
		return g, nil
	}

	data, jerr := os.ReadFile(path)
	if jerr != nil {
		return nil, err
	}
	var entries []struct {
		Net     string `json:"net"`
		Country string `json:"country"`
		Region  string `json:"region"`
		City    string `json:"city"`
	}
	if jerr = json.Unmarshal(data, &entries); jerr != nil {
		return nil, err
	}
	for _, e := range entries {
		if _, n, perr := net.ParseCIDR(e.Net); perr == nil {
			g.fallback = append(g.fallback, record{net: n, country: e.Country, region: e.Region, city: e.City})
		}
	}
	return g, nil
}

// Lookup returns the location for ip, or nil when it is unknown.
func (g *GeoIP) Lookup(ip net.IP) *models.Location {
	if g == nil || ip == nil {
		return nil
	}
	if g.db != nil {
		rec, err := g.db.City(ip)
		if err == nil && rec.Country.IsoCode != "" {
			loc := &models.Location{Country: rec.Country.IsoCode, City: rec.City.Names["en"]}
			if len(rec.Subdivisions) > 0 {
				loc.Region = rec.Subdivisions[0].IsoCode
			}
			return loc
		}
	}
	for _, r := range g.fallback {
		if r.net.Contains(ip) {
			return &models.Location{Country: r.country, Region: r.region, City: r.city}
		}
	}
	return nil
}

// Country returns the ISO country code for the given IP, or "" if unknown.
func (g *GeoIP) Country(ip net.IP) string {
	if loc := g.Lookup(ip); loc != nil {
		return loc.Country
	}
	return ""
}

// Close releases resources associated with the database.
func (g *GeoIP) Close() error {
	if g != nil && g.db != nil {
		return g.db.Close()
	}
	return nil
}
