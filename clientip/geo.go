package clientip

import (
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"
)

// GeoLocator maps addresses to ISO country codes using a MaxMind City or
// Country database. A nil *GeoLocator is valid and knows nothing.
type GeoLocator struct {
	reader *geoip2.Reader
}

func OpenGeoLocator(path string) (*GeoLocator, error) {
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open geoip database: %w", err)
	}
	return &GeoLocator{reader: reader}, nil
}

// Country returns the ISO code for ip, or "" when unknown.
func (g *GeoLocator) Country(ip string) string {
	if g == nil || g.reader == nil {
		return ""
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return ""
	}
	record, err := g.reader.Country(parsed)
	if err != nil {
		return ""
	}
	return record.Country.IsoCode
}

func (g *GeoLocator) Close() error {
	if g == nil || g.reader == nil {
		return nil
	}
	return g.reader.Close()
}
