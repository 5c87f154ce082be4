package geo

import (
	"context"
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"
)

// MaxMind resolves locations offline from GeoLite2/GeoIP2 City and ASN databases.
type MaxMind struct {
	cityReader *geoip2.Reader
	asnReader  *geoip2.Reader
}

// OpenMaxMind opens the City database and, when asnDBPath is set, the ASN database.
func OpenMaxMind(cityDBPath, asnDBPath string) (*MaxMind, error) {
	cityReader, err := geoip2.Open(cityDBPath)
	if err != nil {
		return nil, fmt.Errorf("open city database: %w", err)
	}
	m := &MaxMind{cityReader: cityReader}
	if asnDBPath != "" {
		asnReader, err := geoip2.Open(asnDBPath)
		if err != nil {
			cityReader.Close()
			return nil, fmt.Errorf("open asn database: %w", err)
		}
		m.asnReader = asnReader
	}
	return m, nil
}

func (m *MaxMind) Close() error {
	if m.asnReader != nil {
		m.asnReader.Close()
	}
	return m.cityReader.Close()
}

// Lookup never blocks on the network; ctx is only checked up front.
func (m *MaxMind) Lookup(ctx context.Context, ipAddress string) (Location, error) {
	if err := ctx.Err(); err != nil {
		return Location{}, fmt.Errorf("%w: %v", ErrLookupFailed, err)
	}
	ip := net.ParseIP(ipAddress)
	if ip == nil {
		return Location{}, fmt.Errorf("%w: invalid ip %q", ErrLookupFailed, ipAddress)
	}
	record, err := m.cityReader.City(ip)
	if err != nil {
		return Location{}, fmt.Errorf("%w: %v", ErrLookupFailed, err)
	}
	loc := Location{
		Country: record.Country.Names["en"],
		City:    record.City.Names["en"],
		Lat:     record.Location.Latitude,
		Lon:     record.Location.Longitude,
	}
	if m.asnReader != nil {
		if asn, err := m.asnReader.ASN(ip); err == nil {
			// GeoLite2 has no ISP field; the AS owner stands in for both
			loc.Provider = asn.AutonomousSystemOrganization
			loc.Organization = asn.AutonomousSystemOrganization
		}
	}
	return loc, nil
}
