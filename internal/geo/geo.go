package geo

import (
	"context"
	"errors"
)

// ErrLookupFailed wraps every failed lookup; callers degrade to an empty Location.
var ErrLookupFailed = errors.New("geolocation lookup failed")

// Location of a remote endpoint. Provider is the ISP, Organization the AS owner.
type Location struct {
	Country      string  `json:"country"`
	Provider     string  `json:"provider"`
	Organization string  `json:"organization"`
	City         string  `json:"city"`
	Lat          float64 `json:"lat"`
	Lon          float64 `json:"lon"`
}

func (l Location) Empty() bool { return l == Location{} }

// Locator resolves an IP address to a Location.
type Locator interface {
	Lookup(ctx context.Context, ip string) (Location, error)
}
