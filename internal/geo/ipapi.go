package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const DefaultIPAPIEndpoint = "http://ip-api.com/json/"

// IPAPI queries the ip-api.com JSON endpoint.
type IPAPI struct {
	endpoint string
	client   *http.Client
	timeout  time.Duration
}

func NewIPAPI(endpoint string, timeout time.Duration) *IPAPI {
	if endpoint == "" {
		endpoint = DefaultIPAPIEndpoint
	}
	if !strings.HasSuffix(endpoint, "/") {
		endpoint += "/"
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &IPAPI{endpoint: endpoint, client: &http.Client{}, timeout: timeout}
}

type ipapiResponse struct {
	Status  string  `json:"status"`
	Message string  `json:"message"`
	Country string  `json:"country"`
	City    string  `json:"city"`
	ISP     string  `json:"isp"`
	Org     string  `json:"org"`
	AS      string  `json:"as"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}

// Lookup is bounded by the client timeout even when ctx has no deadline.
func (c *IPAPI) Lookup(ctx context.Context, ip string) (Location, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+url.PathEscape(ip), nil)
	if err != nil {
		return Location{}, fmt.Errorf("%w: %v", ErrLookupFailed, err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return Location{}, fmt.Errorf("%w: %v", ErrLookupFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Location{}, fmt.Errorf("%w: http %d", ErrLookupFailed, resp.StatusCode)
	}
	var body ipapiResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&body); err != nil {
		return Location{}, fmt.Errorf("%w: decode: %v", ErrLookupFailed, err)
	}
	if body.Status != "success" {
		return Location{}, fmt.Errorf("%w: %s %s", ErrLookupFailed, body.Status, body.Message)
	}
	return Location{
		Country:      body.Country,
		Provider:     body.ISP,
		Organization: body.Org,
		City:         body.City,
		Lat:          body.Lat,
		Lon:          body.Lon,
	}, nil
}
