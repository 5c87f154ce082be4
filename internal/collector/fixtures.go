package collector

import (
	"context"

	"github.com/PhucNguyen204/netwatch/internal/geo"
)

var shadyLand = geo.Location{
	Country: "ShadyLand", Provider: "Suspicious ISP", Organization: "Evil Corp",
	City: "Darkville", Lat: 66.6, Lon: 13.37,
}

// Fixtures is the deterministic connection set used by test-mode scans.
type Fixtures struct {
	conns []Connection
}

func NewFixtures() *Fixtures { return &Fixtures{conns: defaultFixtures()} }

// NewFixturesFrom serves a caller-provided set.
func NewFixturesFrom(conns []Connection) *Fixtures { return &Fixtures{conns: conns} }

func (f *Fixtures) List(ctx context.Context) ([]Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]Connection, len(f.conns))
	for i, c := range f.conns {
		out[i] = c
		if c.Meta != nil {
			m := *c.Meta
			if m.Geo != nil {
				g := *m.Geo
				m.Geo = &g
			}
			out[i].Meta = &m
		}
	}
	return out, nil
}

func fixture(ip string, port uint32, pid int32, name, path string, signed bool, loc geo.Location) Connection {
	return Connection{
		Protocol: "TCP", LocalAddress: "192.168.1.100", LocalPort: 5555,
		RemoteAddress: ip, RemotePort: port, State: "ESTABLISHED", PID: pid,
		Meta: &ProcessMeta{Name: name, Path: path, IsSigned: signed, SignatureOK: true, Geo: &loc},
	}
}

func defaultFixtures() []Connection {
	return []Connection{
		fixture("45.13.37.1", 1337, 4242, "a8f3k.exe", "C:/Temp/a8f3k.exe", false, shadyLand),
		fixture("45.77.10.20", 1337, 5120, "chrome.exe", "C:/Temp/chrome.exe", true, shadyLand),
		fixture("142.250.74.110", 443, 7310, "chrome.exe",
			"C:/Program Files/Google/Chrome/Application/chrome.exe", true,
			geo.Location{Country: "United States", Provider: "Google LLC", Organization: "AS15169 Google LLC", City: "Mountain View", Lat: 37.42, Lon: -122.08}),
		fixture("20.190.151.7", 443, 1104, "svchost.exe", "", true,
			geo.Location{Country: "United States", Provider: "Microsoft Corporation", Organization: "AS8075 Microsoft Corporation", City: "Redmond", Lat: 47.67, Lon: -122.12}),
		fixture("5.79.64.1", 8443, 6012, "updater.exe",
			"C:/Program Files/Microsoft/Edge/Application/updater.exe", true,
			geo.Location{Country: "Netherlands", Provider: "LeaseWeb Hosting B.V.", Organization: "LeaseWeb Netherlands B.V.", City: "Amsterdam", Lat: 52.37, Lon: 4.89}),
		fixture("5.160.12.9", 4444, 9001, "x1q9.exe", "C:/Temp/x1q9.exe", false,
			geo.Location{Country: "Iran", Provider: "Pars Online", Organization: "Pars Online PJS", City: "Tehran", Lat: 35.69, Lon: 51.39}),
		fixture("140.82.112.3", 443, 3888, "code.exe",
			"C:/Users/demo/AppData/Local/Programs/Microsoft VS Code/Code.exe", true,
			geo.Location{Country: "United States", Provider: "GitHub, Inc.", Organization: "AS36459 GitHub, Inc.", City: "San Francisco", Lat: 37.78, Lon: -122.39}),
		fixture("45.200.1.77", 1337, 2666, "svchost.exe", `C:\Users\Public\svchost.exe`, false, shadyLand),
	}
}
