package collector

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/PhucNguyen204/netwatch/internal/geo"
)

// ErrSignatureUnsupported is returned when the platform has no signature
// check. It means "unknown", never "unsigned".
var ErrSignatureUnsupported = errors.New("signature verification not supported on this platform")

// Connection is one established socket with a public remote endpoint.
type Connection struct {
	Protocol      string `json:"protocol"`
	LocalAddress  string `json:"localAddress"`
	LocalPort     uint32 `json:"localPort"`
	RemoteAddress string `json:"remoteAddress"`
	RemotePort    uint32 `json:"remotePort"`
	State         string `json:"state"`
	PID           int32  `json:"pid"`

	// Meta is pre-baked process information (synthetic fixtures). When set,
	// the process inspector is skipped; a non-nil Geo also skips the lookup.
	Meta *ProcessMeta `json:"-"`
}

type ProcessMeta struct {
	Name     string
	Path     string
	IsSigned bool
	// SignatureOK is false when the signature status is unknown.
	SignatureOK bool
	Geo         *geo.Location
}

// Source lists the connections a scan classifies.
type Source interface {
	List(ctx context.Context) ([]Connection, error)
}

// ProcessInspector resolves process details by pid. Each call reports
// failure through its error, distinct from an empty result.
type ProcessInspector interface {
	Name(ctx context.Context, pid int32) (string, error)
	Path(ctx context.Context, pid int32) (string, error)
	Signed(ctx context.Context, pid int32) (bool, error)
}

// CleanIP strips an IPv6 zone suffix ("fe80::1%17").
func CleanIP(ip string) string {
	if i := strings.IndexByte(ip, '%'); i >= 0 {
		ip = ip[:i]
	}
	return strings.TrimSpace(ip)
}

// IsPublicIP reports whether ip is a valid address worth classifying.
func IsPublicIP(ip string) bool {
	addr := net.ParseIP(CleanIP(ip))
	if addr == nil {
		return false
	}
	switch {
	case addr.IsUnspecified(), addr.IsLoopback(), addr.IsPrivate(),
		addr.IsLinkLocalUnicast(), addr.IsLinkLocalMulticast(),
		addr.IsInterfaceLocalMulticast(), addr.IsMulticast():
		return false
	}
	return true
}
