package collector

import (
	"context"
	"fmt"
	"strings"

	psnet "github.com/shirou/gopsutil/v3/net"
)

const (
	sockStream = 1
	sockDgram  = 2
)

type listFunc func(ctx context.Context, kind string) ([]psnet.ConnectionStat, error)

// Live enumerates the host's sockets through gopsutil.
type Live struct {
	list listFunc
}

func NewLive() *Live {
	return &Live{list: psnet.ConnectionsWithContext}
}

func (l *Live) List(ctx context.Context) ([]Connection, error) {
	stats, err := l.list(ctx, "inet")
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	return filterEstablished(stats), nil
}

// filterEstablished keeps ESTABLISHED sockets with a public remote address,
// deduplicated by (remote ip, remote port, pid), in input order.
func filterEstablished(stats []psnet.ConnectionStat) []Connection {
	type key struct {
		ip   string
		port uint32
		pid  int32
	}
	seen := make(map[key]struct{}, len(stats))
	out := make([]Connection, 0, len(stats))
	for _, s := range stats {
		if !strings.EqualFold(s.Status, "ESTABLISHED") {
			continue
		}
		ip := CleanIP(s.Raddr.IP)
		if !IsPublicIP(ip) {
			continue
		}
		k := key{ip, s.Raddr.Port, s.Pid}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, Connection{
			Protocol:      protocolName(s.Type),
			LocalAddress:  CleanIP(s.Laddr.IP),
			LocalPort:     s.Laddr.Port,
			RemoteAddress: ip,
			RemotePort:    s.Raddr.Port,
			State:         "ESTABLISHED",
			PID:           s.Pid,
		})
	}
	return out
}

func protocolName(sockType uint32) string {
	switch sockType {
	case sockStream:
		return "TCP"
	case sockDgram:
		return "UDP"
	default:
		return "UNKNOWN"
	}
}
