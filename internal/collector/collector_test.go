package collector

import (
	"context"
	"errors"
	"os"
	"testing"

	psnet "github.com/shirou/gopsutil/v3/net"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stat(status, rip string, rport uint32, pid int32) psnet.ConnectionStat {
	return psnet.ConnectionStat{
		Type:   sockStream,
		Laddr:  psnet.Addr{IP: "192.168.1.10", Port: 50000},
		Raddr:  psnet.Addr{IP: rip, Port: rport},
		Status: status,
		Pid:    pid,
	}
}

func TestIsPublicIP(t *testing.T) {
	cases := map[string]bool{
		"8.8.8.8":         true,
		"2606:4700::1111": true,
		"10.0.0.1":        false,
		"172.16.4.4":      false,
		"192.168.1.1":     false,
		"127.0.0.1":       false,
		"::1":             false,
		"0.0.0.0":         false,
		"::":              false,
		"169.254.1.1":     false,
		"fe80::1%17":      false,
		"224.0.0.251":     false,
		"not-an-ip":       false,
		"":                false,
	}
	for ip, want := range cases {
		assert.Equal(t, want, IsPublicIP(ip), ip)
	}
}

func TestFilterEstablished(t *testing.T) {
	in := []psnet.ConnectionStat{
		stat("ESTABLISHED", "142.250.74.110", 443, 10),
		stat("LISTEN", "0.0.0.0", 0, 11),
		stat("ESTABLISHED", "127.0.0.1", 8080, 12),
		stat("TIME_WAIT", "1.1.1.1", 443, 13),
		stat("ESTABLISHED", "142.250.74.110", 443, 10), // duplicate
		stat("ESTABLISHED", "142.250.74.110", 443, 14),
		stat("ESTABLISHED", "10.1.2.3", 22, 15),
	}
	out := filterEstablished(in)
	require.Len(t, out, 2)
	assert.Equal(t, int32(10), out[0].PID)
	assert.Equal(t, int32(14), out[1].PID)
	assert.Equal(t, "TCP", out[0].Protocol)
	assert.Equal(t, uint32(443), out[0].RemotePort)
	assert.Nil(t, out[0].Meta)
}

func TestLive_ListError(t *testing.T) {
	boom := errors.New("netstat failed")
	l := &Live{list: func(context.Context, string) ([]psnet.ConnectionStat, error) { return nil, boom }}
	_, err := l.List(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestLive_ListUsesInetKind(t *testing.T) {
	var kind string
	l := &Live{list: func(_ context.Context, k string) ([]psnet.ConnectionStat, error) {
		kind = k
		return []psnet.ConnectionStat{stat("ESTABLISHED", "1.1.1.1", 443, 1)}, nil
	}}
	out, err := l.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "inet", kind)
	assert.Len(t, out, 1)
}

func TestFixtures_DeterministicAndIsolated(t *testing.T) {
	f := NewFixtures()
	a, err := f.List(context.Background())
	require.NoError(t, err)
	b, err := f.List(context.Background())
	require.NoError(t, err)
	require.Equal(t, a, b)

	for _, c := range a {
		require.NotNil(t, c.Meta)
		require.NotNil(t, c.Meta.Geo)
		assert.True(t, IsPublicIP(c.RemoteAddress), c.RemoteAddress)
	}

	a[0].Meta.Geo.Country = "changed"
	c, _ := f.List(context.Background())
	assert.Equal(t, "ShadyLand", c[0].Meta.Geo.Country)
}

func TestFixtures_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewFixtures().List(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestInspector_OwnProcess(t *testing.T) {
	var verified string
	i := &Inspector{verify: func(_ context.Context, path string) (bool, error) {
		verified = path
		return true, nil
	}}
	pid := int32(os.Getpid())
	ctx := context.Background()

	name, err := i.Name(ctx, pid)
	require.NoError(t, err)
	assert.NotEmpty(t, name)

	path, err := i.Path(ctx, pid)
	require.NoError(t, err)
	assert.NotEmpty(t, path)

	signed, err := i.Signed(ctx, pid)
	require.NoError(t, err)
	assert.True(t, signed)
	assert.Equal(t, path, verified)
}

func TestInspector_InvalidPID(t *testing.T) {
	i := NewInspector()
	_, err := i.Name(context.Background(), 0)
	assert.Error(t, err)
	_, err = i.Signed(context.Background(), -1)
	assert.Error(t, err)
}
