package collector

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
)

// Inspector implements ProcessInspector with gopsutil and the platform
// signature check.
type Inspector struct {
	verify func(ctx context.Context, path string) (bool, error)
}

func NewInspector() *Inspector {
	return &Inspector{verify: verifySignature}
}

func (i *Inspector) proc(ctx context.Context, pid int32) (*process.Process, error) {
	if pid <= 0 {
		return nil, fmt.Errorf("invalid pid %d", pid)
	}
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return nil, fmt.Errorf("open pid %d: %w", pid, err)
	}
	return p, nil
}

func (i *Inspector) Name(ctx context.Context, pid int32) (string, error) {
	p, err := i.proc(ctx, pid)
	if err != nil {
		return "", err
	}
	name, err := p.NameWithContext(ctx)
	if err != nil {
		return "", fmt.Errorf("name of pid %d: %w", pid, err)
	}
	return strings.TrimSpace(name), nil
}

func (i *Inspector) Path(ctx context.Context, pid int32) (string, error) {
	p, err := i.proc(ctx, pid)
	if err != nil {
		return "", err
	}
	exe, err := p.ExeWithContext(ctx)
	if err != nil {
		return "", fmt.Errorf("executable of pid %d: %w", pid, err)
	}
	return strings.TrimSpace(exe), nil
}

// Signed reports whether the executable of pid carries a valid signature.
func (i *Inspector) Signed(ctx context.Context, pid int32) (bool, error) {
	path, err := i.Path(ctx, pid)
	if err != nil {
		return false, err
	}
	if path == "" {
		return false, errors.New("empty executable path")
	}
	return i.verify(ctx, path)
}
