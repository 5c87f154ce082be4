package alert

import (
	"fmt"
	"io"
	"os"
	"sync"

	ct "github.com/seago/go-colortext"
	"github.com/sirupsen/logrus"

	"github.com/PhucNguyen204/netwatch/internal/models"
)

// Alerter is notified of the first flagged result of a scan.
type Alerter interface {
	Alert(r models.ScanResult)
}

// Func adapts a function to Alerter.
type Func func(r models.ScanResult)

func (f Func) Alert(r models.ScanResult) { f(r) }

// Console prints a highlighted banner and rings the terminal bell.
type Console struct {
	mu    sync.Mutex
	out   io.Writer
	color bool
	bell  bool
	log   *logrus.Entry
}

// NewConsole writes to stdout. Colors are only emitted there because
// go-colortext drives the process console directly.
func NewConsole(log *logrus.Entry) *Console {
	return &Console{out: os.Stdout, color: true, bell: true, log: log}
}

// NewWriter writes plain banners to w.
func NewWriter(w io.Writer, log *logrus.Entry) *Console {
	return &Console{out: w, log: log}
}

func (c *Console) Alert(r models.ScanResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	kind := "SUSPICIOUS PROCESS"
	if r.IsRisky {
		kind = "RISKY CONNECTION"
	}
	if c.color {
		ct.ChangeColor(ct.White, true, ct.Red, false)
	}
	fmt.Fprintf(c.out, "[%s] %s:%d pid=%d %s", kind, r.IP, r.RemotePort, r.PID, r.Process)
	if c.color {
		ct.ResetColor()
	}
	fmt.Fprintln(c.out)
	if r.ProcessPath != "" {
		fmt.Fprintf(c.out, "  path:   %s\n", r.ProcessPath)
	}
	if loc := location(r); loc != "" {
		fmt.Fprintf(c.out, "  where:  %s\n", loc)
	}
	if r.SuspicionReason != "" {
		if c.color {
			ct.ChangeColor(ct.Yellow, true, ct.None, false)
		}
		fmt.Fprintf(c.out, "  reason: %s", r.SuspicionReason)
		if c.color {
			ct.ResetColor()
		}
		fmt.Fprintln(c.out)
	}
	if c.bell {
		fmt.Fprint(c.out, "\a")
	}

	if c.log != nil {
		c.log.WithFields(logrus.Fields{
			"ip":      r.IP,
			"pid":     r.PID,
			"process": r.Process,
			"risky":   r.IsRisky,
			"scan_id": r.ScanID,
		}).Warn("alert raised")
	}
}

func location(r models.ScanResult) string {
	s := r.Country
	for _, part := range []string{r.City, r.Provider} {
		if part == "" {
			continue
		}
		if s != "" {
			s += " / "
		}
		s += part
	}
	return s
}
