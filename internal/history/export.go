package history

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/PhucNguyen204/netwatch/internal/models"
)

const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

var csvHeader = []string{
	"scanDate", "totalConnections", "riskyConnections", "scanId", "ip", "country", "isp", "org", "city",
	"lat", "lon", "pid", "processName", "processPath", "isSigned", "isRisky", "isSuspicious", "suspicionReason",
}

// Export writes entries as indented JSON or as CSV with per-day totals.
func Export(w io.Writer, entries []models.ScanResult, format string) error {
	switch format {
	case FormatJSON, "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if entries == nil {
			entries = []models.ScanResult{}
		}
		return enc.Encode(entries)
	case FormatCSV:
		return exportCSV(w, entries)
	default:
		return fmt.Errorf("unsupported export format %q", format)
	}
}

func exportCSV(w io.Writer, entries []models.ScanResult) error {
	total := make(map[string]int)
	flagged := make(map[string]int)
	for _, e := range entries {
		d := e.Day()
		total[d]++
		if e.Flagged() {
			flagged[d]++
		}
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, e := range entries {
		d := e.Day()
		row := []string{
			d, strconv.Itoa(total[d]), strconv.Itoa(flagged[d]), e.ScanID, e.IP,
			e.Country, e.Provider, e.Organization, e.City,
			strconv.FormatFloat(e.Lat, 'f', -1, 64), strconv.FormatFloat(e.Lon, 'f', -1, 64),
			strconv.Itoa(int(e.PID)), e.Process, e.ProcessPath,
			strconv.FormatBool(e.IsSigned), strconv.FormatBool(e.IsRisky), strconv.FormatBool(e.IsSuspicious),
			e.SuspicionReason,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
