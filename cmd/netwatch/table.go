package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/PhucNguyen204/netwatch/internal/models"
)

func printTable(w io.Writer, results []models.ScanResult) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FLAG\tIP\tPORT\tCOUNTRY\tPROVIDER\tPID\tPROCESS\tSIGNED\tREASON")
	flagged := 0
	for _, r := range results {
		mark := ""
		if r.Flagged() {
			mark = "!"
			flagged++
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%d\t%s\t%t\t%s\n",
			mark, r.IP, r.RemotePort, r.Country, r.Provider, r.PID, r.Process, r.IsSigned, r.SuspicionReason)
	}
	tw.Flush()
	fmt.Fprintf(w, "\n%d connections, %d flagged\n", len(results), flagged)
}
