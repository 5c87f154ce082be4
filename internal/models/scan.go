package models

import (
	"strings"
	"time"
)

// ScanResult is the classified record of one connection in one scan.
type ScanResult struct {
	ScanID    string    `json:"scanId"`
	Timestamp time.Time `json:"timestamp"`

	// Remote endpoint and its geolocation
	IP           string  `json:"ip"`
	RemotePort   uint32  `json:"remotePort"`
	Country      string  `json:"country"`
	Provider     string  `json:"provider"`
	Organization string  `json:"organization"`
	City         string  `json:"city"`
	Lat          float64 `json:"lat"`
	Lon          float64 `json:"lon"`

	// Owning process
	PID         int32  `json:"pid"`
	Process     string `json:"process"`
	ProcessPath string `json:"processPath"`
	IsSigned    bool   `json:"isSigned"`

	IsRisky         bool   `json:"isRisky"`
	IsSuspicious    bool   `json:"isSuspicious"`
	SuspicionReason string `json:"suspicionReason"`

	// Scoring detail, kept for rule tuning
	ConnectionScore int      `json:"connectionScore"`
	ProcessScore    int      `json:"processScore"`
	Reasons         []string `json:"reasons,omitempty"`
}

// Flagged is true when the result deserves the user's attention.
func (r ScanResult) Flagged() bool { return r.IsRisky || r.IsSuspicious }

// Day is the UTC calendar day of the scan, used to group history.
func (r ScanResult) Day() string { return r.Timestamp.UTC().Format("2006-01-02") }

// ProcessKey is the history lookup key for a process name.
func ProcessKey(name string) string { return strings.ToLower(strings.TrimSpace(name)) }
