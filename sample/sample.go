// Package sample defines the canonical bandwidth sample structures and helpers
// used across the monitoring pipeline: connection records, per-window rates,
// unit parsing for iftop's human-readable rate strings, and the deterministic
// top-connection ordering sent to clients.
package sample

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// InterfaceStatus describes the sampling state of one monitored interface.
type InterfaceStatus string

const (
	StatusWaiting InterfaceStatus = "waiting" // No valid sample received yet
	StatusActive  InterfaceStatus = "active"  // Sampler running, samples flowing
	StatusFailed  InterfaceStatus = "failed"  // Sampler permanently failed, no more retries
)

// RateBps holds one averaging window's inbound/outbound rates in bits per second.
type RateBps struct {
	In  float64 `json:"in"`
	Out float64 `json:"out"`
}

// Combined returns the total of both directions for sorting and display.
func (r RateBps) Combined() float64 {
	return r.In + r.Out
}

// Windows carries iftop's three rolling averages plus cumulative byte counts.
// The window durations (2s/10s/40s) are fixed by iftop's text output columns.
type Windows struct {
	Short         RateBps `json:"short"`          // 2 second average
	Medium        RateBps `json:"medium"`         // 10 second average
	Long          RateBps `json:"long"`           // 40 second average
	CumulativeIn  float64 `json:"cumulative_in"`  // Bytes since sampler start
	CumulativeOut float64 `json:"cumulative_out"` // Bytes since sampler start
}

// ConnectionRecord represents one observed traffic flow at a sampling instant.
// Records carry no identity across samples; each sample's list is a fresh
// snapshot, never a diffed delta.
type ConnectionRecord struct {
	LocalEndpoint  string  `json:"local_endpoint"`  // host:port as emitted by iftop
	RemoteEndpoint string  `json:"remote_endpoint"` // host:port as emitted by iftop
	LocalHost      string  `json:"local_host"`
	LocalPort      string  `json:"local_port"`
	RemoteHost     string  `json:"remote_host"`
	RemotePort     string  `json:"remote_port"`
	LocalName      string  `json:"local_name,omitempty"`  // Resolved display name, when known
	RemoteName     string  `json:"remote_name,omitempty"` // Resolved display name, when known
	Service        string  `json:"service"`               // Well-known-port label or "Unknown"
	Rates          Windows `json:"rates"`
}

// PeakRates carries iftop's "Peak rate (sent/received/total)" line in bits
// per second since the sampler started.
type PeakRates struct {
	Out   float64 `json:"out"`
	In    float64 `json:"in"`
	Total float64 `json:"total"`
}

// CumulativeBytes carries iftop's "Cumulative (sent/received/total)" line.
type CumulativeBytes struct {
	Out   float64 `json:"out"`
	In    float64 `json:"in"`
	Total float64 `json:"total"`
}

// InterfaceSample is the authoritative current state for one interface. It is
// stored and replaced wholesale; readers always see a complete sample.
type InterfaceSample struct {
	Interface      string             `json:"interface"`
	Totals         Windows            `json:"totals"`
	Peak           PeakRates          `json:"peak"`
	Cumulative     CumulativeBytes    `json:"cumulative"`
	TopConnections []ConnectionRecord `json:"top_connections"`
	SampledAt      time.Time          `json:"sampled_at"`
}

// Endpoint splits an iftop "host:port" token. IPv6 addresses keep their
// colons; the port is everything after the final colon.
func Endpoint(token string) (host, port string) {
	idx := strings.LastIndex(token, ":")
	if idx < 0 {
		return token, ""
	}
	return token[:idx], token[idx+1:]
}

// wellKnownServices maps ports to display labels, mirroring the classification
// the web UI expects for the description column.
var wellKnownServices = map[string]string{
	"22":    "SSH",
	"80":    "HTTP",
	"143":   "IMAP",
	"443":   "HTTPS",
	"16393": "FaceTime",
	"25565": "MineCraft",
}

// ServiceForPorts returns the well-known service label for either endpoint
// port, or "Unknown" when neither matches.
func ServiceForPorts(localPort, remotePort string) string {
	if svc, ok := wellKnownServices[localPort]; ok {
		return svc
	}
	if svc, ok := wellKnownServices[remotePort]; ok {
		return svc
	}
	return "Unknown"
}

// ParseRate converts an iftop rate token ("1.2Mb", "456Kb", "789b", "12.5KB")
// into bits per second. Bare numeric tokens are accepted as-is. The caller is
// expected to drop only the offending line on error, not the whole block.
func ParseRate(token string) (float64, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return 0, fmt.Errorf("empty rate token")
	}

	multiplier := 1.0
	numeric := token
	switch {
	case strings.HasSuffix(token, "Gb"), strings.HasSuffix(token, "GB"):
		multiplier = 1e9
		numeric = token[:len(token)-2]
	case strings.HasSuffix(token, "Mb"), strings.HasSuffix(token, "MB"):
		multiplier = 1e6
		numeric = token[:len(token)-2]
	case strings.HasSuffix(token, "Kb"), strings.HasSuffix(token, "KB"):
		multiplier = 1e3
		numeric = token[:len(token)-2]
	case strings.HasSuffix(token, "b"), strings.HasSuffix(token, "B"):
		numeric = token[:len(token)-1]
	}

	value, err := strconv.ParseFloat(numeric, 64)
	if err != nil {
		return 0, fmt.Errorf("unparseable rate %q: %w", token, err)
	}
	if value < 0 {
		return 0, fmt.Errorf("negative rate %q", token)
	}
	return value * multiplier, nil
}

// SortTopConnections orders records by descending short-window combined rate.
// Ties break on local then remote endpoint strings so repeated parses of the
// same block always produce the same order.
func SortTopConnections(records []ConnectionRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		ri := records[i].Rates.Short.Combined()
		rj := records[j].Rates.Short.Combined()
		if ri != rj {
			return ri > rj
		}
		if records[i].LocalEndpoint != records[j].LocalEndpoint {
			return records[i].LocalEndpoint < records[j].LocalEndpoint
		}
		return records[i].RemoteEndpoint < records[j].RemoteEndpoint
	})
}

// Truncate bounds the top-connections list to the display cap. A limit of
// zero or less leaves the list unbounded.
func Truncate(records []ConnectionRecord, limit int) []ConnectionRecord {
	if limit > 0 && len(records) > limit {
		return records[:limit]
	}
	return records
}
