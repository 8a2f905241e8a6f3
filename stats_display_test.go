package main

import (
	"strings"
	"testing"
	"time"

	"iftopweb/sample"
	"iftopweb/store"
)

func TestFormatBitRate(t *testing.T) {
	cases := []struct {
		bps  float64
		want string
	}{
		{0, "0.0 bps"},
		{512, "512.0 bps"},
		{90100, "90.1 kbps"},
		{2.5e6, "2.5 Mbps"},
		{1e9, "1.0 Gbps"},
	}
	for _, tc := range cases {
		if got := formatBitRate(tc.bps); got != tc.want {
			t.Errorf("formatBitRate(%v) = %q, want %q", tc.bps, got, tc.want)
		}
	}
}

func TestDiffCounter(t *testing.T) {
	current := map[string]uint64{"eth0": 10, "eth1": 3}
	previous := map[string]uint64{"eth0": 4}
	if got := diffCounter(current, previous, "eth0"); got != 6 {
		t.Errorf("eth0 diff = %d, want 6", got)
	}
	if got := diffCounter(current, previous, "eth1"); got != 3 {
		t.Errorf("eth1 diff = %d, want 3", got)
	}
	if got := diffCounter(current, previous, "eth2"); got != 0 {
		t.Errorf("eth2 diff = %d, want 0", got)
	}
	// A counter reset never produces a wild delta.
	if got := diffCounter(map[string]uint64{"eth0": 2}, previous, "eth0"); got != 2 {
		t.Errorf("reset diff = %d, want 2", got)
	}
}

func TestInterfaceStatsLineWithData(t *testing.T) {
	v := store.View{
		Interface: "eth0",
		Status:    sample.StatusActive,
		Sample: &sample.InterfaceSample{
			Interface: "eth0",
			Totals: sample.Windows{
				Short: sample.RateBps{In: 2.5e6, Out: 90100},
			},
			SampledAt: time.Now().UTC(),
		},
	}
	line := interfaceStatsLine(v, 12, 1, 2)
	for _, want := range []string{"eth0", "active", "2.5 Mbps in", "90.1 kbps out", "samples +12", "discards +1", "restarts 2"} {
		if !strings.Contains(line, want) {
			t.Errorf("stats line missing %q: %s", want, line)
		}
	}
}

func TestInterfaceStatsLineWaiting(t *testing.T) {
	v := store.View{Interface: "eth1", Status: sample.StatusWaiting}
	line := interfaceStatsLine(v, 0, 0, 0)
	if !strings.Contains(line, "eth1") || !strings.Contains(line, "waiting") {
		t.Errorf("stats line missing interface state: %s", line)
	}
	if strings.Contains(line, "in /") {
		t.Errorf("waiting interface should not show rates: %s", line)
	}
	if strings.Contains(line, "discards") || strings.Contains(line, "restarts") {
		t.Errorf("zero counters should be omitted: %s", line)
	}
}

func TestStatusSummary(t *testing.T) {
	withCap := statusSummary("eth0", sample.StatusWaiting, 1e9)
	if !strings.Contains(withCap, "eth0") || !strings.Contains(withCap, "1.0 Gbps") {
		t.Errorf("unexpected summary: %s", withCap)
	}
	withoutCap := statusSummary("eth1", sample.StatusWaiting, 0)
	if strings.Contains(withoutCap, "capacity") {
		t.Errorf("zero capacity should be omitted: %s", withoutCap)
	}
}
