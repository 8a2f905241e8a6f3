package main

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/term"

	"iftopweb/iftop"
	"iftopweb/sample"
	"iftopweb/stats"
	"iftopweb/store"
	"iftopweb/wsserver"
)

func isStdoutTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// interfaceStatsLine formats one interface's line for the periodic stats
// block: sampling status, current short-window rates, and sample/discard
// deltas since the previous tick.
func interfaceStatsLine(v store.View, samples, discards uint64, restarts uint64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "  %s: %s", v.Interface, v.Status)
	if v.HasData() {
		in := v.Sample.Totals.Short.In
		out := v.Sample.Totals.Short.Out
		fmt.Fprintf(&b, ", %s in / %s out", formatBitRate(in), formatBitRate(out))
	}
	fmt.Fprintf(&b, " (samples +%s", humanize.Comma(int64(samples)))
	if discards > 0 {
		fmt.Fprintf(&b, ", discards +%s", humanize.Comma(int64(discards)))
	}
	if restarts > 0 {
		fmt.Fprintf(&b, ", restarts %s", humanize.Comma(int64(restarts)))
	}
	b.WriteString(")")
	return b.String()
}

// formatBitRate renders a bits-per-second value with an SI suffix matching
// the units iftop itself displays.
func formatBitRate(bps float64) string {
	value, prefix := humanize.ComputeSI(bps)
	return fmt.Sprintf("%.1f %sbps", value, prefix)
}

func diffCounter(current, previous map[string]uint64, key string) uint64 {
	cur := current[key]
	prev := previous[key]
	if cur < prev {
		return cur
	}
	return cur - prev
}

// displayStats periodically emits a stats block. With a TTY attached the
// block goes through the standard logger; headless runs record it in the
// daily file only, keeping service logs readable.
func displayStats(interval time.Duration, tracker *stats.Tracker, runners map[string]*iftop.Runner, st *store.Store, srv *wsserver.Server, fanout *logFanout, stop <-chan struct{}) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	toConsole := isStdoutTTY()
	prevSamples := make(map[string]uint64)
	prevDiscards := make(map[string]uint64)

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		sampleTotals := tracker.GetSampleCounts()
		discardTotals := make(map[string]uint64, len(runners))
		for name, r := range runners {
			discardTotals[name] = r.ParserStats().BlocksDiscarded
		}

		var lines []string
		lines = append(lines, fmt.Sprintf("Stats (uptime %s, %s samples):",
			tracker.GetUptime().Round(time.Second),
			humanize.Comma(int64(tracker.GetTotal()))))
		for _, v := range st.SnapshotAll() {
			name := v.Interface
			samples := diffCounter(sampleTotals, prevSamples, name)
			discards := diffCounter(discardTotals, prevDiscards, name)
			var restarts uint64
			if r, ok := runners[name]; ok {
				restarts = r.Restarts()
			}
			lines = append(lines, interfaceStatsLine(v, samples, discards, restarts))
		}
		broadcasts, clientDrops, senderFailures := srv.BroadcastMetricSnapshot()
		lines = append(lines, fmt.Sprintf("  clients: %d, broadcasts: %s, client drops: %s, sender failures: %s",
			srv.GetClientCount(),
			humanize.Comma(int64(broadcasts)),
			humanize.Comma(int64(clientDrops)),
			humanize.Comma(int64(senderFailures))))
		if dropped := st.DroppedNotifications(); dropped > 0 {
			lines = append(lines, fmt.Sprintf("  store notifications dropped: %s", humanize.Comma(int64(dropped))))
		}
		var rejected uint64
		for _, n := range tracker.GetDiscardCounts() {
			rejected += n
		}
		if rejected > 0 {
			lines = append(lines, fmt.Sprintf("  store-rejected samples: %s", humanize.Comma(int64(rejected))))
		}

		prevSamples = sampleTotals
		prevDiscards = discardTotals

		now := time.Now().UTC()
		for _, line := range lines {
			if toConsole {
				log.Print(line)
			} else {
				fanout.WriteFileOnlyLine(line, now)
			}
		}
	}
}

// statusSummary is logged once at startup per interface.
func statusSummary(name string, status sample.InterfaceStatus, capacityBps float64) string {
	if capacityBps > 0 {
		return fmt.Sprintf("Monitoring %s (capacity %s, %s)", name, formatBitRate(capacityBps), status)
	}
	return fmt.Sprintf("Monitoring %s (%s)", name, status)
}
