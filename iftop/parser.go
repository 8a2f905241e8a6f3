// Package iftop supervises one iftop subprocess per monitored interface and
// parses its periodic text-mode output into canonical interface samples.
//
// The parser is deliberately tolerant: iftop's text output is a loosely
// structured contract that drifts between versions, so every line is
// classified against the handful of shapes we understand and everything else
// (banners, column headers, separators) is ignored. A malformed totals line or
// a truncated block discards the whole block; a malformed rate on a single
// connection row discards only that row.
package iftop

import (
	"log"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"iftopweb/sample"
)

// HostResolver maps an IP address to a display name (DHCP lease hostname or
// ethers entry). A nil resolver disables enrichment.
type HostResolver interface {
	Lookup(ip string) (string, bool)
}

// precompiled regex avoids the per-line allocation/compile cost when normalizing iftop lines
var (
	whitespaceRE = regexp.MustCompile(`\s+`)
	indexRE      = regexp.MustCompile(`^\d+$`)
)

// lineKind tags the result of classifying one raw output line.
type lineKind int

const (
	lineIgnored lineKind = iota
	lineTxRow
	lineRxRow
	lineTotalSend
	lineTotalReceive
	lineTotalBoth
	linePeak
	lineCumulative
	lineBlockEnd
)

// ParserStats counts parse outcomes for the stats display.
type ParserStats struct {
	Blocks          uint64
	BlocksDiscarded uint64
	LinesDiscarded  uint64
}

// Parser accumulates iftop output lines for one interface and emits one
// InterfaceSample per terminated block. It is not goroutine-safe; each Runner
// owns exactly one Parser and feeds it from a single goroutine.
type Parser struct {
	iface      string
	displayCap int
	resolver   HostResolver

	conns     []sample.ConnectionRecord
	pending   *sample.ConnectionRecord // tx row seen, waiting for its rx row
	totals    sample.Windows
	peak      sample.PeakRates
	cum       sample.CumulativeBytes
	sawTotals bool
	malformed bool

	// Counters are atomics because the stats display reads them from a
	// different goroutine than the one feeding lines.
	blocks          atomic.Uint64
	blocksDiscarded atomic.Uint64
	linesDiscarded  atomic.Uint64

	now func() time.Time
}

// NewParser creates a parser for one interface. displayCap bounds the
// top-connections list; resolver may be nil.
func NewParser(iface string, displayCap int, resolver HostResolver) *Parser {
	return &Parser{
		iface:      iface,
		displayCap: displayCap,
		resolver:   resolver,
		now:        time.Now,
	}
}

// Reset discards any partially accumulated block. Called when the subprocess
// restarts so fragments from different process generations never merge.
func (p *Parser) Reset() {
	p.conns = p.conns[:0]
	p.pending = nil
	p.totals = sample.Windows{}
	p.peak = sample.PeakRates{}
	p.cum = sample.CumulativeBytes{}
	p.sawTotals = false
	p.malformed = false
}

// Stats returns a copy of the parse counters. Safe to call concurrently with
// Feed.
func (p *Parser) Stats() ParserStats {
	return ParserStats{
		Blocks:          p.blocks.Load(),
		BlocksDiscarded: p.blocksDiscarded.Load(),
		LinesDiscarded:  p.linesDiscarded.Load(),
	}
}

// Feed consumes one raw output line. It returns a completed sample when the
// line terminates a valid block, or nil otherwise.
func (p *Parser) Feed(line string) *sample.InterfaceSample {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	normalized := whitespaceRE.ReplaceAllString(line, " ")
	fields := strings.Fields(normalized)

	switch classify(normalized, fields) {
	case lineBlockEnd:
		return p.finishBlock()
	case lineTxRow:
		p.feedTxRow(fields)
	case lineRxRow:
		p.feedRxRow(fields)
	case lineTotalSend:
		p.feedTotals(fields, 3, func(w *sample.Windows, short, medium, long float64) {
			w.Short.Out, w.Medium.Out, w.Long.Out = short, medium, long
		})
	case lineTotalReceive:
		p.feedTotals(fields, 3, func(w *sample.Windows, short, medium, long float64) {
			w.Short.In, w.Medium.In, w.Long.In = short, medium, long
		})
		p.sawTotals = true
	case lineTotalBoth:
		// Combined line is informational; directional lines already carry the
		// numbers. Still validated so a corrupted block is discarded.
		p.feedTotals(fields, 5, func(w *sample.Windows, short, medium, long float64) {})
	case linePeak:
		p.feedPeak(fields)
	case lineCumulative:
		p.feedCumulative(fields)
	}
	return nil
}

// classify decides which shape a line matches. Longer prefixes are tested
// before their prefixes ("Total send and receive rate" before "Total send").
func classify(line string, fields []string) lineKind {
	switch {
	case strings.HasPrefix(line, "===="):
		return lineBlockEnd
	case containsToken(fields, "=>"):
		return lineTxRow
	case containsToken(fields, "<="):
		return lineRxRow
	case strings.HasPrefix(line, "Total send and receive rate"):
		return lineTotalBoth
	case strings.HasPrefix(line, "Total send rate"):
		return lineTotalSend
	case strings.HasPrefix(line, "Total receive rate"):
		return lineTotalReceive
	case strings.HasPrefix(line, "Peak rate"):
		return linePeak
	case strings.HasPrefix(line, "Cumulative"):
		return lineCumulative
	default:
		return lineIgnored
	}
}

func containsToken(fields []string, token string) bool {
	for _, f := range fields {
		if f == token {
			return true
		}
	}
	return false
}

// feedTxRow handles the "=> " half of a connection pair: the local endpoint
// and transmit rates. iftop prefixes the first row of each pair with a
// numeric index which we strip.
func (p *Parser) feedTxRow(fields []string) {
	// A tx row while another pair is half-built means the previous pair never
	// got its rx row; that pending row is lost, so count it.
	p.dropPending()
	if len(fields) > 0 && indexRE.MatchString(fields[0]) {
		fields = fields[1:]
	}
	rates, ok := p.parseDirectionRow(fields)
	if !ok {
		return
	}
	host, port := sample.Endpoint(fields[0])
	rec := sample.ConnectionRecord{
		LocalEndpoint: fields[0],
		LocalHost:     host,
		LocalPort:     port,
	}
	rec.Rates.Short.Out = rates[0]
	rec.Rates.Medium.Out = rates[1]
	rec.Rates.Long.Out = rates[2]
	rec.Rates.CumulativeOut = rates[3]
	p.pending = &rec
}

// dropPending discards a half-built connection pair, counting the tx row that
// will never be completed.
func (p *Parser) dropPending() {
	if p.pending == nil {
		return
	}
	p.pending = nil
	p.linesDiscarded.Add(1)
}

// feedRxRow completes the pending connection with the remote endpoint and
// receive rates. An rx row without a pending tx row means the block was
// truncated mid-pair (typically a subprocess restart); the row is dropped.
func (p *Parser) feedRxRow(fields []string) {
	if p.pending == nil {
		p.linesDiscarded.Add(1)
		return
	}
	rates, ok := p.parseDirectionRow(fields)
	if !ok {
		p.pending = nil
		return
	}
	rec := *p.pending
	p.pending = nil

	host, port := sample.Endpoint(fields[0])
	rec.RemoteEndpoint = fields[0]
	rec.RemoteHost = host
	rec.RemotePort = port
	rec.Rates.Short.In = rates[0]
	rec.Rates.Medium.In = rates[1]
	rec.Rates.Long.In = rates[2]
	rec.Rates.CumulativeIn = rates[3]

	rec.Service = sample.ServiceForPorts(rec.LocalPort, rec.RemotePort)
	if p.resolver != nil {
		if name, ok := p.resolver.Lookup(rec.LocalHost); ok {
			rec.LocalName = name
		}
		if name, ok := p.resolver.Lookup(rec.RemoteHost); ok {
			rec.RemoteName = name
		}
	}
	p.conns = append(p.conns, rec)
}

// parseDirectionRow extracts the four rate columns (2s, 10s, 40s, cumulative)
// that follow the endpoint and arrow tokens. A bad value discards only this
// row, never the block.
func (p *Parser) parseDirectionRow(fields []string) ([4]float64, bool) {
	var rates [4]float64
	if len(fields) < 6 {
		p.linesDiscarded.Add(1)
		return rates, false
	}
	for i := 0; i < 4; i++ {
		value, err := sample.ParseRate(fields[2+i])
		if err != nil {
			log.Printf("%s: dropping connection row: %v", p.iface, err)
			p.linesDiscarded.Add(1)
			return rates, false
		}
		rates[i] = value
	}
	return rates, true
}

// feedTotals parses three rate columns starting at the given offset. Totals
// are authoritative for the block; any parse failure poisons the block.
func (p *Parser) feedTotals(fields []string, offset int, assign func(w *sample.Windows, short, medium, long float64)) {
	values, ok := p.parseThree(fields, offset)
	if !ok {
		p.malformed = true
		return
	}
	assign(&p.totals, values[0], values[1], values[2])
}

func (p *Parser) feedPeak(fields []string) {
	values, ok := p.parseThree(fields, 3)
	if !ok {
		p.malformed = true
		return
	}
	p.peak = sample.PeakRates{Out: values[0], In: values[1], Total: values[2]}
}

func (p *Parser) feedCumulative(fields []string) {
	values, ok := p.parseThree(fields, 2)
	if !ok {
		p.malformed = true
		return
	}
	p.cum = sample.CumulativeBytes{Out: values[0], In: values[1], Total: values[2]}
}

func (p *Parser) parseThree(fields []string, offset int) ([3]float64, bool) {
	var values [3]float64
	if len(fields) < offset+3 {
		return values, false
	}
	for i := 0; i < 3; i++ {
		value, err := sample.ParseRate(fields[offset+i])
		if err != nil {
			log.Printf("%s: malformed totals line, discarding block: %v", p.iface, err)
			return values, false
		}
		values[i] = value
	}
	return values, true
}

// finishBlock turns the accumulated state into a sample, or discards it when
// the block was malformed or never reached its totals lines.
func (p *Parser) finishBlock() *sample.InterfaceSample {
	defer p.Reset()

	if p.malformed || !p.sawTotals {
		p.blocksDiscarded.Add(1)
		return nil
	}

	conns := make([]sample.ConnectionRecord, len(p.conns))
	copy(conns, p.conns)
	sample.SortTopConnections(conns)
	conns = sample.Truncate(conns, p.displayCap)

	p.blocks.Add(1)
	return &sample.InterfaceSample{
		Interface:      p.iface,
		Totals:         p.totals,
		Peak:           p.peak,
		Cumulative:     p.cum,
		TopConnections: conns,
		SampledAt:      p.now().UTC(),
	}
}
