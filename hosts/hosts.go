// Package hosts resolves LAN IP addresses to display names for the web UI.
// Names come from two places: the DHCP server's lease list (hostname column)
// and a static ethers file (MAC to name); an ethers entry wins over the lease
// hostname for the same MAC. The table is rebuilt on a schedule so renamed or
// newly leased hosts show up without a restart.
package hosts

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

const leaseCommandTimeout = 10 * time.Second

// Table is a concurrently readable IP-to-name mapping. The zero value is
// usable and resolves nothing.
type Table struct {
	mu    sync.RWMutex
	names map[string]string
}

// Lookup returns the display name for an IP address.
func (t *Table) Lookup(ip string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	name, ok := t.names[ip]
	return name, ok
}

// Len returns the number of known hosts.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.names)
}

// replace swaps in a freshly built mapping.
func (t *Table) replace(names map[string]string) {
	t.mu.Lock()
	t.names = names
	t.mu.Unlock()
}

// Refresher rebuilds a Table from the ethers file and the lease command.
type Refresher struct {
	table        *Table
	ethersPath   string
	leaseCommand string

	// runLease is swapped out by tests to avoid invoking a real command.
	runLease func(ctx context.Context) ([]byte, error)
}

// NewRefresher wires a refresher for the given table.
func NewRefresher(table *Table, ethersPath, leaseCommand string) *Refresher {
	r := &Refresher{
		table:        table,
		ethersPath:   ethersPath,
		leaseCommand: leaseCommand,
	}
	r.runLease = r.execLeaseCommand
	return r
}

// Refresh rebuilds the table. A missing ethers file is tolerated. Lease
// command failure keeps the previous table when ethers entries exist, since
// ethers names are keyed by MAC and only lease output binds them to IPs.
func (r *Refresher) Refresh() error {
	ethers := r.loadEthers()

	ctx, cancel := context.WithTimeout(context.Background(), leaseCommandTimeout)
	defer cancel()
	output, err := r.runLease(ctx)
	if err != nil {
		if len(ethers) == 0 {
			return fmt.Errorf("lease command failed and no ethers entries: %w", err)
		}
		log.Printf("hosts: lease command failed, keeping previous table: %v", err)
		return nil
	}

	names := make(map[string]string)
	parseLeases(output, ethers, names)
	r.table.replace(names)
	log.Printf("hosts: table refreshed (%d entries)", len(names))
	return nil
}

// loadEthers reads the MAC-to-name file. Lines are "MAC NAME"; malformed
// lines and comments are skipped.
func (r *Refresher) loadEthers() map[string]string {
	ethers := make(map[string]string)
	if strings.TrimSpace(r.ethersPath) == "" {
		return ethers
	}
	file, err := os.Open(r.ethersPath)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("hosts: cannot read ethers file %s: %v", r.ethersPath, err)
		}
		return ethers
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		ethers[strings.ToLower(fields[0])] = fields[1]
	}
	return ethers
}

// parseLeases fills names from lease-list output. Each useful line is
// "MAC IP HOSTNAME ..."; lines whose second field is not an IP are skipped
// (dhcp-lease-list prints a header in its default mode).
func parseLeases(output []byte, ethers map[string]string, names map[string]string) {
	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 {
			continue
		}
		ip := fields[1]
		if net.ParseIP(ip) == nil {
			continue
		}
		names[ip] = fields[2]
		if name, ok := ethers[strings.ToLower(fields[0])]; ok {
			names[ip] = name
		}
	}
}

func (r *Refresher) execLeaseCommand(ctx context.Context) ([]byte, error) {
	if strings.TrimSpace(r.leaseCommand) == "" {
		return nil, fmt.Errorf("no lease command configured")
	}
	return exec.CommandContext(ctx, r.leaseCommand).Output()
}
