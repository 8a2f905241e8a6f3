package hosts

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

const leaseOutput = `MAC IP hostname valid until manufacturer
===============================================================================
aa:bb:cc:00:11:22 192.168.1.10 laptop -- --
aa:bb:cc:00:11:33 192.168.1.11 nas -- --
broken line
aa:bb:cc:00:11:44 not-an-ip ghost -- --
`

func writeEthers(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ethers")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write ethers: %v", err)
	}
	return path
}

func newTestRefresher(t *testing.T, ethersPath string, output string, err error) (*Table, *Refresher) {
	t.Helper()
	table := &Table{}
	r := NewRefresher(table, ethersPath, "dhcp-lease-list")
	r.runLease = func(ctx context.Context) ([]byte, error) {
		return []byte(output), err
	}
	return table, r
}

func TestRefreshBuildsTableFromLeases(t *testing.T) {
	table, r := newTestRefresher(t, "", leaseOutput, nil)
	if err := r.Refresh(); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if table.Len() != 2 {
		t.Errorf("entries = %d, want 2", table.Len())
	}
	if name, ok := table.Lookup("192.168.1.10"); !ok || name != "laptop" {
		t.Errorf("192.168.1.10 = %q, %v", name, ok)
	}
	if _, ok := table.Lookup("not-an-ip"); ok {
		t.Error("non-IP line made it into the table")
	}
}

func TestEthersNameWinsOverLeaseHostname(t *testing.T) {
	ethers := writeEthers(t, `# static names
AA:BB:CC:00:11:22 workstation
`)
	table, r := newTestRefresher(t, ethers, leaseOutput, nil)
	if err := r.Refresh(); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if name, _ := table.Lookup("192.168.1.10"); name != "workstation" {
		t.Errorf("ethers override = %q, want workstation", name)
	}
	if name, _ := table.Lookup("192.168.1.11"); name != "nas" {
		t.Errorf("lease hostname = %q, want nas", name)
	}
}

func TestMissingEthersFileIgnored(t *testing.T) {
	table, r := newTestRefresher(t, filepath.Join(t.TempDir(), "absent"), leaseOutput, nil)
	if err := r.Refresh(); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if table.Len() != 2 {
		t.Errorf("entries = %d, want 2", table.Len())
	}
}

func TestLeaseFailureKeepsPreviousTable(t *testing.T) {
	ethers := writeEthers(t, "AA:BB:CC:00:11:22 workstation\n")
	table, r := newTestRefresher(t, ethers, leaseOutput, nil)
	if err := r.Refresh(); err != nil {
		t.Fatalf("initial refresh failed: %v", err)
	}

	r.runLease = func(ctx context.Context) ([]byte, error) {
		return nil, fmt.Errorf("command not found")
	}
	if err := r.Refresh(); err != nil {
		t.Fatalf("refresh with ethers should not error: %v", err)
	}
	if name, _ := table.Lookup("192.168.1.10"); name != "workstation" {
		t.Errorf("previous entries lost after lease failure: %q", name)
	}
}

func TestLeaseFailureWithoutEthersIsError(t *testing.T) {
	_, r := newTestRefresher(t, "", "", fmt.Errorf("command not found"))
	if err := r.Refresh(); err == nil {
		t.Fatal("expected error when both sources are unavailable")
	}
}

func TestEmptyTableLookup(t *testing.T) {
	var table Table
	if _, ok := table.Lookup("192.168.1.1"); ok {
		t.Error("zero-value table resolved a name")
	}
}
