package sample

import (
	"testing"
)

func TestParseRate(t *testing.T) {
	tests := []struct {
		token string
		want  float64
	}{
		{"0b", 0},
		{"512b", 512},
		{"512B", 512},
		{"1.50Kb", 1500},
		{"144KB", 144000},
		{"2.31Mb", 2310000},
		{"1.2Gb", 1200000000},
		{"42", 42},
	}
	for _, tt := range tests {
		got, err := ParseRate(tt.token)
		if err != nil {
			t.Errorf("ParseRate(%q) returned error: %v", tt.token, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseRate(%q) = %v, want %v", tt.token, got, tt.want)
		}
	}
}

func TestParseRateRejectsGarbage(t *testing.T) {
	for _, token := range []string{"", "   ", "Kb", "abcMb", "-3Kb", "12..5Mb"} {
		if _, err := ParseRate(token); err == nil {
			t.Errorf("ParseRate(%q) succeeded, want error", token)
		}
	}
}

func TestEndpointSplit(t *testing.T) {
	tests := []struct {
		token    string
		wantHost string
		wantPort string
	}{
		{"192.168.1.10:443", "192.168.1.10", "443"},
		{"fe80::1:22", "fe80::1", "22"},
		{"noport", "noport", ""},
	}
	for _, tt := range tests {
		host, port := Endpoint(tt.token)
		if host != tt.wantHost || port != tt.wantPort {
			t.Errorf("Endpoint(%q) = (%q, %q), want (%q, %q)",
				tt.token, host, port, tt.wantHost, tt.wantPort)
		}
	}
}

func TestServiceForPorts(t *testing.T) {
	if got := ServiceForPorts("51234", "443"); got != "HTTPS" {
		t.Errorf("remote 443 = %q, want HTTPS", got)
	}
	if got := ServiceForPorts("22", "51234"); got != "SSH" {
		t.Errorf("local 22 = %q, want SSH", got)
	}
	if got := ServiceForPorts("51234", "51235"); got != "Unknown" {
		t.Errorf("unknown ports = %q, want Unknown", got)
	}
}

func connWithShort(local, remote string, in, out float64) ConnectionRecord {
	return ConnectionRecord{
		LocalEndpoint:  local,
		RemoteEndpoint: remote,
		Rates:          Windows{Short: RateBps{In: in, Out: out}},
	}
}

func TestSortTopConnectionsDescendingWithTiebreak(t *testing.T) {
	records := []ConnectionRecord{
		connWithShort("10.0.0.2:80", "10.0.0.9:5000", 100, 0),
		connWithShort("10.0.0.1:80", "10.0.0.9:5001", 50, 50),
		connWithShort("10.0.0.3:80", "10.0.0.9:5002", 500, 500),
	}
	SortTopConnections(records)

	if records[0].LocalEndpoint != "10.0.0.3:80" {
		t.Errorf("highest rate first: got %s", records[0].LocalEndpoint)
	}
	// 100+0 and 50+50 tie at 100 combined; lower local endpoint wins.
	if records[1].LocalEndpoint != "10.0.0.1:80" {
		t.Errorf("tie broken by endpoint: got %s", records[1].LocalEndpoint)
	}
}

func TestSortTopConnectionsIdempotent(t *testing.T) {
	build := func() []ConnectionRecord {
		return []ConnectionRecord{
			connWithShort("a:1", "b:1", 10, 10),
			connWithShort("a:2", "b:2", 10, 10),
			connWithShort("a:3", "b:3", 99, 0),
		}
	}
	first := build()
	SortTopConnections(first)
	second := build()
	SortTopConnections(second)
	SortTopConnections(second)
	for i := range first {
		if first[i].LocalEndpoint != second[i].LocalEndpoint {
			t.Fatalf("order diverged at %d: %s vs %s",
				i, first[i].LocalEndpoint, second[i].LocalEndpoint)
		}
	}
}

func TestTruncateBoundsList(t *testing.T) {
	records := []ConnectionRecord{
		connWithShort("a:1", "b:1", 1, 0),
		connWithShort("a:2", "b:2", 2, 0),
		connWithShort("a:3", "b:3", 3, 0),
	}
	if got := Truncate(records, 2); len(got) != 2 {
		t.Errorf("Truncate cap 2 = %d records", len(got))
	}
	if got := Truncate(records, 0); len(got) != 3 {
		t.Errorf("Truncate cap 0 = %d records, want all", len(got))
	}
	if got := Truncate(records, 10); len(got) != 3 {
		t.Errorf("Truncate cap 10 = %d records, want all", len(got))
	}
}
