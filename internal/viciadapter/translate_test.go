package viciadapter

import (
	"testing"
	"time"

	"github.com/strongswan/govici/vici"

	"github.com/swavlamban/extsockd/internal/config"
)

func TestBuildLoadConnMessage_TopLevelKeyIsConnectionName(t *testing.T) {
	cfg := &config.PeerConfig{
		Name: "c1",
		IKE: config.IkeConfig{
			Version:     config.IKEv2,
			LocalAddrs:  "%any",
			RemoteAddrs: "10.0.0.1",
			Proposals:   []string{"aes256gcm16-prfsha384-ecp384"},
		},
		LocalAuths:  []config.AuthConfig{{Class: config.AuthPSK, Identity: "local@example.com"}},
		RemoteAuths: []config.AuthConfig{{Class: config.AuthPSK, Identity: "remote@example.com"}},
		Children: []config.ChildConfig{
			{
				Name:         "c1-child",
				Mode:         config.ModeTunnel,
				StartAction:  config.ActionStart,
				ESPProposals: []string{"aes256gcm16-modp2048"},
				Lifetime:     config.Lifetime{RekeyTime: time.Hour, LifeTime: 2 * time.Hour},
				LocalTS:      []config.TrafficSelector{{CIDR: "0.0.0.0/0"}},
				RemoteTS:     []config.TrafficSelector{{CIDR: "0.0.0.0/0"}},
			},
		},
	}

	msg, err := buildLoadConnMessage(cfg)
	if err != nil {
		t.Fatalf("buildLoadConnMessage: %v", err)
	}

	conn, ok := msg.Get("c1").(*vici.Message)
	if !ok {
		t.Fatalf("top-level key %q missing or not a section", "c1")
	}

	if v, _ := conn.Get("version").(string); v != "2" {
		t.Errorf("version = %q, want 2", v)
	}

	if _, ok := conn.Get("local-1").(*vici.Message); !ok {
		t.Error("local-1 auth section missing")
	}
	if _, ok := conn.Get("remote-1").(*vici.Message); !ok {
		t.Error("remote-1 auth section missing")
	}

	children, ok := conn.Get("children").(*vici.Message)
	if !ok {
		t.Fatal("children section missing")
	}
	child, ok := children.Get("c1-child").(*vici.Message)
	if !ok {
		t.Fatal("children.c1-child section missing")
	}
	if v, _ := child.Get("start_action").(string); v != "start" {
		t.Errorf("start_action = %q, want start", v)
	}
	if v, _ := child.Get("rekey_time").(string); v != "3600" {
		t.Errorf("rekey_time = %q, want 3600", v)
	}
}

func TestDurationSeconds(t *testing.T) {
	if got := durationSeconds(90 * time.Minute); got != "5400" {
		t.Errorf("durationSeconds(90m) = %q, want 5400", got)
	}
	if got := durationSeconds(0); got != "0" {
		t.Errorf("durationSeconds(0) = %q, want 0", got)
	}
}

func TestStartActionVICI(t *testing.T) {
	tests := []struct {
		in   config.StartAction
		want string
	}{
		{config.ActionStart, "start"},
		{config.ActionTrap, "trap"},
		{config.ActionNone, "none"},
	}
	for _, tt := range tests {
		if got := startActionVICI(tt.in); got != tt.want {
			t.Errorf("startActionVICI(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSplitCSV(t *testing.T) {
	got := splitCSV(" a, b ,,c")
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("splitCSV = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("splitCSV[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
