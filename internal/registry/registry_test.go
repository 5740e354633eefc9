package registry

import (
	"testing"

	"github.com/swavlamban/extsockd/internal/config"
)

func TestRegistry_FindByNameUntilRemove(t *testing.T) {
	r := New()
	cfg := &config.PeerConfig{Name: "c1"}
	r.Register(cfg)

	got, ok := r.FindByName("c1")
	if !ok || got != cfg {
		t.Fatalf("FindByName after Register: got %v, %v", got, ok)
	}

	if removed := r.Remove("c1"); !removed {
		t.Fatal("Remove should report true for an existing entry")
	}

	if _, ok := r.FindByName("c1"); ok {
		t.Error("FindByName should fail after Remove")
	}

	if removed := r.Remove("c1"); removed {
		t.Error("Remove should report false for an already-removed entry")
	}
}

func TestRegistry_RegisterIsIdempotentReplace(t *testing.T) {
	r := New()
	r.Register(&config.PeerConfig{Name: "c1", IKE: config.IkeConfig{RemoteAddrs: "a"}})
	r.Register(&config.PeerConfig{Name: "c1", IKE: config.IkeConfig{RemoteAddrs: "b"}})

	if r.Len() != 1 {
		t.Fatalf("Len = %d, want 1 after re-registering same name", r.Len())
	}
	cfg, _ := r.FindByName("c1")
	if cfg.IKE.RemoteAddrs != "b" {
		t.Errorf("RemoteAddrs = %q, want latest registration to win", cfg.IKE.RemoteAddrs)
	}
}

func TestRegistry_Enumerate_IdentityFiltering(t *testing.T) {
	r := New()
	r.Register(&config.PeerConfig{
		Name:        "c1",
		RemoteAuths: []config.AuthConfig{{Identity: "peer-a@example.com"}},
	})
	r.Register(&config.PeerConfig{
		Name:        "c2",
		RemoteAuths: []config.AuthConfig{{Identity: "peer-b@example.com"}},
	})
	r.Register(&config.PeerConfig{
		Name: "c3", // no identity constraint: wildcard
	})

	matches := r.Enumerate("", "peer-a@example.com")
	names := map[string]bool{}
	for _, cfg := range matches {
		names[cfg.Name] = true
	}
	if !names["c1"] || names["c2"] || !names["c3"] {
		t.Errorf("Enumerate(peer-a) matched %v, want c1 and c3 only", names)
	}
}

func TestRegistry_Clear(t *testing.T) {
	r := New()
	r.Register(&config.PeerConfig{Name: "c1"})
	r.Register(&config.PeerConfig{Name: "c2"})

	r.Clear()

	if r.Len() != 0 {
		t.Fatalf("Len after Clear = %d, want 0", r.Len())
	}
	if _, ok := r.FindByName("c1"); ok {
		t.Error("FindByName should fail for any entry after Clear")
	}
}

func TestDefaultIdentityMatcher(t *testing.T) {
	m := DefaultIdentityMatcher{}
	tests := []struct {
		pattern, candidate string
		want               bool
	}{
		{"", "anything", true},
		{"%any", "anything", true},
		{"peer@example.com", "peer@example.com", true},
		{"Peer@Example.com", "peer@example.com", true},
		{"peer@example.com", "other@example.com", false},
	}
	for _, tt := range tests {
		if got := m.Matches(tt.pattern, tt.candidate); got != tt.want {
			t.Errorf("Matches(%q, %q) = %v, want %v", tt.pattern, tt.candidate, got, tt.want)
		}
	}
}
