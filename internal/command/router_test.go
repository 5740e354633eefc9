package command

import (
	"context"
	"errors"
	"testing"

	"github.com/swavlamban/extsockd/internal/apperrors"
	"github.com/swavlamban/extsockd/internal/config"
)

type fakeInstaller struct {
	installed []string
	removed   []string
	dpdCalls  []string
	failOn    string
}

func (f *fakeInstaller) Install(ctx context.Context, cfg *config.PeerConfig) error {
	if cfg.Name == f.failOn {
		return errBoom
	}
	f.installed = append(f.installed, cfg.Name)
	return nil
}

func (f *fakeInstaller) Remove(ctx context.Context, name string) error {
	f.removed = append(f.removed, name)
	return nil
}

func (f *fakeInstaller) StartDPD(ctx context.Context, ikeName string) error {
	f.dpdCalls = append(f.dpdCalls, ikeName)
	return nil
}

var errBoom = errors.New("boom")

type fakeAudit struct {
	entries []string
}

func (f *fakeAudit) LogCommand(verb, detail string) {
	f.entries = append(f.entries, verb+":"+detail)
}

func TestRouter_ApplyConfig(t *testing.T) {
	installer := &fakeInstaller{}
	audit := &fakeAudit{}
	r := New(installer, audit)

	line := `APPLY_CONFIG {"name":"c1","ike":{"remote_addrs":["10.0.0.1"]}}`
	if err := r.Handle(line); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(installer.installed) != 1 || installer.installed[0] != "c1" {
		t.Errorf("installed = %v, want [c1]", installer.installed)
	}
	if len(audit.entries) != 1 {
		t.Fatalf("audit entries = %v, want 1 entry", audit.entries)
	}
}

func TestRouter_ApplyConfig_MultipleConnectionsInOrder(t *testing.T) {
	installer := &fakeInstaller{}
	r := New(installer, nil)

	line := `APPLY_CONFIG {"connections":[
		{"name":"a","ike":{"remote_addrs":["10.0.0.1"]}},
		{"name":"b","ike":{"remote_addrs":["10.0.0.2"]}}
	]}`
	if err := r.Handle(line); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(installer.installed) != 2 || installer.installed[0] != "a" || installer.installed[1] != "b" {
		t.Errorf("installed = %v, want [a b] in document order", installer.installed)
	}
}

func TestRouter_ApplyConfig_AbortsOnFirstInstallFailure(t *testing.T) {
	installer := &fakeInstaller{failOn: "b"}
	r := New(installer, nil)

	line := `APPLY_CONFIG {"connections":[
		{"name":"a","ike":{"remote_addrs":["10.0.0.1"]}},
		{"name":"b","ike":{"remote_addrs":["10.0.0.2"]}},
		{"name":"c","ike":{"remote_addrs":["10.0.0.3"]}}
	]}`
	if err := r.Handle(line); err == nil {
		t.Fatal("expected an error when the second connection fails to install")
	}
	if len(installer.installed) != 1 || installer.installed[0] != "a" {
		t.Errorf("installed = %v, want only [a] before the abort", installer.installed)
	}
}

func TestRouter_StartDPD(t *testing.T) {
	installer := &fakeInstaller{}
	r := New(installer, nil)

	if err := r.Handle("START_DPD c1"); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(installer.dpdCalls) != 1 || installer.dpdCalls[0] != "c1" {
		t.Errorf("dpdCalls = %v, want [c1]", installer.dpdCalls)
	}
}

func TestRouter_RemoveConfig(t *testing.T) {
	installer := &fakeInstaller{}
	r := New(installer, nil)

	if err := r.Handle("REMOVE_CONFIG c1"); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(installer.removed) != 1 || installer.removed[0] != "c1" {
		t.Errorf("removed = %v, want [c1]", installer.removed)
	}
}

func TestRouter_UnrecognizedCommand(t *testing.T) {
	r := New(&fakeInstaller{}, nil)
	err := r.Handle("NONSENSE foo")
	if !errors.Is(err, apperrors.ErrInvalidCommand) {
		t.Errorf("error = %v, want wrapping ErrInvalidCommand", err)
	}
}

func TestRouter_NilAuditIsNoOp(t *testing.T) {
	installer := &fakeInstaller{}
	r := New(installer, nil)
	if err := r.Handle("REMOVE_CONFIG c1"); err != nil {
		t.Fatalf("Handle with nil audit sink: %v", err)
	}
}
