package events

import (
	"encoding/json"
	"testing"

	"github.com/strongswan/govici/vici"

	"github.com/swavlamban/extsockd/internal/viciadapter"
)

type fakePublisher struct {
	payloads [][]byte
}

func (f *fakePublisher) PublishEvent(payload []byte) {
	f.payloads = append(f.payloads, payload)
}

type fakeFailureHandler struct {
	calls []string
}

func (f *fakeFailureHandler) HandleConnectionFailure(ikeSAName, currentRemoteAddr string) {
	f.calls = append(f.calls, ikeSAName)
}

type fakeResetHandler struct {
	calls []string
}

func (f *fakeResetHandler) ResetRetryCount(name string) {
	f.calls = append(f.calls, name)
}

func buildIkeSAMessage(t *testing.T, name, state string) *vici.Message {
	t.Helper()
	sa := vici.NewMessage()
	if err := sa.Set("state", state); err != nil {
		t.Fatalf("set state: %v", err)
	}
	if err := sa.Set("remote-host", "10.0.0.1"); err != nil {
		t.Fatalf("set remote-host: %v", err)
	}
	top := vici.NewMessage()
	if err := top.Set(name, sa); err != nil {
		t.Fatalf("set top: %v", err)
	}
	return top
}

func decodePayload(t *testing.T, payload []byte) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(payload, &out); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	return out
}

func TestHandleIkeUpdown_Established(t *testing.T) {
	pub := &fakePublisher{}
	reset := &fakeResetHandler{}
	l := New(nil, pub, &fakeFailureHandler{}, reset)

	l.handleIkeUpdown(buildIkeSAMessage(t, "c1", "ESTABLISHED"))

	if len(pub.payloads) != 1 {
		t.Fatalf("published %d payloads, want 1", len(pub.payloads))
	}
	got := decodePayload(t, pub.payloads[0])
	if got["event"] != "ike_sa_up" {
		t.Errorf("event = %v, want ike_sa_up", got["event"])
	}
	if len(reset.calls) != 1 || reset.calls[0] != "c1" {
		t.Errorf("reset calls = %v, want [c1]", reset.calls)
	}
}

func TestHandleIkeUpdown_FailureBeforeEstablished(t *testing.T) {
	pub := &fakePublisher{}
	failure := &fakeFailureHandler{}
	l := New(nil, pub, failure, &fakeResetHandler{})

	// Down without ever having been up is a failure (Invariant: IKE-SA
	// destroyed without ever reaching ESTABLISHED triggers failover).
	l.handleIkeUpdown(buildIkeSAMessage(t, "c1", "DESTROYING"))

	if len(failure.calls) != 1 || failure.calls[0] != "c1" {
		t.Errorf("failure calls = %v, want [c1]", failure.calls)
	}
}

func TestHandleIkeUpdown_DownAfterEstablishedIsNotFailure(t *testing.T) {
	pub := &fakePublisher{}
	failure := &fakeFailureHandler{}
	l := New(nil, pub, failure, &fakeResetHandler{})

	l.handleIkeUpdown(buildIkeSAMessage(t, "c1", "ESTABLISHED"))
	l.handleIkeUpdown(buildIkeSAMessage(t, "c1", "DESTROYING"))

	if len(failure.calls) != 0 {
		t.Errorf("failure calls = %v, want none after a prior successful establishment", failure.calls)
	}
}

func buildChildUpdownMessage(t *testing.T, ikeName, ikeState, childName, childState string) *vici.Message {
	t.Helper()
	child := vici.NewMessage()
	if err := child.Set("state", childState); err != nil {
		t.Fatalf("set child state: %v", err)
	}
	if err := child.Set("spi-in", "c0a80001"); err != nil {
		t.Fatalf("set spi: %v", err)
	}
	if err := child.Set("protocol", "esp"); err != nil {
		t.Fatalf("set protocol: %v", err)
	}
	if err := child.Set("mode", "tunnel"); err != nil {
		t.Fatalf("set mode: %v", err)
	}

	children := vici.NewMessage()
	if err := children.Set(childName, child); err != nil {
		t.Fatalf("set children: %v", err)
	}

	sa := vici.NewMessage()
	if err := sa.Set("state", ikeState); err != nil {
		t.Fatalf("set ike state: %v", err)
	}
	if err := sa.Set("local-host", "10.0.0.9"); err != nil {
		t.Fatalf("set local-host: %v", err)
	}
	if err := sa.Set("remote-host", "10.0.0.1"); err != nil {
		t.Fatalf("set remote-host: %v", err)
	}
	if err := sa.Set("child-sas", children); err != nil {
		t.Fatalf("set child-sas: %v", err)
	}

	top := vici.NewMessage()
	if err := top.Set(ikeName, sa); err != nil {
		t.Fatalf("set top: %v", err)
	}
	return top
}

func TestHandleChildUpdown_TunnelUpPayloadShape(t *testing.T) {
	pub := &fakePublisher{}
	l := New(nil, pub, &fakeFailureHandler{}, &fakeResetHandler{})

	msg := buildChildUpdownMessage(t, "c1", "ESTABLISHED", "c1-child", "INSTALLED")
	l.handleChildUpdown(msg, false)

	if len(pub.payloads) != 1 {
		t.Fatalf("published %d payloads, want 1", len(pub.payloads))
	}
	got := decodePayload(t, pub.payloads[0])
	if got["event"] != "tunnel_up" {
		t.Errorf("event = %v, want tunnel_up", got["event"])
	}
	for _, field := range []string{"ike_sa_name", "child_sa_name", "ike_sa_state", "child_sa_state", "spi", "proto", "mode", "src", "dst"} {
		if _, ok := got[field]; !ok {
			t.Errorf("payload missing field %q: %v", field, got)
		}
	}
}

func TestHandleChildUpdown_TunnelDownWhenNotInstalled(t *testing.T) {
	pub := &fakePublisher{}
	l := New(nil, pub, &fakeFailureHandler{}, &fakeResetHandler{})

	msg := buildChildUpdownMessage(t, "c1", "ESTABLISHED", "c1-child", "DELETING")
	l.handleChildUpdown(msg, false)

	got := decodePayload(t, pub.payloads[0])
	if got["event"] != "tunnel_down" {
		t.Errorf("event = %v, want tunnel_down", got["event"])
	}
}

func TestHandleChildRekey_SynthesizesTunnelUp(t *testing.T) {
	pub := &fakePublisher{}
	l := New(nil, pub, &fakeFailureHandler{}, &fakeResetHandler{})

	msg := buildChildUpdownMessage(t, "c1", "ESTABLISHED", "c1-child", "REKEYED")
	l.handleChildRekey(msg)

	if len(pub.payloads) != 2 {
		t.Fatalf("published %d payloads, want 2 (child_rekey + synthesized tunnel_up)", len(pub.payloads))
	}
	first := decodePayload(t, pub.payloads[0])
	second := decodePayload(t, pub.payloads[1])
	if first["event"] != "child_rekey" {
		t.Errorf("first event = %v, want child_rekey", first["event"])
	}
	if second["event"] != "tunnel_up" {
		t.Errorf("second event = %v, want tunnel_up (synthesized)", second["event"])
	}
}

func TestDispatch_UnrecognizedEventDropped(t *testing.T) {
	pub := &fakePublisher{}
	l := New(nil, pub, &fakeFailureHandler{}, &fakeResetHandler{})

	l.dispatch(viciadapter.RawEvent{Name: "unknown-event", Message: vici.NewMessage()})

	if len(pub.payloads) != 0 {
		t.Errorf("published %v, want nothing for an unrecognized event", pub.payloads)
	}
}

type panickingPublisher struct{}

func (panickingPublisher) PublishEvent(payload []byte) {
	panic("publisher failure")
}

func TestDispatch_RecoversFromHandlerPanic(t *testing.T) {
	l := New(nil, &fakePublisher{}, &fakeFailureHandler{}, &fakeResetHandler{})

	// A malformed ike-updown message (no inner *vici.Message section) is
	// tolerated by firstIKESA returning ok=false; a handler that does panic
	// (here via its publisher) must be recovered inside dispatch.
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("dispatch panicked: %v", r)
		}
	}()
	l.dispatch(viciadapter.RawEvent{Name: "ike-updown", Message: nil})

	lp := New(nil, panickingPublisher{}, &fakeFailureHandler{}, &fakeResetHandler{})
	lp.dispatch(viciadapter.RawEvent{Name: "ike-updown", Message: buildIkeSAMessage(t, "c1", "ESTABLISHED")})
}
