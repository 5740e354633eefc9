package viciadapter

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/strongswan/govici/vici"
)

// session is the narrow slice of *vici.Session this package's commands
// depend on. Isolating it behind an interface lets tests substitute a fake
// for the charon connection.
type session interface {
	CommandRequest(cmd string, msg *vici.Message) (*vici.Message, error)
	StreamedCommandRequest(cmd, event string, msg *vici.Message) ([]*vici.Message, error)
	Close() error
}

// dialer opens a new VICI session at socketPath; tests swap out the
// default for a fake.
type dialer func(socketPath string) (session, error)

func defaultDialer(socketPath string) (session, error) {
	s, err := vici.NewSession(vici.WithSocketPath(socketPath))
	if err != nil {
		return nil, err
	}
	return s, nil
}

// sessionHolder lazily connects to charon's VICI socket and reconnects on
// demand, mirroring the teacher's LinuxManager.ensureSession: charon may
// not be up yet when extsockd starts, so connection failures here are
// retried on next use rather than treated as fatal at daemon start.
type sessionHolder struct {
	mu         sync.Mutex
	socketPath string
	dial       dialer
	sess       session
}

func newSessionHolder(socketPath string) *sessionHolder {
	return &sessionHolder{socketPath: socketPath, dial: defaultDialer}
}

func (h *sessionHolder) get() (session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sess != nil {
		return h.sess, nil
	}
	s, err := h.dial(h.socketPath)
	if err != nil {
		return nil, fmt.Errorf("connect vici socket %s: %w", h.socketPath, err)
	}
	h.sess = s
	log.Info().Str("socket", h.socketPath).Msg("connected to charon over vici")
	return s, nil
}

// invalidate drops the current session so the next get() redials. Called
// after any VICI command fails, whatever the cause.
func (h *sessionHolder) invalidate() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sess != nil {
		_ = h.sess.Close()
		h.sess = nil
	}
}

func (h *sessionHolder) close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sess == nil {
		return nil
	}
	err := h.sess.Close()
	h.sess = nil
	return err
}
