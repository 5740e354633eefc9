// Package credstore holds the in-memory credential set (C4) and the VICI
// calls needed to push it into charon's credential manager.
package credstore

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/strongswan/govici/vici"

	"github.com/swavlamban/extsockd/internal/apperrors"
	"github.com/swavlamban/extsockd/internal/config"
)

// Pusher is the narrow VICI surface the credential store needs; satisfied
// by *vici.Session.
type Pusher interface {
	CommandRequest(cmd string, msg *vici.Message) (*vici.Message, error)
}

type sharedKey struct {
	owners []string
	secret string
}

// Store is the thin façade over charon's credential manager (C4). It has
// no policy of its own: everything it holds was validated by the parser.
type Store struct {
	mu    sync.Mutex
	keys  []sharedKey
	certs []string
}

// New constructs an empty credential store.
func New() *Store {
	return &Store{}
}

// Absorb extracts PSKs and certificate paths from cfg's auth rounds into
// the in-memory set. It does not talk to charon; call Sync to push.
func (s *Store) Absorb(cfg *config.PeerConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range append(append([]config.AuthConfig{}, cfg.LocalAuths...), cfg.RemoteAuths...) {
		if a.Class == config.AuthPSK && a.Secret != "" {
			s.keys = append(s.keys, sharedKey{owners: identityOwners(a.Identity), secret: a.Secret})
		}
		if a.CertPath != "" {
			s.certs = append(s.certs, a.CertPath)
		}
		if a.CACertPath != "" {
			s.certs = append(s.certs, a.CACertPath)
		}
	}
}

func identityOwners(id string) []string {
	if id == "" {
		return nil
	}
	return []string{id}
}

// Sync pushes every held PSK and certificate path into charon via
// load-shared / load-cert. VICI has no "unload credential" call, so the
// store's in-memory set (not charon's) is authoritative; Sync is safe to
// call repeatedly and simply re-asserts the current set.
func (s *Store) Sync(pusher Pusher) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range s.keys {
		msg := vici.NewMessage()
		if err := msg.Set("type", "IKE"); err != nil {
			return fmt.Errorf("%w: %v", apperrors.ErrHostAPIFailure, err)
		}
		if err := msg.Set("data", k.secret); err != nil {
			return fmt.Errorf("%w: %v", apperrors.ErrHostAPIFailure, err)
		}
		if len(k.owners) > 0 {
			if err := msg.Set("owners", k.owners); err != nil {
				return fmt.Errorf("%w: %v", apperrors.ErrHostAPIFailure, err)
			}
		}
		if _, err := pusher.CommandRequest("load-shared", msg); err != nil {
			return fmt.Errorf("%w: load-shared: %v", apperrors.ErrHostAPIFailure, err)
		}
	}

	for _, path := range s.certs {
		msg := vici.NewMessage()
		if err := msg.Set("type", "x509"); err != nil {
			return fmt.Errorf("%w: %v", apperrors.ErrHostAPIFailure, err)
		}
		if err := msg.Set("file", path); err != nil {
			return fmt.Errorf("%w: %v", apperrors.ErrHostAPIFailure, err)
		}
		if _, err := pusher.CommandRequest("load-cert", msg); err != nil {
			log.Warn().Err(err).Str("cert", path).Msg("load-cert failed, continuing")
			continue
		}
	}

	return nil
}

// Clear drops the in-memory credential set. Charon's own credential set
// is rebuilt wholesale on the next Sync, matching the no-persisted-state
// model (SPEC_FULL §6.4).
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = nil
	s.certs = nil
}

// Len reports the number of held shared keys, for status reporting.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keys)
}
