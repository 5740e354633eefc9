// Package config holds the typed peer-configuration tree produced by the
// JSON parser and consumed by the registry, credential store and VICI
// adapter.
package config

import "time"

// IKEVersion selects the major IKE protocol version a connection is
// restricted to, or 0 for "either".
type IKEVersion int

const (
	IKEAny IKEVersion = 0
	IKEv1  IKEVersion = 1
	IKEv2  IKEVersion = 2
)

// AuthClass is the authentication method used by one side of a connection.
type AuthClass string

const (
	AuthPSK    AuthClass = "psk"
	AuthPubkey AuthClass = "pubkey"
	AuthEAP    AuthClass = "eap"
	AuthAny    AuthClass = "any"
)

// StartAction controls what, if anything, happens to a child SA at load
// time.
type StartAction string

const (
	ActionNone  StartAction = "none"
	ActionTrap  StartAction = "trap"
	ActionStart StartAction = "start"
)

// ChildMode is the IPsec mode a child SA negotiates.
type ChildMode string

const (
	ModeTunnel    ChildMode = "tunnel"
	ModeTransport ChildMode = "transport"
)

// UniquePolicy controls how charon treats duplicate IKE_SAs for the same
// peer identity.
type UniquePolicy string

const (
	UniqueNo      UniquePolicy = "no"
	UniqueReplace UniquePolicy = "replace"
	UniqueKeep    UniquePolicy = "keep"
	UniqueNever   UniquePolicy = "never"
)

// TrafficSelector is a CIDR-based predicate on packet 5-tuples, with an
// optional protocol and port range. An empty Protocol means "any".
type TrafficSelector struct {
	CIDR      string
	Protocol  string
	PortFrom  uint16
	PortTo    uint16
}

// Lifetime bounds how long an SA lives before charon rekeys or expires it.
type Lifetime struct {
	RekeyTime time.Duration
	LifeTime  time.Duration
}

// IkeConfig describes the IKE_SA-level parameters of a connection.
type IkeConfig struct {
	Version       IKEVersion
	LocalAddrs    string // comma-joined; "%any" is wildcard
	RemoteAddrs   string // comma-joined; >=2 entries => failover-eligible
	LocalPort     uint16
	RemotePort    uint16
	Proposals     []string
	Mobike        bool
	Fragmentation bool
	DSCP          uint8
	RekeyTime     time.Duration
}

// AuthConfig describes one local or remote authentication round.
type AuthConfig struct {
	Class      AuthClass
	Identity   string
	Secret     string // PSK bytes; the adapter copies them into the credential store, this field keeps them
	CertPath   string
	PrivateKeyPath string
	CACertPath string
	EnableOCSP bool
	EnableCRL  bool
}

// ChildConfig describes one child SA (IPsec SA) under a connection.
type ChildConfig struct {
	Name         string
	Mode         ChildMode
	StartAction  StartAction
	DPDAction    StartAction
	CloseAction  StartAction
	Lifetime     Lifetime
	LocalTS      []TrafficSelector
	RemoteTS     []TrafficSelector
	ESPProposals []string
}

// PeerParams holds connection-wide tuning knobs independent of any single
// child or auth round.
type PeerParams struct {
	Unique     UniquePolicy
	KeyingTries int
	RekeyTime  time.Duration
	ReauthTime time.Duration
	OverTime   time.Duration
	JitterTime time.Duration
	DPDDelay   time.Duration
	DPDTimeout time.Duration
}

// PeerConfig is the owned, typed peer-configuration tree: the unit the
// registry stores, the VICI adapter installs, and the failover controller
// clones.
type PeerConfig struct {
	Name        string
	IKE         IkeConfig
	LocalAuths  []AuthConfig
	RemoteAuths []AuthConfig
	Children    []ChildConfig
	Params      PeerParams
}

// Clone returns a deep copy of cfg; no slice or struct is shared with the
// original.
func (cfg *PeerConfig) Clone() *PeerConfig {
	if cfg == nil {
		return nil
	}
	out := *cfg
	out.IKE.Proposals = append([]string(nil), cfg.IKE.Proposals...)
	out.LocalAuths = cloneAuths(cfg.LocalAuths)
	out.RemoteAuths = cloneAuths(cfg.RemoteAuths)
	out.Children = make([]ChildConfig, len(cfg.Children))
	for i, c := range cfg.Children {
		out.Children[i] = cloneChild(c)
	}
	return &out
}

func cloneAuths(in []AuthConfig) []AuthConfig {
	if in == nil {
		return nil
	}
	out := make([]AuthConfig, len(in))
	copy(out, in)
	return out
}

func cloneChild(c ChildConfig) ChildConfig {
	out := c
	out.LocalTS = append([]TrafficSelector(nil), c.LocalTS...)
	out.RemoteTS = append([]TrafficSelector(nil), c.RemoteTS...)
	out.ESPProposals = append([]string(nil), c.ESPProposals...)
	return out
}
