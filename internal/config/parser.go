package config

import (
	"encoding/json"
	"fmt"
	"net"
	"regexp"
	"strings"
	"time"

	"github.com/swavlamban/extsockd/internal/apperrors"
)

const maxFieldLen = 1024

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Default proposal pairs inserted when a connection's proposal list is
// empty (Invariant 4): AEAD first, then classical, applied uniformly to
// IKE and ESP/AH proposal lists.
const (
	defaultIKEProposalAEAD     = "aes256gcm16-prfsha384-ecp384"
	defaultIKEProposalClassic = "aes256-sha384-prfsha384-ecp384"
	defaultESPProposalAEAD     = "aes256gcm16-modp2048"
	defaultESPProposalClassic = "aes256-sha256-modp2048"
)

// startActionMapping implements the §4.1 start_action table: trap→Trap,
// start→Start, clear→Trap, hold→Trap, restart→Start, none→None.
var startActionMapping = map[string]StartAction{
	"trap":    ActionTrap,
	"start":   ActionStart,
	"clear":   ActionTrap,
	"hold":    ActionTrap,
	"restart": ActionStart,
	"none":    ActionNone,
}

type lifetimeJSON struct {
	RekeyTime *int `json:"rekey_time"`
	LifeTime  *int `json:"life_time"`
}

type ikeJSON struct {
	Version       *int          `json:"version"`
	LocalAddrs    []string      `json:"local_addrs"`
	RemoteAddrs   []string      `json:"remote_addrs"`
	Proposals     []string      `json:"proposals"`
	Lifetime      *lifetimeJSON `json:"lifetime"`
	Fragmentation *bool         `json:"fragmentation"`
	DSCP          *int          `json:"dscp"`
}

type authJSON struct {
	Auth        string  `json:"auth"`
	ID          *string `json:"id"`
	Secret      *string `json:"secret"`
	Cert        *string `json:"cert"`
	PrivateKey  *string `json:"private_key"`
	CACert      *string `json:"ca_cert"`
	EnableOCSP  *bool   `json:"enable_ocsp"`
	EnableCRL   *bool   `json:"enable_crl"`
}

type childJSON struct {
	Name         string        `json:"name"`
	Mode         *string       `json:"mode"`
	StartAction  *string       `json:"start_action"`
	DPDAction    *string       `json:"dpd_action"`
	CloseAction  *string       `json:"close_action"`
	LocalTS      []string      `json:"local_ts"`
	RemoteTS     []string      `json:"remote_ts"`
	ESPProposals []string      `json:"esp_proposals"`
	Lifetime     *lifetimeJSON `json:"lifetime"`
}

type peerParamsJSON struct {
	Unique      *string `json:"unique"`
	KeyingTries *int    `json:"keyingtries"`
	RekeyTime   *int    `json:"rekey_time"`
	ReauthTime  *int    `json:"reauth_time"`
	OverTime    *int    `json:"over_time"`
	JitterTime  *int    `json:"jitter_time"`
	DPDDelay    *int    `json:"dpd_delay"`
	DPDTimeout  *int    `json:"dpd_timeout"`
}

type connectionJSON struct {
	Name        string          `json:"name"`
	IKE         *ikeJSON        `json:"ike"`
	Mobike      *bool           `json:"mobike"`
	LocalAuth   *authJSON       `json:"local_auth"`
	RemoteAuth  *authJSON       `json:"remote_auth"`
	Children    []childJSON     `json:"children"`
	BackupSegw  *string         `json:"backup_segw"`
	PeerParams  *peerParamsJSON `json:"peer_params"`
}

// Parse decodes a JSON document into an owned list of PeerConfig. Both the
// multi-form `{"connections":[...]}` and the legacy single-form bare
// connection object are accepted. The parser is total and transactional:
// either every connection in the document converts cleanly, or none is
// returned.
func Parse(data []byte) ([]*PeerConfig, error) {
	var generic map[string]json.RawMessage
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrJSONParse, err)
	}

	var rawConns []json.RawMessage
	if connsRaw, ok := generic["connections"]; ok {
		if err := json.Unmarshal(connsRaw, &rawConns); err != nil {
			return nil, fmt.Errorf("%w: connections: %v", apperrors.ErrJSONParse, err)
		}
	} else {
		rawConns = []json.RawMessage{data}
	}

	out := make([]*PeerConfig, 0, len(rawConns))
	for i, raw := range rawConns {
		var cj connectionJSON
		if err := json.Unmarshal(raw, &cj); err != nil {
			return nil, fmt.Errorf("%w: connections[%d]: %v", apperrors.ErrJSONParse, i, err)
		}
		cfg, err := convertConnection(&cj)
		if err != nil {
			return nil, fmt.Errorf("connections[%d]: %w", i, err)
		}
		out = append(out, cfg)
	}
	return out, nil
}

func convertConnection(cj *connectionJSON) (*PeerConfig, error) {
	if err := checkFieldLen("name", cj.Name); err != nil {
		return nil, err
	}
	if !namePattern.MatchString(cj.Name) {
		return nil, fmt.Errorf("%w: name %q must match [A-Za-z0-9_-]{1,64}", apperrors.ErrConfigInvalid, cj.Name)
	}

	ike, err := convertIKE(cj.IKE, cj.Mobike, cj.BackupSegw)
	if err != nil {
		return nil, err
	}

	localAuths, err := convertAuths(cj.LocalAuth, "local_auth")
	if err != nil {
		return nil, err
	}
	remoteAuths, err := convertAuths(cj.RemoteAuth, "remote_auth")
	if err != nil {
		return nil, err
	}

	children := make([]ChildConfig, 0, len(cj.Children))
	for i, c := range cj.Children {
		cc, err := convertChild(c)
		if err != nil {
			return nil, fmt.Errorf("children[%d]: %w", i, err)
		}
		children = append(children, cc)
	}

	params := convertPeerParams(cj.PeerParams)

	return &PeerConfig{
		Name:        cj.Name,
		IKE:         ike,
		LocalAuths:  localAuths,
		RemoteAuths: remoteAuths,
		Children:    children,
		Params:      params,
	}, nil
}

func convertIKE(ij *ikeJSON, mobike *bool, backupSegw *string) (IkeConfig, error) {
	if ij == nil {
		ij = &ikeJSON{}
	}

	version := IKEAny
	if ij.Version != nil {
		switch *ij.Version {
		case 0:
			version = IKEAny
		case 1:
			version = IKEv1
		case 2:
			version = IKEv2
		default:
			return IkeConfig{}, fmt.Errorf("%w: ike.version %d not in {0,1,2}", apperrors.ErrConfigInvalid, *ij.Version)
		}
	}

	localAddrs := ij.LocalAddrs
	if len(localAddrs) == 0 {
		localAddrs = []string{"%any"}
	}
	remoteAddrs := ij.RemoteAddrs
	if len(remoteAddrs) == 0 {
		remoteAddrs = []string{"%any"}
	}
	// Supplemental: a supplied backup_segw is appended as a second failover
	// candidate when only one remote address is otherwise given, subsuming
	// the source's separate HA primary/backup mechanism (SPEC_FULL §9, Open
	// Question 3).
	if backupSegw != nil && *backupSegw != "" && len(remoteAddrs) == 1 {
		remoteAddrs = append(remoteAddrs, *backupSegw)
	}

	for _, a := range append(append([]string{}, localAddrs...), remoteAddrs...) {
		if err := checkFieldLen("ike.addrs", a); err != nil {
			return IkeConfig{}, err
		}
	}

	proposals := append([]string(nil), ij.Proposals...)
	if len(proposals) == 0 {
		proposals = []string{defaultIKEProposalAEAD, defaultIKEProposalClassic}
	}

	rekey := 3600 * time.Second
	if ij.Lifetime != nil && ij.Lifetime.RekeyTime != nil {
		rekey = time.Duration(*ij.Lifetime.RekeyTime) * time.Second
	}

	dscp := uint8(0)
	if ij.DSCP != nil {
		dscp = uint8(*ij.DSCP)
	}

	frag := false
	if ij.Fragmentation != nil {
		frag = *ij.Fragmentation
	}
	mb := false
	if mobike != nil {
		mb = *mobike
	}

	return IkeConfig{
		Version:       version,
		LocalAddrs:    strings.Join(localAddrs, ","),
		RemoteAddrs:   strings.Join(remoteAddrs, ","),
		Proposals:     proposals,
		Mobike:        mb,
		Fragmentation: frag,
		DSCP:          dscp,
		RekeyTime:     rekey,
	}, nil
}

func convertAuths(aj *authJSON, field string) ([]AuthConfig, error) {
	if aj == nil {
		return nil, nil
	}
	if aj.Auth == "" {
		return nil, fmt.Errorf("%w: %s.auth is required", apperrors.ErrConfigInvalid, field)
	}

	var class AuthClass
	switch aj.Auth {
	case "psk":
		class = AuthPSK
	case "pubkey", "cert":
		class = AuthPubkey
	case "eap":
		class = AuthEAP
	default:
		return nil, fmt.Errorf("%w: %s.auth %q unrecognized", apperrors.ErrConfigInvalid, field, aj.Auth)
	}

	identity := ""
	if aj.ID != nil {
		identity = *aj.ID
	}
	if err := checkFieldLen(field+".id", identity); err != nil {
		return nil, err
	}
	if len(identity) > 64 {
		return nil, fmt.Errorf("%w: %s.id exceeds 64 characters", apperrors.ErrConfigInvalid, field)
	}

	certPath := ""
	if aj.Cert != nil {
		certPath = *aj.Cert
	}
	if identity == "" && aj.Auth == "cert" {
		identity = certSubjectOrPath(certPath)
	}

	secret := ""
	if aj.Secret != nil {
		secret = *aj.Secret
	}
	if class == AuthPSK && secret == "" {
		return nil, fmt.Errorf("%w: %s.secret is required for psk auth", apperrors.ErrConfigInvalid, field)
	}
	if err := checkFieldLen(field+".secret", secret); err != nil {
		return nil, err
	}

	privKey := ""
	if aj.PrivateKey != nil {
		privKey = *aj.PrivateKey
	}
	caCert := ""
	if aj.CACert != nil {
		caCert = *aj.CACert
	}

	ocsp := true
	if aj.EnableOCSP != nil {
		ocsp = *aj.EnableOCSP
	}
	crl := true
	if aj.EnableCRL != nil {
		crl = *aj.EnableCRL
	}

	// The secret is transferred by value into AuthConfig for the adapter to
	// hand to the credential store; the intermediate decode buffer's copy
	// is dropped here so no lingering reference to the PSK bytes survives
	// past conversion.
	aj.Secret = nil

	return []AuthConfig{{
		Class:          class,
		Identity:       identity,
		Secret:         secret,
		CertPath:       certPath,
		PrivateKeyPath: privKey,
		CACertPath:     caCert,
		EnableOCSP:     ocsp,
		EnableCRL:      crl,
	}}, nil
}

// certSubjectOrPath best-effort reads a certificate's subject DN to use as
// the identity when none was given explicitly. A path that cannot be read
// or parsed falls back to the raw path string.
func certSubjectOrPath(path string) string {
	if path == "" {
		return ""
	}
	return certSubjectFromFile(path)
}

func convertChild(cj childJSON) (ChildConfig, error) {
	if err := checkFieldLen("children[].name", cj.Name); err != nil {
		return ChildConfig{}, err
	}
	if cj.Name == "" {
		return ChildConfig{}, fmt.Errorf("%w: children[].name is required", apperrors.ErrConfigInvalid)
	}

	mode := ModeTunnel
	if cj.Mode != nil && *cj.Mode == "transport" {
		mode = ModeTransport
	}

	startAction, err := mapStartAction(cj.StartAction, "none")
	if err != nil {
		return ChildConfig{}, err
	}
	dpdAction, err := mapStartAction(cj.DPDAction, "none")
	if err != nil {
		return ChildConfig{}, err
	}
	closeAction, err := mapStartAction(cj.CloseAction, "none")
	if err != nil {
		return ChildConfig{}, err
	}

	localTS, err := convertTS(cj.LocalTS)
	if err != nil {
		return ChildConfig{}, err
	}
	remoteTS, err := convertTS(cj.RemoteTS)
	if err != nil {
		return ChildConfig{}, err
	}

	esp := append([]string(nil), cj.ESPProposals...)
	if len(esp) == 0 {
		esp = []string{defaultESPProposalAEAD, defaultESPProposalClassic}
	}

	rekey := 3600 * time.Second
	life := 7200 * time.Second
	if cj.Lifetime != nil {
		if cj.Lifetime.RekeyTime != nil {
			rekey = time.Duration(*cj.Lifetime.RekeyTime) * time.Second
		}
		if cj.Lifetime.LifeTime != nil {
			life = time.Duration(*cj.Lifetime.LifeTime) * time.Second
		}
	}

	return ChildConfig{
		Name:         cj.Name,
		Mode:         mode,
		StartAction:  startAction,
		DPDAction:    dpdAction,
		CloseAction:  closeAction,
		Lifetime:     Lifetime{RekeyTime: rekey, LifeTime: life},
		LocalTS:      localTS,
		RemoteTS:     remoteTS,
		ESPProposals: esp,
	}, nil
}

func mapStartAction(raw *string, def string) (StartAction, error) {
	v := def
	if raw != nil {
		v = *raw
	}
	sa, ok := startActionMapping[v]
	if !ok {
		return "", fmt.Errorf("%w: start_action %q unrecognized", apperrors.ErrConfigInvalid, v)
	}
	return sa, nil
}

func convertTS(raw []string) ([]TrafficSelector, error) {
	if len(raw) == 0 {
		return []TrafficSelector{{CIDR: "0.0.0.0/0", Protocol: "", PortFrom: 0, PortTo: 65535}}, nil
	}
	out := make([]TrafficSelector, 0, len(raw))
	for _, s := range raw {
		if err := checkFieldLen("traffic_selector", s); err != nil {
			return nil, err
		}
		cidr := s
		if !strings.Contains(cidr, "/") {
			cidr = cidr + "/32"
		}
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			return nil, fmt.Errorf("%w: malformed traffic selector %q: %v", apperrors.ErrConfigInvalid, s, err)
		}
		out = append(out, TrafficSelector{CIDR: cidr, PortFrom: 0, PortTo: 65535})
	}
	return out, nil
}

func convertPeerParams(pj *peerParamsJSON) PeerParams {
	p := PeerParams{
		Unique:     UniqueNo,
		RekeyTime:  0,
		ReauthTime: 0,
		OverTime:   0,
		JitterTime: 0,
		DPDDelay:   30 * time.Second,
		DPDTimeout: 150 * time.Second,
	}
	if pj == nil {
		return p
	}
	if pj.Unique != nil {
		p.Unique = UniquePolicy(*pj.Unique)
	}
	if pj.KeyingTries != nil {
		p.KeyingTries = *pj.KeyingTries
	}
	if pj.RekeyTime != nil {
		p.RekeyTime = time.Duration(*pj.RekeyTime) * time.Second
	}
	if pj.ReauthTime != nil {
		p.ReauthTime = time.Duration(*pj.ReauthTime) * time.Second
	}
	if pj.OverTime != nil {
		p.OverTime = time.Duration(*pj.OverTime) * time.Second
	}
	if pj.JitterTime != nil {
		p.JitterTime = time.Duration(*pj.JitterTime) * time.Second
	}
	if pj.DPDDelay != nil {
		p.DPDDelay = time.Duration(*pj.DPDDelay) * time.Second
	}
	if pj.DPDTimeout != nil {
		p.DPDTimeout = time.Duration(*pj.DPDTimeout) * time.Second
	}
	return p
}

func checkFieldLen(field, value string) error {
	if len(value) > maxFieldLen {
		return fmt.Errorf("%w: %s exceeds %d bytes", apperrors.ErrConfigInvalid, field, maxFieldLen)
	}
	return nil
}
