package viciadapter

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/strongswan/govici/vici"

	"github.com/swavlamban/extsockd/internal/config"
)

// buildLoadConnMessage translates a typed PeerConfig into the VICI
// load-conn request shape: a top-level section keyed by connection name,
// containing the connection's IKE-level keys and a nested "children"
// section of child definitions. This mirrors the section layout charon's
// vici plugin accepts from swanctl (and what swanctl itself sends), rather
// than the swanctl.conf text format the teacher's LinuxManager generates
// for the same purpose.
func buildLoadConnMessage(cfg *config.PeerConfig) (*vici.Message, error) {
	conn := vici.NewMessage()

	if err := conn.Set("version", ikeVersionString(cfg.IKE.Version)); err != nil {
		return nil, err
	}
	if err := conn.Set("local_addrs", splitCSV(cfg.IKE.LocalAddrs)); err != nil {
		return nil, err
	}
	if err := conn.Set("remote_addrs", splitCSV(cfg.IKE.RemoteAddrs)); err != nil {
		return nil, err
	}
	if err := conn.Set("proposals", cfg.IKE.Proposals); err != nil {
		return nil, err
	}
	if err := conn.Set("mobike", boolString(cfg.IKE.Mobike)); err != nil {
		return nil, err
	}
	if err := conn.Set("fragmentation", boolString(cfg.IKE.Fragmentation)); err != nil {
		return nil, err
	}
	if err := conn.Set("dpd_delay", durationSeconds(cfg.Params.DPDDelay)); err != nil {
		return nil, err
	}
	if err := conn.Set("dpd_timeout", durationSeconds(cfg.Params.DPDTimeout)); err != nil {
		return nil, err
	}
	if err := conn.Set("keyingtries", strconv.Itoa(cfg.Params.KeyingTries)); err != nil {
		return nil, err
	}
	if err := conn.Set("unique", string(cfg.Params.Unique)); err != nil {
		return nil, err
	}
	if cfg.IKE.RekeyTime > 0 {
		if err := conn.Set("rekey_time", durationSeconds(cfg.IKE.RekeyTime)); err != nil {
			return nil, err
		}
	}

	for i, a := range cfg.LocalAuths {
		authMsg, err := buildAuthMessage(a)
		if err != nil {
			return nil, err
		}
		if err := conn.Set(fmt.Sprintf("local-%d", i+1), authMsg); err != nil {
			return nil, err
		}
	}
	for i, a := range cfg.RemoteAuths {
		authMsg, err := buildAuthMessage(a)
		if err != nil {
			return nil, err
		}
		if err := conn.Set(fmt.Sprintf("remote-%d", i+1), authMsg); err != nil {
			return nil, err
		}
	}

	children := vici.NewMessage()
	for _, c := range cfg.Children {
		childMsg, err := buildChildMessage(c)
		if err != nil {
			return nil, err
		}
		if err := children.Set(c.Name, childMsg); err != nil {
			return nil, err
		}
	}
	if err := conn.Set("children", children); err != nil {
		return nil, err
	}

	top := vici.NewMessage()
	if err := top.Set(cfg.Name, conn); err != nil {
		return nil, err
	}
	return top, nil
}

func buildAuthMessage(a config.AuthConfig) (*vici.Message, error) {
	m := vici.NewMessage()
	if err := m.Set("auth", authClassString(a.Class)); err != nil {
		return nil, err
	}
	if a.Identity != "" {
		if err := m.Set("id", a.Identity); err != nil {
			return nil, err
		}
	}
	if a.CertPath != "" {
		if err := m.Set("certs", []string{a.CertPath}); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func buildChildMessage(c config.ChildConfig) (*vici.Message, error) {
	m := vici.NewMessage()
	if err := m.Set("mode", string(c.Mode)); err != nil {
		return nil, err
	}
	if err := m.Set("start_action", startActionVICI(c.StartAction)); err != nil {
		return nil, err
	}
	if err := m.Set("dpd_action", startActionVICI(c.DPDAction)); err != nil {
		return nil, err
	}
	if err := m.Set("close_action", startActionVICI(c.CloseAction)); err != nil {
		return nil, err
	}
	if err := m.Set("esp_proposals", c.ESPProposals); err != nil {
		return nil, err
	}
	if err := m.Set("rekey_time", durationSeconds(c.Lifetime.RekeyTime)); err != nil {
		return nil, err
	}
	if err := m.Set("life_time", durationSeconds(c.Lifetime.LifeTime)); err != nil {
		return nil, err
	}
	if err := m.Set("local_ts", tsStrings(c.LocalTS)); err != nil {
		return nil, err
	}
	if err := m.Set("remote_ts", tsStrings(c.RemoteTS)); err != nil {
		return nil, err
	}
	return m, nil
}

func tsStrings(ts []config.TrafficSelector) []string {
	out := make([]string, 0, len(ts))
	for _, t := range ts {
		out = append(out, t.CIDR)
	}
	return out
}

func splitCSV(csv string) []string {
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func boolString(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func durationSeconds(d time.Duration) string {
	return strconv.Itoa(int(d.Seconds()))
}

func ikeVersionString(v config.IKEVersion) string {
	switch v {
	case config.IKEv1:
		return "1"
	case config.IKEv2:
		return "2"
	default:
		return "0"
	}
}

func authClassString(c config.AuthClass) string {
	switch c {
	case config.AuthPSK:
		return "psk"
	case config.AuthPubkey:
		return "pubkey"
	case config.AuthEAP:
		return "eap"
	default:
		return "any"
	}
}

func startActionVICI(a config.StartAction) string {
	switch a {
	case config.ActionStart:
		return "start"
	case config.ActionTrap:
		return "trap"
	default:
		return "none"
	}
}
