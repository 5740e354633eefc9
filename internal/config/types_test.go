package config

import "testing"

func TestPeerConfigClone_DeepCopy(t *testing.T) {
	src := &PeerConfig{
		Name: "c1",
		IKE:  IkeConfig{RemoteAddrs: "10.0.0.1,10.0.0.2", Proposals: []string{"aes256"}},
		Children: []ChildConfig{
			{Name: "child1", LocalTS: []TrafficSelector{{CIDR: "10.1.0.0/24"}}, ESPProposals: []string{"aes256"}},
		},
	}

	clone := src.Clone()

	clone.IKE.Proposals[0] = "mutated"
	clone.Children[0].LocalTS[0].CIDR = "0.0.0.0/0"
	clone.Children[0].ESPProposals[0] = "mutated"

	if src.IKE.Proposals[0] != "aes256" {
		t.Error("mutating clone's IKE proposals affected source")
	}
	if src.Children[0].LocalTS[0].CIDR != "10.1.0.0/24" {
		t.Error("mutating clone's child traffic selectors affected source")
	}
	if src.Children[0].ESPProposals[0] != "aes256" {
		t.Error("mutating clone's ESP proposals affected source")
	}
}

func TestPeerConfigClone_Nil(t *testing.T) {
	var cfg *PeerConfig
	if cfg.Clone() != nil {
		t.Error("Clone of nil PeerConfig should return nil")
	}
}
