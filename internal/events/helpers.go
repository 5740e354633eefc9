package events

import "github.com/strongswan/govici/vici"

// firstIKESA extracts the single IKE_SA section a VICI event message
// carries (events are keyed by connection name at the top level) along
// with that name. ike-updown/child-updown/*-rekey events from charon
// always carry exactly one top-level key; a missing or malformed message
// is tolerated by returning ok=false so the caller drops the callback
// silently, matching the source listener's null-SA tolerance.
func firstIKESA(msg *vici.Message) (*vici.Message, string, bool) {
	if msg == nil {
		return nil, "", false
	}
	for _, key := range msg.Keys() {
		if sa, ok := msg.Get(key).(*vici.Message); ok {
			return sa, key, true
		}
	}
	return nil, "", false
}

// firstChildSA extracts the first child-sas entry nested under an IKE_SA
// section.
func firstChildSA(sa *vici.Message) (*vici.Message, string, bool) {
	if sa == nil {
		return nil, "", false
	}
	children, ok := sa.Get("child-sas").(*vici.Message)
	if !ok {
		return nil, "", false
	}
	for _, key := range children.Keys() {
		if child, ok := children.Get(key).(*vici.Message); ok {
			return child, key, true
		}
	}
	return nil, "", false
}

// firstTSPair returns one representative local/remote traffic-selector
// pair as strings, or empty strings if the child carries none.
func firstTSPair(child *vici.Message) (string, string) {
	if child == nil {
		return "", ""
	}
	local := firstString(child.Get("local-ts"))
	remote := firstString(child.Get("remote-ts"))
	return local, remote
}

func firstString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case []string:
		if len(t) > 0 {
			return t[0]
		}
	}
	return ""
}

// stringField reads a flat string value out of a VICI message section,
// tolerating absent keys and non-string values.
func stringField(msg *vici.Message, key string) string {
	if msg == nil {
		return ""
	}
	s, _ := msg.Get(key).(string)
	return s
}
