package config

// Static defaults merged into the document on load when a key is absent.
const (
	DefaultIranIfaceIP     = "10.30.30.1"
	DefaultKharejIfaceIP   = "10.30.30.2"
	DefaultRemoteForwardIP = "10.30.30.2"

	configVersion = "1.0.0"
)

// Role identifies which of the two fixed tunnel endpoints this instance is.
type Role string

const (
	RoleIran   Role = "IRAN"
	RoleKharej Role = "KHAREJ"
	// RoleNone marks an instance that has not been assigned an endpoint yet.
	RoleNone Role = ""
)

// Document is the complete persisted configuration state. Pointer fields
// distinguish "unset" (serialized as null) from an explicitly stored value.
type Document struct {
	Version         *string `yaml:"version" json:"version"`
	Role            *Role   `yaml:"role" json:"role"`
	IPIran          *string `yaml:"ip_iran" json:"ip_iran"`
	IPKharej        *string `yaml:"ip_kharej" json:"ip_kharej"`
	IranIfaceIP     *string `yaml:"iran_iface_ip" json:"iran_iface_ip"`
	KharejIfaceIP   *string `yaml:"kharej_iface_ip" json:"kharej_iface_ip"`
	RemoteForwardIP *string `yaml:"remote_forward_ip" json:"remote_forward_ip"`
	ForwardedPorts  []int   `yaml:"forwarded_ports" json:"forwarded_ports"`
	TunnelID        *int    `yaml:"tunnel_id" json:"tunnel_id"`
	PeerTunnelID    *int    `yaml:"peer_tunnel_id" json:"peer_tunnel_id"`
	SessionID       *int    `yaml:"session_id" json:"session_id"`
	PeerSessionID   *int    `yaml:"peer_session_id" json:"peer_session_id"`
}

// TunnelIDs groups the four tunnel identifiers used to establish a session.
type TunnelIDs struct {
	TunnelID      int `yaml:"tunnel_id" json:"tunnel_id"`
	PeerTunnelID  int `yaml:"peer_tunnel_id" json:"peer_tunnel_id"`
	SessionID     int `yaml:"session_id" json:"session_id"`
	PeerSessionID int `yaml:"peer_session_id" json:"peer_session_id"`
}

// roleDefaults maps each role to its default tunnel identifiers. The two
// entries mirror each other: IRAN's tunnel_id is KHAREJ's peer_tunnel_id and
// vice versa, likewise for the session identifiers.
var roleDefaults = map[Role]TunnelIDs{
	RoleIran:   {TunnelID: 1000, PeerTunnelID: 2000, SessionID: 10, PeerSessionID: 20},
	RoleKharej: {TunnelID: 2000, PeerTunnelID: 1000, SessionID: 20, PeerSessionID: 10},
}

// fallbackIDs applies when neither an explicit value nor a role default is
// available.
var fallbackIDs = TunnelIDs{TunnelID: 1000, PeerTunnelID: 2000, SessionID: 10, PeerSessionID: 20}

// applyDefaults fills in every defaulted key that is missing from the
// document. Present keys are never overwritten. Keys whose default is null
// (role, endpoint IPs, tunnel identifiers) need no merging: an absent key and
// a stored null are both represented as nil.
func (d *Document) applyDefaults() {
	if d.Version == nil {
		d.Version = ptr(configVersion)
	}
	if d.IranIfaceIP == nil {
		d.IranIfaceIP = ptr(DefaultIranIfaceIP)
	}
	if d.KharejIfaceIP == nil {
		d.KharejIfaceIP = ptr(DefaultKharejIfaceIP)
	}
	if d.RemoteForwardIP == nil {
		d.RemoteForwardIP = ptr(DefaultRemoteForwardIP)
	}
	if d.ForwardedPorts == nil {
		d.ForwardedPorts = []int{}
	}
}

// role returns the stored role, or RoleNone when unset.
func (d *Document) role() Role {
	if d.Role == nil {
		return RoleNone
	}
	return *d.Role
}

// Clone returns a deep copy of the document so callers cannot reach back into
// the store's internal state.
func (d *Document) Clone() Document {
	out := Document{
		Version:         clonePtr(d.Version),
		Role:            clonePtr(d.Role),
		IPIran:          clonePtr(d.IPIran),
		IPKharej:        clonePtr(d.IPKharej),
		IranIfaceIP:     clonePtr(d.IranIfaceIP),
		KharejIfaceIP:   clonePtr(d.KharejIfaceIP),
		RemoteForwardIP: clonePtr(d.RemoteForwardIP),
		TunnelID:        clonePtr(d.TunnelID),
		PeerTunnelID:    clonePtr(d.PeerTunnelID),
		SessionID:       clonePtr(d.SessionID),
		PeerSessionID:   clonePtr(d.PeerSessionID),
	}
	if d.ForwardedPorts != nil {
		out.ForwardedPorts = make([]int, len(d.ForwardedPorts))
		copy(out.ForwardedPorts, d.ForwardedPorts)
	}
	return out
}

// ResolveTunnelIDs computes the effective tunnel identifiers for a document
// snapshot. Each field resolves independently: an explicitly stored value
// wins, then the default table for the stored role, then the ultimate
// fallback. Resolution never mutates the document, so changing the role later
// changes the effective identifiers of any field still stored as null.
func ResolveTunnelIDs(d Document) TunnelIDs {
	defaults, ok := roleDefaults[d.role()]
	if !ok {
		defaults = fallbackIDs
	}
	return TunnelIDs{
		TunnelID:      resolveIdentifier(d.TunnelID, defaults.TunnelID),
		PeerTunnelID:  resolveIdentifier(d.PeerTunnelID, defaults.PeerTunnelID),
		SessionID:     resolveIdentifier(d.SessionID, defaults.SessionID),
		PeerSessionID: resolveIdentifier(d.PeerSessionID, defaults.PeerSessionID),
	}
}

func resolveIdentifier(explicit *int, fallback int) int {
	if explicit != nil {
		return *explicit
	}
	return fallback
}

func ptr[T any](v T) *T {
	return &v
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
