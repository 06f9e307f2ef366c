package tunnel

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/parsnet/l2link/internal/config"
)

const (
	// IfaceName is the network interface the L2TP session is bound to.
	IfaceName = "l2link0"
	// l2tpPort is the UDP port both endpoints exchange L2TP traffic on.
	l2tpPort = 1701
	// ifacePrefixLen is the prefix length of the tunnel interface subnet.
	ifacePrefixLen = 24
)

// ErrNotConfigured indicates the store is missing the role or one of the
// endpoint addresses.
var ErrNotConfigured = errors.New("tunnel is not configured: role and both endpoint addresses are required")

// Source is the view of the configuration store the planner needs.
type Source interface {
	Role() config.Role
	IsConfigured() bool
	LocalIP() string
	RemoteIP() string
	IranIfaceIP() string
	KharejIfaceIP() string
	RemoteForwardIP() string
	TunnelIDs() config.TunnelIDs
	ForwardedPorts() []int
}

// Params is the complete set of values needed to establish the tunnel from
// this endpoint's point of view. It is pure data; nothing here executes.
type Params struct {
	Role            config.Role      `json:"role"`
	LocalIP         string           `json:"local_ip"`
	RemoteIP        string           `json:"remote_ip"`
	LocalIfaceIP    string           `json:"local_iface_ip"`
	RemoteIfaceIP   string           `json:"remote_iface_ip"`
	RemoteForwardIP string           `json:"remote_forward_ip"`
	IDs             config.TunnelIDs `json:"tunnel_ids"`
	ForwardedPorts  []int            `json:"forwarded_ports"`
}

// FromStore assembles tunnel parameters from a configured store. It fails
// with ErrNotConfigured when the role or either endpoint address is missing.
func FromStore(src Source) (Params, error) {
	if !src.IsConfigured() {
		return Params{}, ErrNotConfigured
	}

	p := Params{
		Role:            src.Role(),
		LocalIP:         src.LocalIP(),
		RemoteIP:        src.RemoteIP(),
		RemoteForwardIP: src.RemoteForwardIP(),
		IDs:             src.TunnelIDs(),
		ForwardedPorts:  src.ForwardedPorts(),
	}

	switch p.Role {
	case config.RoleIran:
		p.LocalIfaceIP = src.IranIfaceIP()
		p.RemoteIfaceIP = src.KharejIfaceIP()
	case config.RoleKharej:
		p.LocalIfaceIP = src.KharejIfaceIP()
		p.RemoteIfaceIP = src.IranIfaceIP()
	default:
		return Params{}, ErrNotConfigured
	}

	return p, nil
}

// SetupCommands renders the ip(8) invocations that would establish the L2TP
// tunnel, its session, and the tunnel interface.
func (p Params) SetupCommands() [][]string {
	return [][]string{
		{
			"ip", "l2tp", "add", "tunnel",
			"tunnel_id", strconv.Itoa(p.IDs.TunnelID),
			"peer_tunnel_id", strconv.Itoa(p.IDs.PeerTunnelID),
			"encap", "udp",
			"local", p.LocalIP,
			"remote", p.RemoteIP,
			"udp_sport", strconv.Itoa(l2tpPort),
			"udp_dport", strconv.Itoa(l2tpPort),
		},
		{
			"ip", "l2tp", "add", "session",
			"tunnel_id", strconv.Itoa(p.IDs.TunnelID),
			"session_id", strconv.Itoa(p.IDs.SessionID),
			"peer_session_id", strconv.Itoa(p.IDs.PeerSessionID),
			"name", IfaceName,
		},
		{"ip", "addr", "add", fmt.Sprintf("%s/%d", p.LocalIfaceIP, ifacePrefixLen), "dev", IfaceName},
		{"ip", "link", "set", IfaceName, "up"},
	}
}

// TeardownCommands renders the inverse of SetupCommands.
func (p Params) TeardownCommands() [][]string {
	return [][]string{
		{"ip", "link", "set", IfaceName, "down"},
		{
			"ip", "l2tp", "del", "session",
			"tunnel_id", strconv.Itoa(p.IDs.TunnelID),
			"session_id", strconv.Itoa(p.IDs.SessionID),
		},
		{"ip", "l2tp", "del", "tunnel", "tunnel_id", strconv.Itoa(p.IDs.TunnelID)},
	}
}

// ForwardCommands renders the iptables rules that redirect each forwarded
// port through the tunnel to the remote forward target. Only the IRAN side
// forwards traffic; for any other role the plan is empty.
func (p Params) ForwardCommands() [][]string {
	if p.Role != config.RoleIran || len(p.ForwardedPorts) == 0 {
		return nil
	}

	cmds := make([][]string, 0, len(p.ForwardedPorts)+1)
	for _, port := range p.ForwardedPorts {
		cmds = append(cmds, []string{
			"iptables", "-t", "nat", "-A", "PREROUTING",
			"-p", "tcp", "--dport", strconv.Itoa(port),
			"-j", "DNAT", "--to-destination",
			fmt.Sprintf("%s:%d", p.RemoteForwardIP, port),
		})
	}
	cmds = append(cmds, []string{
		"iptables", "-t", "nat", "-A", "POSTROUTING",
		"-o", IfaceName, "-j", "MASQUERADE",
	})
	return cmds
}
