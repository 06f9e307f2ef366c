package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"gopkg.in/yaml.v3"
)

// DefaultPath is the well-known location of the persisted configuration.
const DefaultPath = "/etc/l2link/config.yaml"

var (
	// ErrInvalidRole indicates a role outside {IRAN, KHAREJ, none}.
	ErrInvalidRole = errors.New(`role must be "IRAN" or "KHAREJ"`)
	// ErrCorruptConfig indicates the configuration file exists but cannot be
	// read or parsed. Only surfaced when the store is opened with Strict.
	ErrCorruptConfig = errors.New("configuration file is corrupt")
)

// Store is the persistent configuration store. Every mutating accessor
// updates the in-memory document and immediately rewrites the whole file,
// atomically and with owner-only permissions. A mutex serializes access
// within the process; concurrent writers in other processes are not
// coordinated, so the store assumes a single writing process per host.
type Store struct {
	mu   sync.Mutex
	path string
	doc  Document
}

// Option configures Open behaviour.
type Option func(*openConfig)

type openConfig struct {
	strict bool
}

// Strict makes Open fail with ErrCorruptConfig when the file exists but
// cannot be parsed, instead of silently starting from an empty document.
func Strict() Option {
	return func(cfg *openConfig) {
		cfg.strict = true
	}
}

// Open loads the configuration document at path and merges static defaults
// for any missing keys. A missing file is not an error: the store starts from
// an empty document. An unreadable or unparsable file is recovered the same
// way unless Strict is given. Open never writes; the file is only created by
// the first mutation.
func Open(path string, opts ...Option) (*Store, error) {
	var cfg openConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &Store{path: path}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// First run, start empty.
	case err != nil:
		if cfg.strict {
			return nil, fmt.Errorf("%w: %v", ErrCorruptConfig, err)
		}
	default:
		if err := yaml.Unmarshal(data, &s.doc); err != nil {
			if cfg.strict {
				return nil, fmt.Errorf("%w: %v", ErrCorruptConfig, err)
			}
			s.doc = Document{}
		}
	}

	s.doc.applyDefaults()
	return s, nil
}

// Path returns the location of the persisted file.
func (s *Store) Path() string {
	return s.path
}

// Update applies fn to the document and persists the result as one guarded
// unit. On a persist failure the in-memory document may be ahead of the disk
// copy; callers must treat the change as uncommitted.
func (s *Store) Update(fn func(*Document)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.doc)
	return s.persistLocked()
}

// persistLocked serializes the whole document and atomically replaces the
// file, creating the containing directory first. The temp file is chmodded
// before it receives any data, so no intermediate state is group/other
// readable.
func (s *Store) persistLocked() error {
	data, err := yaml.Marshal(&s.doc)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".config-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	tmpName := tmp.Name()

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("chmod temp config: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp config: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace config: %w", err)
	}
	return nil
}

// Role returns the stored role, or RoleNone when unset.
func (s *Store) Role() Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.role()
}

// SetRole stores the role and persists. RoleNone clears the stored role.
// Any other value than IRAN, KHAREJ, or none fails with ErrInvalidRole and
// leaves the document untouched.
func (s *Store) SetRole(role Role) error {
	if role != RoleIran && role != RoleKharej && role != RoleNone {
		return ErrInvalidRole
	}
	return s.Update(func(d *Document) {
		if role == RoleNone {
			d.Role = nil
		} else {
			d.Role = ptr(role)
		}
	})
}

// IPIran returns the public address of the IRAN endpoint, or "" when unset.
func (s *Store) IPIran() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return stringOrEmpty(s.doc.IPIran)
}

// SetIPIran stores the IRAN endpoint address verbatim; validation of the
// address shape is the caller's concern.
func (s *Store) SetIPIran(ip string) error {
	return s.Update(func(d *Document) {
		d.IPIran = ptr(ip)
	})
}

// IPKharej returns the public address of the KHAREJ endpoint, or "" when unset.
func (s *Store) IPKharej() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return stringOrEmpty(s.doc.IPKharej)
}

// SetIPKharej stores the KHAREJ endpoint address verbatim.
func (s *Store) SetIPKharej(ip string) error {
	return s.Update(func(d *Document) {
		d.IPKharej = ptr(ip)
	})
}

// IranIfaceIP returns the tunnel interface address on the IRAN side.
func (s *Store) IranIfaceIP() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return stringOrDefault(s.doc.IranIfaceIP, DefaultIranIfaceIP)
}

// SetIranIfaceIP stores the IRAN tunnel interface address.
func (s *Store) SetIranIfaceIP(ip string) error {
	return s.Update(func(d *Document) {
		d.IranIfaceIP = ptr(ip)
	})
}

// KharejIfaceIP returns the tunnel interface address on the KHAREJ side.
func (s *Store) KharejIfaceIP() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return stringOrDefault(s.doc.KharejIfaceIP, DefaultKharejIfaceIP)
}

// SetKharejIfaceIP stores the KHAREJ tunnel interface address.
func (s *Store) SetKharejIfaceIP(ip string) error {
	return s.Update(func(d *Document) {
		d.KharejIfaceIP = ptr(ip)
	})
}

// RemoteForwardIP returns the address port forwards are directed at.
func (s *Store) RemoteForwardIP() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return stringOrDefault(s.doc.RemoteForwardIP, DefaultRemoteForwardIP)
}

// SetRemoteForwardIP stores the forward target address.
func (s *Store) SetRemoteForwardIP(ip string) error {
	return s.Update(func(d *Document) {
		d.RemoteForwardIP = ptr(ip)
	})
}

// ForwardedPorts returns a defensive copy of the forwarded port list in
// insertion order.
func (s *Store) ForwardedPorts() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, len(s.doc.ForwardedPorts))
	copy(out, s.doc.ForwardedPorts)
	return out
}

// AddPort appends port to the forwarded list and persists. Adding a port that
// is already present is a no-op: nothing is written and no error is returned.
func (s *Store) AddPort(port int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if slices.Contains(s.doc.ForwardedPorts, port) {
		return nil
	}
	s.doc.ForwardedPorts = append(s.doc.ForwardedPorts, port)
	return s.persistLocked()
}

// RemovePort removes port from the forwarded list and persists, preserving
// the order of the remaining entries. Removing an absent port is a no-op.
func (s *Store) RemovePort(port int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := slices.Index(s.doc.ForwardedPorts, port)
	if idx < 0 {
		return nil
	}
	s.doc.ForwardedPorts = slices.Delete(s.doc.ForwardedPorts, idx, idx+1)
	return s.persistLocked()
}

// TunnelID returns the effective tunnel identifier for this endpoint.
func (s *Store) TunnelID() int {
	return s.TunnelIDs().TunnelID
}

// SetTunnelID stores an explicit tunnel identifier, which from then on wins
// over any role default.
func (s *Store) SetTunnelID(id int) error {
	return s.Update(func(d *Document) {
		d.TunnelID = ptr(id)
	})
}

// PeerTunnelID returns the effective tunnel identifier of the remote endpoint.
func (s *Store) PeerTunnelID() int {
	return s.TunnelIDs().PeerTunnelID
}

// SetPeerTunnelID stores an explicit peer tunnel identifier.
func (s *Store) SetPeerTunnelID(id int) error {
	return s.Update(func(d *Document) {
		d.PeerTunnelID = ptr(id)
	})
}

// SessionID returns the effective session identifier for this endpoint.
func (s *Store) SessionID() int {
	return s.TunnelIDs().SessionID
}

// SetSessionID stores an explicit session identifier.
func (s *Store) SetSessionID(id int) error {
	return s.Update(func(d *Document) {
		d.SessionID = ptr(id)
	})
}

// PeerSessionID returns the effective session identifier of the remote endpoint.
func (s *Store) PeerSessionID() int {
	return s.TunnelIDs().PeerSessionID
}

// SetPeerSessionID stores an explicit peer session identifier.
func (s *Store) SetPeerSessionID(id int) error {
	return s.Update(func(d *Document) {
		d.PeerSessionID = ptr(id)
	})
}

// TunnelIDs resolves all four tunnel identifiers in one pass, for consumers
// that configure a tunnel session at once.
func (s *Store) TunnelIDs() TunnelIDs {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ResolveTunnelIDs(s.doc)
}

// ClearAll resets role, both endpoint addresses, and the forwarded port list,
// then persists once. Interface addresses, the forward target, and the tunnel
// identifiers are deliberately left alone so a later reconfiguration does not
// need to re-specify them.
func (s *Store) ClearAll() error {
	return s.Update(func(d *Document) {
		d.Role = nil
		d.IPIran = nil
		d.IPKharej = nil
		d.ForwardedPorts = []int{}
	})
}

// IsConfigured reports whether the minimum state to establish the tunnel is
// present: a role and both endpoint addresses. Both addresses are checked
// regardless of role since both are needed to bring a tunnel up.
func (s *Store) IsConfigured() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.role() != RoleNone &&
		stringOrEmpty(s.doc.IPIran) != "" &&
		stringOrEmpty(s.doc.IPKharej) != ""
}

// LocalIP returns the public address of this endpoint based on role, or ""
// when the role is unset.
func (s *Store) LocalIP() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.doc.role() {
	case RoleIran:
		return stringOrEmpty(s.doc.IPIran)
	case RoleKharej:
		return stringOrEmpty(s.doc.IPKharej)
	default:
		return ""
	}
}

// RemoteIP returns the public address of the opposite endpoint based on role,
// or "" when the role is unset.
func (s *Store) RemoteIP() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.doc.role() {
	case RoleIran:
		return stringOrEmpty(s.doc.IPKharej)
	case RoleKharej:
		return stringOrEmpty(s.doc.IPIran)
	default:
		return ""
	}
}

// Snapshot returns a deep copy of the current document.
func (s *Store) Snapshot() Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Clone()
}

func stringOrEmpty(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func stringOrDefault(p *string, fallback string) string {
	if p == nil {
		return fallback
	}
	return *p
}
