package host

import (
	"maps"
	"slices"
)

// Manager is a handle to the shared host state: the gateway pair, the local
// pair and the discovered host list. Each slot is locked independently and
// there is no transaction across slots; code must never hold two slots at once.
//
// Clone returns a new handle aliasing the same three slots, which is how the
// state is handed to modules.
type Manager struct {
	gateway *Slot[KnownPair]
	self    *Slot[KnownPair]
	hosts   *Slot[NetPairList]
}

// NewManager creates a Manager with an empty host list.
func NewManager(gateway, self KnownPair) *Manager {
	return &Manager{
		gateway: newSlot("gateway", gateway),
		self:    newSlot("self", self),
		hosts:   newSlot("hosts", NewNetPairList()),
	}
}

// Clone returns a handle sharing the same slots.
func (m *Manager) Clone() *Manager {
	return &Manager{
		gateway: m.gateway,
		self:    m.self,
		hosts:   m.hosts,
	}
}

// GatewaySlot returns the shared gateway slot without locking it.
func (m *Manager) GatewaySlot() *Slot[KnownPair] { return m.gateway }

// SelfSlot returns the shared local host slot without locking it.
func (m *Manager) SelfSlot() *Slot[KnownPair] { return m.self }

// HostsSlot returns the shared host list slot without locking it.
func (m *Manager) HostsSlot() *Slot[NetPairList] { return m.hosts }

// Gateway returns the current gateway pair.
func (m *Manager) Gateway() KnownPair {
	return readPair(m.gateway)
}

// SetGateway replaces the gateway pair.
func (m *Manager) SetGateway(p KnownPair) {
	writePair(m.gateway, p)
}

// Self returns the current local host pair.
func (m *Manager) Self() KnownPair {
	return readPair(m.self)
}

// SetSelf replaces the local host pair.
func (m *Manager) SetSelf(p KnownPair) {
	writePair(m.self, p)
}

// WithHosts runs fn while holding the host list slot.
func (m *Manager) WithHosts(fn func(l *NetPairList)) error {
	return m.hosts.Do(fn)
}

// HostsSnapshot returns a deep copy of the host list.
func (m *Manager) HostsSnapshot() NetPairList {
	l := m.hosts.Lock()
	defer m.hosts.Unlock()

	return NetPairList{
		hosts: slices.Clone(l.hosts),
		macs:  maps.Clone(l.macs),
	}
}

func readPair(s *Slot[KnownPair]) KnownPair {
	p := s.Lock()
	defer s.Unlock()
	return *p
}

func writePair(s *Slot[KnownPair], p KnownPair) {
	v := s.Lock()
	defer s.Unlock()
	*v = p
}
