package turn

import (
	"sync"
)

// Manager owns one Machine per meeting and fans machine events out to
// watchers (live sockets).
type Manager struct {
	deps Deps

	mu       sync.Mutex
	machines map[string]*Machine
	retired  map[string]struct{}
	watchers map[string]map[uint64]func(any)
	nextID   uint64
}

func NewManager(deps Deps) *Manager {
	return &Manager{
		deps:     deps,
		machines: make(map[string]*Machine),
		retired:  make(map[string]struct{}),
		watchers: make(map[string]map[uint64]func(any)),
	}
}

// For returns the meeting's machine, creating it on first use. A machine that
// was removed while a turn was still running is handed back instead of a new
// one, so the meeting keeps a single turn at a time.
func (m *Manager) For(meetingID string) *Machine {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mc, ok := m.machines[meetingID]; ok {
		delete(m.retired, meetingID)
		return mc
	}
	mc := newMachine(meetingID, m.deps, func(ev any) { m.broadcast(meetingID, ev) })
	mc.onIdle = func() { m.release(meetingID, mc) }
	m.machines[meetingID] = mc
	return mc
}

// Get returns the meeting's machine without creating one. Removed machines
// are not returned.
func (m *Manager) Get(meetingID string) (*Machine, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, gone := m.retired[meetingID]; gone {
		return nil, false
	}
	mc, ok := m.machines[meetingID]
	return mc, ok
}

// Remove forgets the meeting's machine. A machine mid-turn stays registered
// until that turn ends.
func (m *Manager) Remove(meetingID string) {
	m.mu.Lock()
	mc, ok := m.machines[meetingID]
	if !ok {
		m.mu.Unlock()
		return
	}
	if mc.Busy() {
		m.retired[meetingID] = struct{}{}
		m.mu.Unlock()
		return
	}
	delete(m.machines, meetingID)
	delete(m.retired, meetingID)
	m.mu.Unlock()
	m.forget(meetingID)
}

// Len is the number of registered machines, including retired ones.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.machines)
}

// release runs after every turn. It drops mc if it was removed mid-turn and
// nobody claimed it again.
func (m *Manager) release(meetingID string, mc *Machine) {
	m.mu.Lock()
	_, gone := m.retired[meetingID]
	if !gone || m.machines[meetingID] != mc || mc.Busy() {
		m.mu.Unlock()
		return
	}
	delete(m.machines, meetingID)
	delete(m.retired, meetingID)
	m.mu.Unlock()
	m.forget(meetingID)
}

func (m *Manager) forget(meetingID string) {
	if f, ok := m.deps.Publisher.(interface{ Forget(string) }); ok {
		f.Forget(meetingID)
	}
}

// Watch registers fn for the meeting's events. The returned func is idempotent.
func (m *Manager) Watch(meetingID string, fn func(any)) func() {
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	if m.watchers[meetingID] == nil {
		m.watchers[meetingID] = make(map[uint64]func(any))
	}
	m.watchers[meetingID][id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			delete(m.watchers[meetingID], id)
			if len(m.watchers[meetingID]) == 0 {
				delete(m.watchers, meetingID)
			}
		})
	}
}

func (m *Manager) broadcast(meetingID string, ev any) {
	m.mu.Lock()
	fns := make([]func(any), 0, len(m.watchers[meetingID]))
	for _, fn := range m.watchers[meetingID] {
		fns = append(fns, fn)
	}
	m.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}
