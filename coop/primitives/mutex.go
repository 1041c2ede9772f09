package primitives

import "github.com/coopkernel/coop"

// Mutex is a non-reentrant advisory lock with a FIFO waiter queue, per
// spec §4.3. Re-entry by the current owner is a no-op (not a counted
// recursive lock): a single Unlock releases it regardless of how many
// times the owner called Lock.
type Mutex struct {
	owner  *coop.Task
	locked bool
	queue  []*coop.Task
}

// NewMutex constructs an unlocked mutex.
func NewMutex() *Mutex { return &Mutex{} }

// Lock takes the mutex if free, is a no-op if the calling task already
// owns it, and otherwise enqueues the calling task and suspends until it
// is handed ownership.
func (m *Mutex) Lock() {
	t := requireCurrent("Mutex.Lock")
	if !m.locked {
		m.locked = true
		m.owner = t
		return
	}
	if m.owner == t {
		return
	}
	m.queue = append(m.queue, t)
	coop.Suspend()
	// Woken by Unlock, which already set m.owner = t before resuming us.
}

// TryLock returns true without suspending if the mutex was free (in which
// case the calling task now owns it) or already owned by the calling
// task.
func (m *Mutex) TryLock() bool {
	t := requireCurrent("Mutex.TryLock")
	if !m.locked {
		m.locked = true
		m.owner = t
		return true
	}
	return m.owner == t
}

// Unlock releases the mutex. Only the owner may call it; any other caller
// gets a MutexError. If waiters are queued, the head is handed ownership
// and resumed.
func (m *Mutex) Unlock() error {
	t := requireCurrent("Mutex.Unlock")
	if !m.locked || m.owner != t {
		return &coop.MutexError{Message: "unlock by non-owner"}
	}
	if len(m.queue) == 0 {
		m.locked = false
		m.owner = nil
		return nil
	}
	next := m.queue[0]
	m.queue = m.queue[1:]
	m.owner = next
	next.Resume(nil)
	return nil
}

// Locked reports whether the mutex is currently held.
func (m *Mutex) Locked() bool { return m.locked }

// Owner returns the task currently holding the mutex, or nil if free.
func (m *Mutex) Owner() *coop.Task { return m.owner }
