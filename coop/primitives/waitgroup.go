package primitives

import "github.com/coopkernel/coop"

// WaitGroup is a counter that parks waiters until it reaches zero, per
// spec §4.3. Ground: the teacher's own use of a plain sync.WaitGroup in
// eventloop's test harness (promisifyWg) shows the same counter-to-zero-
// wakes-all idiom; here it is re-expressed cooperatively instead of with
// OS-thread blocking.
type WaitGroup struct {
	counter int
	waiters []*coop.Task
}

// NewWaitGroup constructs a WaitGroup with counter 0.
func NewWaitGroup() *WaitGroup { return &WaitGroup{} }

// Add increments the counter by n. n must be >= 0; a negative n is
// rejected with an ArgumentError and leaves the counter unchanged.
func (wg *WaitGroup) Add(n int) error {
	if n < 0 {
		return &coop.ArgumentError{Message: "WaitGroup.Add: negative delta"}
	}
	wg.counter += n
	return nil
}

// Done decrements the counter by one. The counter must be > 0; calling
// Done when it is already 0 is a MutexError per spec's "done without add"
// misuse case. Reaching 0 wakes every current waiter.
func (wg *WaitGroup) Done() error {
	if wg.counter <= 0 {
		return &coop.MutexError{Message: "WaitGroup.Done: counter already zero"}
	}
	wg.counter--
	if wg.counter == 0 {
		waiters := wg.waiters
		wg.waiters = nil
		for _, t := range waiters {
			t.Resume(nil)
		}
	}
	return nil
}

// Wait returns immediately if the counter is already 0, otherwise
// suspends the calling task until it reaches 0.
func (wg *WaitGroup) Wait() {
	if wg.counter == 0 {
		return
	}
	t := requireCurrent("WaitGroup.Wait")
	wg.waiters = append(wg.waiters, t)
	coop.Suspend()
}

// Count returns the current counter value.
func (wg *WaitGroup) Count() int { return wg.counter }
