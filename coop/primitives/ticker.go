package primitives

import (
	"fmt"
	"time"

	"github.com/coopkernel/coop"
	"github.com/coopkernel/coop/reactor"
)

// Ticker delivers the current time on C every period, per spec §4.6: it
// arms a periodic reactor timer and fire-and-forget sends on an unbuffered
// channel, silently dropping a tick if no receiver is currently waiting.
// Preserved per spec §9's Open Question: periodic timers are not a
// reliable queue here, same as the source this spec was distilled from.
type Ticker struct {
	sched *coop.Scheduler
	id    reactor.WatchID
	C     *Channel
}

// NewTicker arms a periodic timer that fires every period, starting after
// the first period elapses. period must be positive.
func NewTicker(period time.Duration) *Ticker {
	if period <= 0 {
		panic(fmt.Sprintf("primitives: non-positive ticker period %s", period))
	}
	t := requireCurrent("NewTicker")
	tk := &Ticker{sched: t.Scheduler(), C: NewChannel(0)}
	tk.id = tk.sched.Reactor().Timer(period, period, func(reactor.WatchID) {
		tk.C.TrySend(time.Now())
	})
	return tk
}

// Stop cancels future ticks. Idempotent.
func (tk *Ticker) Stop() {
	tk.sched.Unwatch(tk.id)
}
