package coop

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/joeycumines/logiface"
)

// sinkEvent is the Event implementation backing the error sink (spec §6.7:
// "a line-oriented writer, default standard output, that receives
// unresolved-error reports"). Ground: logiface's own Event implementations
// always embed UnimplementedEvent and override only the field types they
// need.
type sinkEvent struct {
	logiface.UnimplementedEvent
	level   logiface.Level
	message string
	fields  []string
}

func (e *sinkEvent) Level() logiface.Level { return e.level }

// AddField is the mandatory fallback for field types with no dedicated
// Add* method below (e.g. int64, via Field(key, int64Value)).
func (e *sinkEvent) AddField(key string, val any) {
	e.fields = append(e.fields, fmt.Sprintf("%s=%v", key, val))
}

func (e *sinkEvent) AddMessage(msg string) bool {
	e.message = msg
	return true
}

func (e *sinkEvent) AddError(err error) bool {
	e.fields = append(e.fields, fmt.Sprintf("err=%q", err.Error()))
	return true
}

func (e *sinkEvent) AddString(key, val string) bool {
	e.fields = append(e.fields, fmt.Sprintf("%s=%q", key, val))
	return true
}

func (e *sinkEvent) AddInt(key string, val int) bool {
	e.fields = append(e.fields, fmt.Sprintf("%s=%d", key, val))
	return true
}

// sinkWriter renders each unresolved Outcome as one diagnostic line,
// carrying the failing task's Dump(). Ground: logiface's Writer[E]
// interface, implemented here directly rather than reused from any
// built-in sink, since none of the teacher's logiface-* backends are
// wired (see DESIGN.md).
type sinkWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *sinkWriter) Write(event *sinkEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var b strings.Builder
	b.WriteString(levelTag(event.level))
	b.WriteByte(' ')
	b.WriteString(event.message)
	for _, f := range event.fields {
		b.WriteByte(' ')
		b.WriteString(f)
	}
	b.WriteByte('\n')
	_, err := io.WriteString(s.w, b.String())
	return err
}

func levelTag(l logiface.Level) string {
	switch l {
	case logiface.LevelError:
		return "ERROR"
	case logiface.LevelWarning:
		return "WARN"
	default:
		return "INFO"
	}
}

var (
	sinkOnce   sync.Once
	sinkLogger *logiface.Logger[*sinkEvent]
	sinkMu     sync.RWMutex
)

func defaultSink() *logiface.Logger[*sinkEvent] {
	sinkOnce.Do(func() {
		sinkLogger = logiface.New[*sinkEvent](
			logiface.WithEventFactory[*sinkEvent](logiface.EventFactoryFunc[*sinkEvent](func(level logiface.Level) *sinkEvent {
				return &sinkEvent{level: level}
			})),
			logiface.WithWriter[*sinkEvent](&sinkWriter{w: os.Stdout}),
			logiface.WithLevel[*sinkEvent](logiface.LevelTrace),
		)
	})
	sinkMu.RLock()
	defer sinkMu.RUnlock()
	return sinkLogger
}

// SetErrorSink replaces the writer receiving unresolved-error reports.
// Passing nil restores the default (stdout).
func SetErrorSink(w io.Writer) {
	defaultSink() // ensure sinkOnce has fired before we replace sinkLogger
	if w == nil {
		w = os.Stdout
	}
	sinkMu.Lock()
	defer sinkMu.Unlock()
	sinkLogger = logiface.New[*sinkEvent](
		logiface.WithEventFactory[*sinkEvent](logiface.EventFactoryFunc[*sinkEvent](func(level logiface.Level) *sinkEvent {
			return &sinkEvent{level: level}
		})),
		logiface.WithWriter[*sinkEvent](&sinkWriter{w: w}),
		logiface.WithLevel[*sinkEvent](logiface.LevelTrace),
	)
}

// reportCallbackPanic surfaces a panic recovered from a reactor watcher
// callback (fd readiness, timer, or signal), per spec §4.2: the reactor
// isolates a misbehaving callback rather than letting it corrupt the
// driver loop. Wired to reactor.PanicHandler by NewScheduler, since
// coop/reactor cannot import coop's sink directly.
func reportCallbackPanic(source string, r any) {
	logger := defaultSink()
	b := logger.Err()
	b.Field("source", source)
	b.Err(fmt.Errorf("%v", r))
	b.Log("recovered panic in reactor callback")
}

// reportTickError surfaces an error returned by Reactor.Tick itself
// (distinct from a callback panic), e.g. a failed readiness-wait syscall.
func reportTickError(err error) {
	logger := defaultSink()
	b := logger.Err()
	b.Err(err)
	b.Log("reactor tick error")
}

// reportUnresolved surfaces an Outcome's error once, at end of tick, per
// spec §7, unless the caller already acknowledged it via Outcome.Resolve.
func reportUnresolved(o *Outcome) {
	if o == nil || o.Err == nil || o.Resolved() {
		return
	}
	logger := defaultSink()
	b := logger.Err()
	b.Field("action", string(o.Action))
	if o.Task != nil {
		b.Field("task", int(o.Task.id))
	}
	b.Field("kind", o.Kind.String())
	b.Err(o.Err)
	b.Log("unresolved task error")
}
