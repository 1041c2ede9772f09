package reactor

import (
	"fmt"
	"os"
)

// PanicHandler receives (source, recovered value) for any watcher
// callback that panics. Per spec §4.2, the reactor must isolate
// misbehaving callbacks: the panic is reported and iteration continues.
//
// reactor sits below coop in the package graph, so it cannot import
// coop's logiface-backed error sink directly; coop wires this hook to
// its own sink at startup. The default prints to stderr so a reactor
// used standalone (e.g. in this package's own tests) still surfaces
// failures instead of swallowing them silently.
var PanicHandler = func(source string, r any) {
	fmt.Fprintf(os.Stderr, "reactor: recovered panic in %s callback: %v\n", source, r)
}

func reportCallbackPanic(source string, r any) {
	PanicHandler(source, r)
}
