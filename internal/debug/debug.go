// Package debug provides env-gated diagnostic logging. Output goes to
// stderr and is off unless TSYNC_DEBUG is set or verbose mode is enabled.
package debug

import (
	"fmt"
	"os"
	"sync"
	"time"
)

var (
	mu          sync.Mutex
	enabled     = os.Getenv("TSYNC_DEBUG") != ""
	verboseMode = false
)

// Enabled reports whether debug logging is active.
func Enabled() bool {
	return enabled || verboseMode
}

// SetVerbose enables debug output regardless of the environment.
func SetVerbose(v bool) {
	verboseMode = v
}

// Logf writes a timestamped line to stderr when debug logging is active.
func Logf(format string, args ...any) {
	if !Enabled() {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	fmt.Fprintf(os.Stderr, "[%s] %s\n", time.Now().Format("15:04:05.000"), fmt.Sprintf(format, args...))
}
