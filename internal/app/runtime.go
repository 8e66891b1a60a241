package app

import (
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

// TestModeEnv makes the binaries return from main before dialing anything.
const TestModeEnv = "LOANBOOK_TEST_MODE"

var testMode struct {
	once sync.Once
	on   atomic.Bool
}

// InTestMode reports whether the application should skip runtime side effects.
func InTestMode() bool {
	testMode.once.Do(RefreshTestMode)
	return testMode.on.Load()
}

// RefreshTestMode re-reads the flag after environment changes. "1" and
// "true" enable test mode.
func RefreshTestMode() {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(TestModeEnv))) {
	case "1", "true":
		testMode.on.Store(true)
	default:
		testMode.on.Store(false)
	}
}
