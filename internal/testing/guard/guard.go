// Package guard turns on test mode for any test binary importing it, so cmd
// tests can call main without reaching external services.
package guard

import "os"

// Env is the variable read by app.InTestMode.
const Env = "LOANBOOK_TEST_MODE"

func init() {
	if os.Getenv(Env) == "" {
		_ = os.Setenv(Env, "1")
	}
}
