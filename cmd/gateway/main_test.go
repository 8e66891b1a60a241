package main

import (
	"testing"

	_ "github.com/odyssey-erp/loanbook/internal/testing/guard"

	"github.com/odyssey-erp/loanbook/internal/app"
)

func TestMainSkipsStartupInTestMode(t *testing.T) {
	app.RefreshTestMode()
	if !app.InTestMode() {
		t.Fatalf("expected test mode to be enabled by the guard")
	}
	main()
}
