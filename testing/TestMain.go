package testing

import (
	"os"
	"sync"
	stdtesting "testing"
)

var once sync.Once

func ensureTestMode() {
	once.Do(func() {
		_ = os.Setenv("ERP_TEST_MODE", "1")
		if os.Getenv("STOCK_LOCK_TIMEOUT") == "" {
			_ = os.Setenv("STOCK_LOCK_TIMEOUT", "1s")
		}
	})
}

func init() {
	ensureTestMode()
}

func TestMain(m *stdtesting.M) {
	ensureTestMode()
	os.Exit(m.Run())
}
