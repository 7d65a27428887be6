// Package testing switches the service into test mode when imported by tests.
package testing

import (
	"os"
	"sync"
)

var once sync.Once

func ensureTestMode() {
	once.Do(func() {
		_ = os.Setenv("IAM_TEST_MODE", "1")
	})
}

func init() {
	ensureTestMode()
}
