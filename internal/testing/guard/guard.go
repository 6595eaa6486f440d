// Package guard forces test mode before any runtime side effects happen.
// Import it for side effects from packages whose tests must never touch
// live infrastructure.
package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("DHRUVAL_TEST_MODE") == "" {
			_ = os.Setenv("DHRUVAL_TEST_MODE", "1")
		}
	})
}
