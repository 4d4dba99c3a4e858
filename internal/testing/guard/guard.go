// Package guard puts the process into test mode when imported for side
// effects: runtime hooks are skipped and no broker is configured.
package guard

import (
	"os"
	"sync"
)

// Env is the variable app.InTestMode reads.
const Env = "FARMLEDGER_TEST_MODE"

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv(Env) == "" {
			_ = os.Setenv(Env, "1")
		}
		_ = os.Unsetenv("KAFKA_BROKERS")
	})
}
