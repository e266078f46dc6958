package api

import (
	"time"

	"github.com/parliament/rsm-core/pkg/logger"
)

// RSMConfig bundles the driver's tunables.
type RSMConfig struct {
	Log RSMLoggerCfg

	// InstanceFetchTimeout bounds Coordinator.Instance per apply
	// iteration. On expiry the apply loop treats the slot as
	// undecided-for-now and runs catch-up instead of erroring. Spec
	// default: 100ms.
	InstanceFetchTimeout time.Duration

	// ForgetEvery triggers Coordinator.Forget(done) after this many
	// successful applies. Spec default: 101 (i.e. on the 101st apply).
	// The counter is in-memory only and resets on restart.
	ForgetEvery int

	// PersistenceTimeout bounds each Persistence call issued by the
	// apply loop.
	PersistenceTimeout time.Duration
}

type RSMLoggerCfg struct {
	Env logger.Environment
	// AddSource includes file:line in each log record. Defaults off;
	// useful in Dev.
	AddSource bool
}

// DefaultConfig returns production-shaped defaults.
func DefaultConfig() *RSMConfig {
	return &RSMConfig{
		Log:                  RSMLoggerCfg{Env: logger.Prod},
		InstanceFetchTimeout: 100 * time.Millisecond,
		ForgetEvery:          101,
		PersistenceTimeout:   2 * time.Second,
	}
}

// TestConfig returns defaults tuned for fast, deterministic tests.
func TestConfig() *RSMConfig {
	return &RSMConfig{
		Log:                  RSMLoggerCfg{Env: logger.Dev, AddSource: true},
		InstanceFetchTimeout: 50 * time.Millisecond,
		ForgetEvery:          101,
		PersistenceTimeout:   time.Second,
	}
}
