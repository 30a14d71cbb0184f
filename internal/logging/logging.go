// Package logging provides the single zap logger used across sealbox.
package logging

import (
	"sync"

	"go.uber.org/zap"
)

var (
	once   sync.Once
	global *zap.SugaredLogger
)

// Logger returns the process-wide sugared logger, building it lazily on
// first use so tests don't need to configure zap explicitly.
func Logger() *zap.SugaredLogger {
	once.Do(func() {
		l, err := zap.NewProduction()
		if err != nil {
			l = zap.NewNop()
		}
		global = l.Sugar()
	})
	return global
}

// SetForTesting swaps the global logger, returning a restore function.
func SetForTesting(l *zap.SugaredLogger) func() {
	prev := global
	global = l
	once.Do(func() {}) // ensure once is consumed so Logger() won't overwrite us
	return func() { global = prev }
}
