package ort

import (
	"sync/atomic"

	"go.uber.org/zap"
)

var packageLogger atomic.Pointer[zap.Logger]

func init() {
	packageLogger.Store(zap.NewNop())
}

// SetLogger routes the package's own diagnostics (bootstrap progress and
// warnings) to l. A nil logger silences them.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	packageLogger.Store(l.Named("ort"))
}

func logger() *zap.Logger {
	return packageLogger.Load()
}
