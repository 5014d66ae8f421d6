// File: logging.go

package charon

import "github.com/zeromicro/go-zero/core/logx"

// Logger is the narrow logging contract the store uses to report at-rest
// integrity failures and prune-cycle outcomes. Kept separate from logx so
// a host that doesn't run go-zero can still supply its own sink.
type Logger interface {
	Infof(format string, args ...any)
	Errorf(format string, args ...any)
}

// logxLogger adapts go-zero's core/logx package to Logger. It is the
// default used when a constructor receives a nil Logger, so connection and
// operational failures are logged through logx without any extra wiring.
type logxLogger struct{}

func (logxLogger) Infof(format string, args ...any)  { logx.Infof(format, args...) }
func (logxLogger) Errorf(format string, args ...any) { logx.Errorf(format, args...) }

// defaultLogger is used by any store constructor that receives a nil Logger.
var defaultLogger Logger = logxLogger{}

// DefaultLogger returns the package's default Logger (logx-backed), for
// callers outside this package that need the same fallback this package
// uses internally when no Logger is supplied.
func DefaultLogger() Logger { return defaultLogger }
