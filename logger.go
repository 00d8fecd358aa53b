package asio2

// Logger handles leveled logging for servers, clients and loops.
// *logrus.Logger satisfies it.
type Logger interface {
	Print(v ...any)                 // Info level
	Printf(format string, v ...any) // Info level formatted
	Infof(format string, v ...any)  // Info level with formatting
	Warnf(format string, v ...any)  // Warning level
	Errorf(format string, v ...any) // Error level
}

// NoopLogger provides a default no-op logger.
type NoopLogger struct{}

func (l *NoopLogger) Print(_ ...any)            {}
func (l *NoopLogger) Printf(_ string, _ ...any) {}
func (l *NoopLogger) Infof(_ string, _ ...any)  {}
func (l *NoopLogger) Warnf(_ string, _ ...any)  {}
func (l *NoopLogger) Errorf(_ string, _ ...any) {}

// OrNoop returns l, or a NoopLogger when l is nil.
func OrNoop(l Logger) Logger {
	if l == nil {
		return &NoopLogger{}
	}
	return l
}
