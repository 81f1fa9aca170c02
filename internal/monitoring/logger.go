package monitoring

import "log"

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Auditf logs security-relevant events (rejected devices, unknown senders).
// It shares the Logf sink but carries a stable prefix so audit lines can be
// filtered out of the main diagnostic stream.
func Auditf(format string, v ...interface{}) {
	Logf("[audit] "+format, v...)
}
