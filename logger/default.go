package logger

var defLogger = NewSlog(InfoLevel, false)

// Debug logs a message at DebugLevel using the default logger.
func Debug(msg string, keysAndValues ...any) {
	defLogger.Debug(msg, keysAndValues...)
}

// Info logs a message at InfoLevel using the default logger.
func Info(msg string, keysAndValues ...any) {
	defLogger.Info(msg, keysAndValues...)
}

// Warn logs a message at WarnLevel using the default logger.
func Warn(msg string, keysAndValues ...any) {
	defLogger.Warn(msg, keysAndValues...)
}

// Error logs a message at ErrorLevel using the default logger.
func Error(msg string, keysAndValues ...any) {
	defLogger.Error(msg, keysAndValues...)
}

// Fatal logs a message at FatalLevel using the default logger, then exits.
func Fatal(msg string, keysAndValues ...any) {
	defLogger.Fatal(msg, keysAndValues...)
}

// SetLevel sets the minimum enabled level of the default logger.
func SetLevel(level Level) {
	defLogger.SetLevel(level)
}

// GetLogger returns the default logger instance.
func GetLogger() Logger {
	return defLogger
}

// With creates a child of the default logger with the given structured context.
func With(keyValues ...any) Logger {
	return defLogger.With(keyValues...)
}
