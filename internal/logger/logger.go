// Package logger writes diagnostics to stderr. Debug and Info messages only
// appear in verbose mode; warnings and errors are always printed.
package logger

import (
	"fmt"
	"io"
	"os"
	"sync"
)

var (
	mu      sync.RWMutex
	verbose bool
	output  io.Writer = os.Stderr
)

// SetVerbose enables or disables verbose logging.
func SetVerbose(v bool) {
	mu.Lock()
	defer mu.Unlock()
	verbose = v
}

// IsVerbose reports whether verbose mode is enabled.
func IsVerbose() bool {
	mu.RLock()
	defer mu.RUnlock()
	return verbose
}

// SetOutput redirects log output and returns the previous writer.
func SetOutput(w io.Writer) io.Writer {
	mu.Lock()
	defer mu.Unlock()
	prev := output
	output = w
	return prev
}

func write(gated bool, prefix, format string, args ...any) {
	mu.RLock()
	defer mu.RUnlock()
	if gated && !verbose {
		return
	}
	fmt.Fprintf(output, prefix+format+"\n", args...)
}

// Debug prints a message in verbose mode.
func Debug(format string, args ...any) {
	write(true, "[DEBUG] ", format, args...)
}

// Info prints a message in verbose mode.
func Info(format string, args ...any) {
	write(true, "[INFO] ", format, args...)
}

// Section prints a header in verbose mode.
func Section(name string) {
	write(true, "\n=== ", "%s ===", name)
}

// Warn always prints.
func Warn(format string, args ...any) {
	write(false, "[WARN] ", format, args...)
}

// Error always prints.
func Error(format string, args ...any) {
	write(false, "[ERROR] ", format, args...)
}
