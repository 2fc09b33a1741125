// Package logging provides the process-wide logger used by the analyzer.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"
)

var (
	logger  = log.New(os.Stderr, "", log.LstdFlags)
	logFile *os.File
	verbose = true
	mu      sync.Mutex
)

// Setup directs log output to the given file. An empty path keeps stderr.
func Setup(logFilePath string, isVerbose bool) error {
	mu.Lock()
	defer mu.Unlock()

	verbose = isVerbose
	if logFilePath == "" {
		return nil
	}

	f, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	if logFile != nil {
		logFile.Close()
	}
	logFile = f
	logger = log.New(f, "", log.LstdFlags)
	logger.Printf("--- spectralpca log started at %s ---", time.Now().Format(time.RFC3339))
	return nil
}

// SetOutput replaces the log destination, mostly useful in tests
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	logger = log.New(w, "", 0)
}

// Close closes the log file if one was opened
func Close() {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		logger.Printf("--- spectralpca log closed at %s ---", time.Now().Format(time.RFC3339))
		logFile.Close()
		logFile = nil
		logger = log.New(os.Stderr, "", log.LstdFlags)
	}
}

// Info logs an informational message when verbose output is enabled
func Info(format string, args ...interface{}) {
	mu.Lock()
	defer mu.Unlock()
	if verbose {
		logger.Printf("INFO: "+format, args...)
	}
}

// Debug is like Info with a DEBUG prefix
func Debug(format string, args ...interface{}) {
	mu.Lock()
	defer mu.Unlock()
	if verbose {
		logger.Printf("DEBUG: "+format, args...)
	}
}

// Warning logs a warning regardless of verbosity
func Warning(format string, args ...interface{}) {
	mu.Lock()
	defer mu.Unlock()
	logger.Printf("WARNING: "+format, args...)
}

// Error logs an error regardless of verbosity
func Error(format string, args ...interface{}) {
	mu.Lock()
	defer mu.Unlock()
	logger.Printf("ERROR: "+format, args...)
}
