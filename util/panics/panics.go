package panics

import (
	"fmt"
	"os"
	"runtime/debug"
	"time"

	"github.com/blockpipe/txpipe/infrastructure/logger"
	"github.com/pkg/errors"
)

const exitHandlerTimeout = 5 * time.Second

// HandlePanic recovers panics and then initiates a clean shutdown.
func HandlePanic(log *logger.Logger, goroutineStackTrace []byte) {
	err := recover()
	if err == nil {
		return
	}

	reason := fmt.Sprintf("Fatal error: %+v", err)
	exit(log, reason, debug.Stack(), goroutineStackTrace)
}

// GoroutineWrapperFunc returns a goroutine wrapper function that handles panics and writes them to the log.
func GoroutineWrapperFunc(log *logger.Logger) func(func()) {
	return func(f func()) {
		stackTrace := debug.Stack()
		go func() {
			defer HandlePanic(log, stackTrace)
			f()
		}()
	}
}

// RecoverableGoroutineWrapperFunc returns a goroutine wrapper for calls into
// external collaborators. Unlike GoroutineWrapperFunc a panic does not shut
// the node down: it is logged and delivered on the returned channel as an
// error. The channel has a buffer of one, so the goroutine exits even if
// nobody reads the result.
func RecoverableGoroutineWrapperFunc(log *logger.Logger) func(func() error) <-chan error {
	return func(f func() error) <-chan error {
		result := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					log.Errorf("Recovered from panic: %+v\n%s", r, debug.Stack())
					result <- errors.Errorf("recovered from panic: %+v", r)
				}
			}()
			result <- f()
		}()
		return result
	}
}

// Exit prints the given reason to log and initiates a clean shutdown.
func Exit(log *logger.Logger, reason string) {
	exit(log, reason, nil, nil)
}

// exit prints the given reason, prints either of the given stack traces (if not nil),
// waits for them to finish writing, and exits.
func exit(log *logger.Logger, reason string, currentThreadStackTrace []byte, goroutineStackTrace []byte) {
	exitHandlerDone := make(chan struct{})
	go func() {
		log.Criticalf("Exiting: %s", reason)
		if goroutineStackTrace != nil {
			log.Criticalf("Goroutine stack trace: %s", goroutineStackTrace)
		}
		if currentThreadStackTrace != nil {
			log.Criticalf("Stack trace: %s", currentThreadStackTrace)
		}
		if log.Backend().IsRunning() {
			log.Backend().Close()
		}
		close(exitHandlerDone)
	}()

	select {
	case <-time.After(exitHandlerTimeout):
		fmt.Fprintln(os.Stderr, "Couldn't exit gracefully.")
	case <-exitHandlerDone:
	}
	fmt.Print("Exiting...")
	os.Exit(1)
}
