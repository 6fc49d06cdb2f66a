//go:build linux
// +build linux

package nsmgr

import (
	"runtime"
)

// runScoped executes fn on a dedicated OS thread and waits for its result.
// The goroutine locks its thread and never unlocks it, so the Go runtime
// terminates the thread when fn returns. Whatever namespace fn moved the
// thread into is never observed by other goroutines.
func runScoped(fn func() error) error {
	errCh := make(chan error, 1)

	go func() {
		runtime.LockOSThread()

		defer func() {
			if r := recover(); r != nil {
				errCh <- &WorkerPanicError{Value: r}
			}
		}()

		errCh <- fn()
	}()

	return <-errCh
}
