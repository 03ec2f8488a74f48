// Package signal turns process signals into context cancellation.
package signal

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// NotifyContext returns a context that is cancelled on the first SIGINT or
// SIGTERM, which lets a running loop finish the message as interrupted. A
// second signal calls onForce; a nil onForce exits with status 130.
// The returned stop function releases the signal handler.
func NotifyContext(parent context.Context, onForce func()) (context.Context, context.CancelFunc) {
	if onForce == nil {
		onForce = func() { os.Exit(130) }
	}
	ctx, cancel := context.WithCancel(parent)
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		received := 0
		for {
			select {
			case <-ch:
				received++
				if received == 1 {
					cancel()
					continue
				}
				onForce()
				return
			case <-done:
				return
			}
		}
	}()

	stop := func() {
		signal.Stop(ch)
		select {
		case <-done:
		default:
			close(done)
		}
		cancel()
	}
	return ctx, stop
}
