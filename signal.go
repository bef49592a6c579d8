package bpfcap

import (
	"os"
	"os/signal"
	"sync/atomic"
)

// NotifyInterrupt wires SIGINT into running: each delivery clears the flag
// and nothing else. The subscription persists across deliveries, so a
// second interrupt behaves exactly like the first. The returned function
// unsubscribes.
func NotifyInterrupt(running *atomic.Bool) (stop func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt)
	go watchInterrupts(ch, running)
	return func() {
		signal.Stop(ch)
		close(ch)
	}
}

// watchInterrupts drains ch until it closes. Kept separate from the
// signal.Notify plumbing so the re-delivery behavior is testable.
func watchInterrupts(ch <-chan os.Signal, running *atomic.Bool) {
	for range ch {
		running.Store(false)
	}
}
