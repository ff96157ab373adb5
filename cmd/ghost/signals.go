package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
)

// signalStop is swapped in tests.
var signalStop = signal.Stop

// shutdownContexts splits shutdown in two stages. The first SIGINT or SIGTERM
// cancels loop, which stops scheduling new work; a second one cancels work,
// which aborts the in-flight cycle and restores the default handler, so a
// third signal kills the process. stop releases the signal handler.
func shutdownContexts(parent context.Context, log *zap.Logger) (loop, work context.Context, stop func()) {
	loop, cancelLoop := context.WithCancel(parent)
	work, cancelWork := context.WithCancel(context.WithoutCancel(parent))

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		count := 0
		for {
			select {
			case <-done:
				return
			case sig := <-sigCh:
				count++
				if count == 1 {
					log.Info("received shutdown signal, finishing current phase", zap.String("signal", sig.String()))
					cancelLoop()
					continue
				}
				log.Warn("received second signal, aborting cycle", zap.String("signal", sig.String()))
				cancelWork()
				signalStop(sigCh)
				return
			}
		}
	}()

	return loop, work, func() {
		signalStop(sigCh)
		close(done)
		cancelLoop()
		cancelWork()
	}
}
