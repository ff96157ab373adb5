package main

import (
	"context"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func waitDone(t *testing.T, ctx context.Context, what string) {
	t.Helper()
	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("%s was not cancelled", what)
	}
}

func TestShutdownContexts_TwoStages(t *testing.T) {
	released := make(chan struct{}, 2)
	orig := signalStop
	signalStop = func(c chan<- os.Signal) {
		orig(c)
		released <- struct{}{}
	}
	t.Cleanup(func() { signalStop = orig })

	loop, work, stop := shutdownContexts(context.Background(), zap.NewNop())
	defer stop()

	self, err := os.FindProcess(os.Getpid())
	require.NoError(t, err)

	require.NoError(t, self.Signal(syscall.SIGINT))
	waitDone(t, loop, "loop context")
	assert.NoError(t, work.Err())
	assert.Empty(t, released)

	require.NoError(t, self.Signal(syscall.SIGINT))
	waitDone(t, work, "work context")

	// The handler is released right after the second signal, not at stop.
	select {
	case <-released:
	case <-time.After(5 * time.Second):
		t.Fatal("signal handler still registered after the second signal")
	}
}
