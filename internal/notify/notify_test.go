package notify

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"ghost/internal/config"
	"ghost/internal/memory"
)

type recordingChannel struct {
	name  string
	err   error
	calls [][]memory.Finding
}

func (r *recordingChannel) Name() string { return r.name }

func (r *recordingChannel) Send(_ context.Context, _ Target, f []memory.Finding) error {
	r.calls = append(r.calls, f)
	return r.err
}

var findings = []memory.Finding{
	{Key: "k1", Priority: memory.PriorityCritical, Title: "Pilot line", Summary: "Ships 2027", SourceURL: "https://a"},
	{Key: "k2", Priority: memory.PriorityNotable, Title: "Cost drop", Summary: "Cheaper"},
}

func TestNotify_EmptyIsNoop(t *testing.T) {
	ch := &recordingChannel{name: "a"}
	d, err := New(FailFast, zap.NewNop(), ch).Notify(context.Background(), Target{ID: "m"}, nil)
	require.NoError(t, err)
	assert.Empty(t, d.Delivered)
	assert.Empty(t, ch.calls)
}

func TestNotify_SameSetToEveryChannel(t *testing.T) {
	a, b := &recordingChannel{name: "a"}, &recordingChannel{name: "b"}
	d, err := New(FailFast, zap.NewNop(), a, b).Notify(context.Background(), Target{ID: "m"}, findings)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, d.Delivered)
	assert.Equal(t, [][]memory.Finding{findings}, a.calls)
	assert.Equal(t, [][]memory.Finding{findings}, b.calls)
}

func TestNotify_FailFastStopsAtFirstFailure(t *testing.T) {
	boom := errors.New("boom")
	a, b := &recordingChannel{name: "a", err: boom}, &recordingChannel{name: "b"}
	d, err := New(FailFast, zap.NewNop(), a, b).Notify(context.Background(), Target{ID: "m"}, findings)
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
	assert.Equal(t, []string{"a"}, d.Failed)
	assert.Empty(t, b.calls)
}

func TestNotify_IsolateAttemptsAll(t *testing.T) {
	boomA, boomC := errors.New("a down"), errors.New("c down")
	a := &recordingChannel{name: "a", err: boomA}
	b := &recordingChannel{name: "b"}
	c := &recordingChannel{name: "c", err: boomC}

	core, logs := observer.New(zap.WarnLevel)
	d, err := New(Isolate, zap.New(core), a, b, c).Notify(context.Background(), Target{ID: "m"}, findings)
	require.Error(t, err)
	assert.True(t, errors.Is(err, boomA))
	assert.True(t, errors.Is(err, boomC))
	assert.Equal(t, []string{"b"}, d.Delivered)
	assert.Equal(t, []string{"a", "c"}, d.Failed)
	assert.Equal(t, 2, logs.FilterMessage("channel failed").Len())
}

func TestConsoleChannel(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewConsole(&buf).Send(context.Background(), Target{ID: "m", Name: "Batteries"}, findings))
	out := buf.String()
	assert.Contains(t, out, "[Batteries]")
	assert.Contains(t, out, "🔴")
	assert.Contains(t, out, "Pilot line")
	assert.Contains(t, out, "Source: https://a")
	assert.Contains(t, out, "🟡")
}

func TestLogChannel(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	require.NoError(t, NewLog(zap.New(core)).Send(context.Background(), Target{ID: "m"}, findings))
	entries := logs.FilterMessage("finding").All()
	require.Len(t, entries, 2)
	assert.Equal(t, "Pilot line", entries[0].ContextMap()["title"])
}

func TestFromConfig(t *testing.T) {
	cfg := config.DefaultConfig().Notifications
	n := FromConfig(cfg, &bytes.Buffer{}, zap.NewNop())
	assert.Equal(t, []string{"console", "log"}, n.Channels())
	assert.Equal(t, FailFast, n.policy)

	cfg.IsolateFailures = true
	cfg.Channels.Console.Enabled = false
	n = FromConfig(cfg, &bytes.Buffer{}, zap.NewNop())
	assert.Equal(t, []string{"log"}, n.Channels())
	assert.Equal(t, Isolate, n.policy)

	cfg.Enabled = false
	assert.Empty(t, FromConfig(cfg, nil, zap.NewNop()).Channels())
}
