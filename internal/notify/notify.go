// Package notify fans significant findings out to delivery channels.
package notify

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"ghost/internal/config"
	"ghost/internal/logging"
	"ghost/internal/memory"
)

// Target identifies the mission a batch of findings belongs to.
type Target struct {
	ID   string
	Name string
}

// Channel delivers findings somewhere.
type Channel interface {
	Name() string
	Send(ctx context.Context, target Target, findings []memory.Finding) error
}

// Policy decides what a channel failure does to the remaining channels.
type Policy int

const (
	// FailFast stops at the first failing channel.
	FailFast Policy = iota
	// Isolate attempts every channel and joins the failures.
	Isolate
)

func (p Policy) String() string {
	if p == Isolate {
		return "isolate"
	}
	return "fail_fast"
}

// Delivery reports which channels received the findings.
type Delivery struct {
	Delivered []string
	Failed    []string
}

// Notifier sends the same findings to every channel in order.
type Notifier struct {
	channels []Channel
	policy   Policy
	log      *zap.Logger
}

// New returns a notifier over channels.
func New(policy Policy, log *zap.Logger, channels ...Channel) *Notifier {
	if log == nil {
		log = logging.Get(logging.CategoryNotify)
	}
	return &Notifier{channels: channels, policy: policy, log: log}
}

// FromConfig builds the configured channels. Console output goes to w.
// A disabled notifier has no channels.
func FromConfig(cfg config.NotificationsConfig, w io.Writer, log *zap.Logger) *Notifier {
	if log == nil {
		log = logging.Get(logging.CategoryNotify)
	}
	policy := FailFast
	if cfg.IsolateFailures {
		policy = Isolate
	}
	var channels []Channel
	if cfg.Enabled {
		if cfg.Channels.Console.Enabled && w != nil {
			channels = append(channels, NewConsole(w))
		}
		if cfg.Channels.Log.Enabled {
			channels = append(channels, NewLog(log))
		}
	}
	return New(policy, log, channels...)
}

// Channels returns the channel names in delivery order.
func (n *Notifier) Channels() []string {
	names := make([]string, 0, len(n.channels))
	for _, c := range n.channels {
		names = append(names, c.Name())
	}
	return names
}

// Notify delivers findings. An empty batch is a no-op.
func (n *Notifier) Notify(ctx context.Context, target Target, findings []memory.Finding) (Delivery, error) {
	var d Delivery
	if len(findings) == 0 {
		return d, nil
	}

	var errs []error
	for _, c := range n.channels {
		if err := ctx.Err(); err != nil {
			return d, err
		}
		if err := c.Send(ctx, target, findings); err != nil {
			err = fmt.Errorf("channel %s: %w", c.Name(), err)
			n.log.Warn("channel failed", zap.String("channel", c.Name()), zap.String("mission", target.ID), zap.Error(err))
			d.Failed = append(d.Failed, c.Name())
			if n.policy == FailFast {
				return d, err
			}
			errs = append(errs, err)
			continue
		}
		d.Delivered = append(d.Delivered, c.Name())
	}
	n.log.Debug("findings delivered",
		zap.String("mission", target.ID),
		zap.Int("findings", len(findings)),
		zap.Strings("channels", d.Delivered))
	return d, errors.Join(errs...)
}
