// Package notify announces published reports.
package notify

import (
	"context"
	"log/slog"
	"strings"
)

// Channels used when none is configured.
const (
	ChannelProduction = "#risk-reports"
	ChannelDefault    = "#core-systems"
)

// Notifier delivers a message to a channel.
type Notifier interface {
	Notify(ctx context.Context, channel, message string) error
}

// DefaultChannel returns the report channel for env.
func DefaultChannel(env string) string {
	switch strings.ToLower(env) {
	case "prod", "production":
		return ChannelProduction
	default:
		return ChannelDefault
	}
}

// LogNotifier writes messages to the log instead of delivering them.
type LogNotifier struct {
	Logger *slog.Logger
}

// Notify implements Notifier.
func (n LogNotifier) Notify(_ context.Context, channel, message string) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("notification", "channel", channel, "message", message)
	return nil
}
