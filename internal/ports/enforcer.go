package ports

import (
	"context"

	"github.com/xoelrdgz/webtrap/internal/domain"
)

// Enforcer applies a malicious decision: blocklist insertion, optional
// community reporting and alert dispatch, in that order.
//
// Implementations: the in-process enforcement service, and an HTTP client
// posting to a remote enforcement webhook. The tarpit's hop-overflow path
// calls the in-process service directly; the blocklist write still happens
// inside the enforcement service either way.
type Enforcer interface {
	Enforce(ctx context.Context, dec *domain.Decision, meta *domain.RequestMetadata) error
}

// AlertSender dispatches a block event over one alert channel.
//
// Thread Safety: Send must be safe for concurrent calls.
type AlertSender interface {
	Send(ctx context.Context, ev *domain.BlockEvent) error

	// Name identifies the channel ("webhook", "slack", "smtp") for logging.
	Name() string
}
