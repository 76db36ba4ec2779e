// Package notify sends push notifications when registered markers appear or
// leave the camera view. Delivery goes through shoutrrr, so any service it
// supports (Discord, Slack, Telegram, ntfy, generic webhooks...) can be used.
package notify

import (
	"context"
	"io"
	"log"
	"slices"
	"strings"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	router "github.com/nicholas-fedor/shoutrrr/pkg/router"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/markertrack/markertrack/internal/errors"
	"github.com/markertrack/markertrack/internal/logger"
)

const redacted = "[REDACTED]"

// GetLogger returns the notify package logger
func GetLogger() logger.Logger {
	return logger.Global().Module("notify")
}

// Sender delivers one notification
type Sender interface {
	Send(ctx context.Context, title, message string) error
}

// ShoutrrrSender sends to every configured service URL
type ShoutrrrSender struct {
	urls   []string
	router *router.ServiceRouter
}

// NewShoutrrrSender validates urls and builds a single router for all of
// them. A positive timeout bounds each send.
func NewShoutrrrSender(urls []string, timeout time.Duration) (*ShoutrrrSender, error) {
	if len(urls) == 0 {
		return nil, errors.Newf("at least one notification URL is required").
			Component("notify").
			Category(errors.CategoryConfiguration).
			Build()
	}

	r, err := shoutrrr.CreateSender(urls...)
	if err != nil {
		return nil, errors.New(redactError(err, urls)).
			Component("notify").
			Category(errors.CategoryConfiguration).
			Context("services", len(urls)).
			Build()
	}
	if timeout > 0 {
		r.Timeout = timeout
	}
	r.SetLogger(log.New(io.Discard, "", 0))

	return &ShoutrrrSender{urls: slices.Clone(urls), router: r}, nil
}

// Send implements Sender. The router applies its own timeout, ctx is only
// checked before sending.
func (s *ShoutrrrSender) Send(ctx context.Context, title, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	params := stypes.Params{}
	if title != "" {
		params.SetTitle(title)
	}

	for _, err := range s.router.Send(message, &params) {
		if err != nil {
			return errors.New(redactError(err, s.urls)).
				Component("notify").
				Category(errors.CategoryNotification).
				Build()
		}
	}
	return nil
}

// redactError keeps service tokens embedded in URLs out of logs and reports
func redactError(err error, urls []string) error {
	msg := err.Error()
	for _, u := range urls {
		scheme, _, ok := strings.Cut(u, "://")
		if !ok {
			scheme = "url"
		}
		msg = strings.ReplaceAll(msg, u, scheme+"://"+redacted)
	}
	return errors.NewStd(logger.RedactSensitiveData(msg))
}
