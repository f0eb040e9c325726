package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/diacheck/diacheck/engine/predict"
	"github.com/diacheck/diacheck/pkg/natsutil"
)

const doneSuffix = predict.DoneSuffix

// connectNATS dials the reload bus. A server that is down at boot does not
// fail the dial; the client keeps retrying in the background and the
// subscription is sent once it connects.
func (a *app) connectNATS() (*nats.Conn, error) {
	nc, err := nats.Connect(a.cfg.NATSURL,
		nats.Name(a.cfg.ServiceName),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.ConnectHandler(func(*nats.Conn) {
			a.logger.Info("nats connected", "url", a.cfg.NATSURL)
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				a.logger.Warn("nats disconnected", "err", err)
			}
		}),
		nats.ReconnectHandler(func(*nats.Conn) {
			a.logger.Info("nats reconnected", "url", a.cfg.NATSURL)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return nc, nil
}

// listenReload reloads the bundle on every command received on subject and
// announces the new bundle on subject+".done". It blocks until ctx ends.
func (a *app) listenReload(ctx context.Context, nc *nats.Conn, subject string) error {
	sub, err := natsutil.Handle(nc, subject, func(msgCtx context.Context, cmd predict.ReloadCommand) (predict.ReloadEvent, error) {
		a.logger.Info("reload requested", "subject", subject, "reason", cmd.Reason)
		b, err := a.svc.Reload()
		if err != nil {
			return predict.ReloadEvent{}, err
		}
		ev := predict.EventFor(a.svc.Variant().ID, b)
		if err := natsutil.Publish(msgCtx, nc, subject+doneSuffix, ev); err != nil {
			a.logger.Warn("publishing reload event failed", "subject", subject+doneSuffix, "err", err)
		}
		return ev, nil
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	a.logger.Info("listening for reload commands", "subject", subject)

	<-ctx.Done()
	if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		return fmt.Errorf("unsubscribe %s: %w", subject, err)
	}
	return nil
}
