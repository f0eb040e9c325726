package main

import (
	"context"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/diacheck/diacheck/engine/features"
	"github.com/diacheck/diacheck/engine/predict"
	"github.com/diacheck/diacheck/pkg/natsutil"
)

func startTestNATS(t *testing.T) *nats.Conn {
	t.Helper()
	srv, err := natsserver.NewServer(&natsserver.Options{Port: -1})
	if err != nil {
		t.Fatal(err)
	}
	srv.Start()
	if !srv.ReadyForConnections(3 * time.Second) {
		t.Fatal("nats not ready")
	}
	nc, err := nats.Connect(srv.ClientURL())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		nc.Close()
		srv.Shutdown()
	})
	return nc
}

func TestReloadOverNATS(t *testing.T) {
	nc := startTestNATS(t)
	dir := t.TempDir()
	cfg := testConfig(writeBundle(t, dir, features.VariantDiabetesBinary))
	a := newTestApp(t, cfg)

	done := make(chan predict.ReloadEvent, 1)
	sub, err := natsutil.Subscribe(nc, cfg.ReloadSubject+doneSuffix, nil, func(_ context.Context, ev predict.ReloadEvent) {
		done <- ev
	})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- a.listenReload(ctx, nc, cfg.ReloadSubject) }()

	// The listener subscribes asynchronously; retry until it answers.
	var reply natsutil.Reply[predict.ReloadEvent]
	deadline := time.Now().Add(3 * time.Second)
	for {
		reqCtx, reqCancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		reply, err = natsutil.Request[predict.ReloadCommand, natsutil.Reply[predict.ReloadEvent]](
			reqCtx, nc, cfg.ReloadSubject, predict.ReloadCommand{Reason: "test"})
		reqCancel()
		if err == nil || time.Now().After(deadline) {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("reload request: %v", err)
	}
	if !reply.OK || reply.Data.Variant != features.VariantDiabetesBinary || reply.Data.Features != 13 {
		t.Fatalf("unexpected reply %+v", reply)
	}

	select {
	case ev := <-done:
		if ev.Variant != features.VariantDiabetesBinary || ev.LoadedAt.IsZero() {
			t.Fatalf("unexpected done event %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for done event")
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("listener: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop")
	}
}

func TestConnectNATSWhileServerDown(t *testing.T) {
	cfg := testConfig(writeBundle(t, t.TempDir(), features.VariantDiabetes012))
	cfg.NATSURL = "nats://127.0.0.1:1"
	a := newTestApp(t, cfg)

	nc, err := a.connectNATS()
	if err != nil {
		t.Fatalf("connect should keep retrying instead of failing: %v", err)
	}
	defer nc.Close()
	if nc.IsConnected() {
		t.Fatal("expected no live connection")
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- a.listenReload(ctx, nc, cfg.ReloadSubject) }()
	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("listener: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop")
	}
	if !a.svc.Ready() {
		t.Fatal("scoring must stay available without the bus")
	}
}
