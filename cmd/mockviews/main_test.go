package main

import (
	"context"
	"flag"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/huntermatuse/crowsong/internal/mockviews"
)

func Test_parseFlags(t *testing.T) {
	t.Parallel()

	fs := flag.NewFlagSet("mockviews", flag.ContinueOnError)
	o, err := parseFlags(fs, []string{"-addr", ":9000", "-token", "abc", "-self-signed", "-tick", "2s"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if o.addr != ":9000" || o.token != "abc" || !o.selfSigned || o.tick != 2*time.Second {
		t.Fatalf("unexpected options: %+v", o)
	}

	fs = flag.NewFlagSet("mockviews", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	if _, err := parseFlags(fs, []string{"-nope"}); err == nil {
		t.Fatalf("want error for unknown flag")
	}
}

func Test_authFor(t *testing.T) {
	t.Parallel()

	if a := authFor(options{token: "abc", maxBad: 3}); a.Token != "abc" || a.Limiter == nil {
		t.Fatalf("unexpected auth: %+v", a)
	}
	if a := authFor(options{}); a.Limiter != nil || len(a.SignKey) != 0 {
		t.Fatalf("limiter must be off with maxBad=0: %+v", a)
	}
}

func Test_serverCreds(t *testing.T) {
	t.Parallel()

	log := zaptest.NewLogger(t)
	creds, err := serverCreds(options{addr: "127.0.0.1:0"}, log)
	if err != nil || creds != nil {
		t.Fatalf("plain: creds=%v err=%v", creds, err)
	}

	caPath := filepath.Join(t.TempDir(), "ca.pem")
	creds, err = serverCreds(options{addr: "127.0.0.1:0", selfSigned: true, writeCA: caPath}, log)
	if err != nil || creds == nil {
		t.Fatalf("self-signed: creds=%v err=%v", creds, err)
	}
	if b, err := os.ReadFile(caPath); err != nil || len(b) == 0 {
		t.Fatalf("CA not written: %v", err)
	}
	if got := creds.Info().SecurityProtocol; got != "tls" {
		t.Fatalf("protocol=%q", got)
	}

	if _, err := serverCreds(options{certFile: filepath.Join(t.TempDir(), "missing.pem")}, log); err == nil {
		t.Fatalf("want error for missing cert files")
	}
}

func Test_ticker(t *testing.T) {
	t.Parallel()

	s := mockviews.New(mockviews.DemoCatalog(), zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		ticker(ctx, s, 5*time.Millisecond, zaptest.NewLogger(t))
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("ticker did not stop")
	}
}
