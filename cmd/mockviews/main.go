// Command mockviews serves a demo Canary Views API for local testing.
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/huntermatuse/crowsong/internal/certs"
	"github.com/huntermatuse/crowsong/internal/limiter"
	"github.com/huntermatuse/crowsong/internal/mockviews"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

type options struct {
	addr       string
	token      string
	jwtKey     string
	certFile   string
	keyFile    string
	selfSigned bool
	writeCA    string
	tick       time.Duration
	maxBad     int
	dev        bool
}

func parseFlags(fs *flag.FlagSet, args []string) (options, error) {
	var o options
	fs.StringVar(&o.addr, "addr", "127.0.0.1:55321", "listen address")
	fs.StringVar(&o.token, "token", "", "accepted api token; empty accepts any")
	fs.StringVar(&o.jwtKey, "jwt-key", "", "HS256 key; when set api tokens must be JWTs signed with it")
	fs.StringVar(&o.certFile, "tls-cert", "", "TLS certificate (PEM)")
	fs.StringVar(&o.keyFile, "tls-key", "", "TLS private key (PEM)")
	fs.BoolVar(&o.selfSigned, "self-signed", false, "serve TLS with a generated certificate")
	fs.StringVar(&o.writeCA, "write-ca", "", "with -self-signed, write the generated CA here")
	fs.DurationVar(&o.tick, "tick", 0, "publish a new Plant.Count sample at this interval")
	fs.IntVar(&o.maxBad, "max-bad-tokens", 5, "lock a peer out for a minute after this many bad tokens; 0 disables")
	fs.BoolVar(&o.dev, "dev", false, "enable server reflection")
	return o, fs.Parse(args)
}

// serverCreds picks the transport: files, a generated certificate or none.
func serverCreds(o options, log *zap.Logger) (credentials.TransportCredentials, error) {
	switch {
	case o.certFile != "" || o.keyFile != "":
		return credentials.NewServerTLSFromFile(o.certFile, o.keyFile)
	case o.selfSigned:
		host, _, err := net.SplitHostPort(o.addr)
		if err != nil {
			return nil, err
		}
		names := []string{"localhost"}
		if host != "" && host != "localhost" {
			names = append(names, host)
		}
		cert, ca, err := certs.SelfSigned(names...)
		if err != nil {
			return nil, err
		}
		if o.writeCA != "" {
			if err := ca.WriteCA(o.writeCA); err != nil {
				return nil, err
			}
			log.Info("wrote CA", zap.String("path", o.writeCA))
		}
		return credentials.NewTLS(&tls.Config{Certificates: []tls.Certificate{cert}, NextProtos: []string{"h2"}}), nil
	default:
		return nil, nil
	}
}

func authFor(o options) mockviews.Auth {
	a := mockviews.Auth{Token: o.token, SignKey: []byte(o.jwtKey)}
	if o.maxBad > 0 {
		a.Limiter = limiter.NewMemory(time.Minute, o.maxBad, time.Minute)
	}
	return a
}

// ticker publishes an increasing counter until ctx is done.
func ticker(ctx context.Context, s *mockviews.Server, every time.Duration, log *zap.Logger) {
	t := time.NewTicker(every)
	defer t.Stop()
	var n int64 = 1000
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			p := mockviews.Point{Seconds: now.Unix(), Nanos: int32(now.Nanosecond()), Value: n, Quality: mockviews.QualityGood}
			if err := s.Publish("Localhost", "Plant.Count", p); err != nil {
				log.Warn("publish", zap.Error(err))
				return
			}
			n += 100
		}
	}
}

// main starts the mock and stops it gracefully on SIGINT or SIGTERM.
func main() {
	o, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", o.addr),
	)

	creds, err := serverCreds(o, logger)
	if err != nil {
		logger.Fatal("tls setup", zap.Error(err))
	}
	var opts []grpc.ServerOption
	if creds != nil {
		opts = append(opts, grpc.Creds(creds))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app := mockviews.New(mockviews.DemoCatalog(), logger)
	s := mockviews.NewGRPCServer(app, authFor(o), opts...)

	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	if o.dev {
		reflection.Register(s)
	}

	lis, err := net.Listen("tcp", o.addr)
	if err != nil {
		logger.Fatal("listen", zap.Error(err))
	}

	if o.tick > 0 {
		go ticker(ctx, app, o.tick, logger)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", lis.Addr().String()), zap.Bool("tls", creds != nil))
		errCh <- s.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		hs.Shutdown()
		app.Close()
		done := make(chan struct{})
		go func() {
			s.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			s.Stop()
		}
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}
