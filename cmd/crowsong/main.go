// Command crowsong is a CLI client for the Canary Views API.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc/status"

	"github.com/huntermatuse/crowsong/internal/config"
	"github.com/huntermatuse/crowsong/internal/session"
	"github.com/huntermatuse/crowsong/internal/trust"
	"github.com/huntermatuse/crowsong/internal/views"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// releaseTimeout bounds the release call made after a command finishes.
const releaseTimeout = 5 * time.Second

type flagValues struct {
	config   string
	dotenv   string
	endpoint string
	apiKey   string
	app      string
	user     string
	cacert   string
	timeout  time.Duration
	debug    bool
}

// app carries state shared by all subcommands of one invocation.
type app struct {
	out    io.Writer
	flags  flagValues
	cfg    config.Config
	log    *zap.Logger
	getenv func(string) string
	extra  []session.Option
}

func newApp(out io.Writer) *app {
	return &app{out: out, log: zap.NewNop()}
}

// setup resolves configuration and the logger. Flags set on the command line
// override every other source.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(config.Sources{File: a.flags.config, DotEnv: a.flags.dotenv, Getenv: a.getenv})
	if err != nil {
		return err
	}
	fs := cmd.Flags()
	override := func(name string, dst *string, v string) {
		if fs.Changed(name) {
			*dst = v
		}
	}
	override("endpoint", &cfg.Endpoint, a.flags.endpoint)
	override("api-key", &cfg.APIKey, a.flags.apiKey)
	override("app", &cfg.App, a.flags.app)
	override("user", &cfg.UserID, a.flags.user)
	override("cacert", &cfg.CACert, a.flags.cacert)
	if fs.Changed("timeout") {
		cfg.Timeout = a.flags.timeout
	}
	if fs.Changed("debug") {
		cfg.Debug = a.flags.debug
	}
	a.cfg = cfg

	if cfg.Debug {
		a.log, err = zap.NewDevelopment()
	} else {
		a.log, err = zap.NewProduction()
	}
	return err
}

// connect validates the configuration and establishes a session.
func (a *app) connect(ctx context.Context) (*views.Client, error) {
	if err := a.cfg.Validate(); err != nil {
		return nil, err
	}
	opts := []session.Option{session.WithLogger(a.log)}
	if a.cfg.CACert != "" {
		roots, err := trust.LoadRoots(a.cfg.CACert)
		if err != nil {
			return nil, err
		}
		opts = append(opts, session.WithPolicy(roots))
	}
	opts = append(opts, a.extra...)
	return views.Connect(ctx, a.cfg.Endpoint, a.cfg.APIKey, a.cfg.App, a.cfg.UserID, opts...)
}

// withClient runs fn on a fresh session and releases it afterwards.
func (a *app) withClient(cmd *cobra.Command, fn func(ctx context.Context, c *views.Client) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), a.cfg.Timeout)
	defer cancel()
	c, err := a.connect(ctx)
	if err != nil {
		return err
	}
	runErr := fn(ctx, c)
	// The command deadline may already have passed; release regardless.
	rctx, rcancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer rcancel()
	if err := c.Close(rctx); err != nil && runErr == nil {
		return err
	}
	return runErr
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "crowsong",
		Short:         "Canary Views API client",
		Version:       fmt.Sprintf("%s (%s)", version, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			_ = a.log.Sync()
		},
	}
	root.SetOut(a.out)

	pf := root.PersistentFlags()
	pf.StringVar(&a.flags.config, "config", "", "TOML config file")
	pf.StringVar(&a.flags.dotenv, "dotenv", ".env", "dotenv file, ignored when missing")
	pf.StringVar(&a.flags.endpoint, "endpoint", "", "service URL, http:// or https://")
	pf.StringVar(&a.flags.apiKey, "api-key", "", "api token")
	pf.StringVar(&a.flags.app, "app", config.DefaultApp, "application name sent at connect")
	pf.StringVar(&a.flags.user, "user", config.DefaultUserID, "user id sent at connect")
	pf.StringVar(&a.flags.cacert, "cacert", "", "CA bundle (PEM); without it any server certificate is accepted")
	pf.DurationVar(&a.flags.timeout, "timeout", config.DefaultTimeout, "deadline for the whole command")
	pf.BoolVar(&a.flags.debug, "debug", false, "development logging")

	root.AddCommand(
		smokeCmd(a), versionCmd(a), viewsCmd(a), datasetsCmd(a), datasetInfoCmd(a), tagsCmd(a),
		tagInfoCmd(a), contextCmd(a), currentCmd(a), rawCmd(a), aggregatesCmd(a), aggCmd(a), statsCmd(a),
		overviewCmd(a), keepaliveCmd(a), liveCmd(a), tsCmd(a),
	)
	return root
}

// main dispatches subcommands; remote errors exit 1 with their gRPC code.
func main() {
	a := newApp(os.Stdout)
	if err := newRootCmd(a).Execute(); err != nil {
		fail(err)
	}
}

func fail(err error) {
	if s, ok := status.FromError(err); ok {
		fmt.Fprintf(os.Stderr, "rpc error: code=%s msg=%s\n", s.Code(), s.Message())
		os.Exit(1)
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
