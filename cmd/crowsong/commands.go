package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/huntermatuse/crowsong/internal/isotime"
	"github.com/huntermatuse/crowsong/internal/model"
	"github.com/huntermatuse/crowsong/internal/views"
)

// smokeTagLimit caps the tag listing of the smoke walk.
const smokeTagLimit int32 = 100

type smokeReport struct {
	ClientConnectionID int32    `json:"client_connection_id"`
	Version            string   `json:"version"`
	Views              []string `json:"views"`
	View               string   `json:"view,omitempty"`
	DataSets           []string `json:"datasets,omitempty"`
	DataSet            string   `json:"dataset,omitempty"`
	Tags               []string `json:"tags,omitempty"`
}

// smoke walks the service top down: test, version, views, the datasets of
// the first view, the tags of its first dataset, then disconnects.
func smokeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "smoke",
		Short: "Exercise the service end to end",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withClient(cmd, func(ctx context.Context, c *views.Client) error {
				rep := smokeReport{ClientConnectionID: c.ID()}
				if err := c.Test(ctx); err != nil {
					return fmt.Errorf("test: %w", err)
				}
				var err error
				if rep.Version, err = c.Version(ctx); err != nil {
					return fmt.Errorf("version: %w", err)
				}
				if rep.Views, err = c.Views(ctx); err != nil {
					return fmt.Errorf("views: %w", err)
				}
				if len(rep.Views) > 0 {
					rep.View = rep.Views[0]
					if rep.DataSets, err = c.DataSets(ctx, rep.View, false); err != nil {
						return fmt.Errorf("datasets: %w", err)
					}
				}
				if len(rep.DataSets) > 0 {
					rep.DataSet = rep.DataSets[0]
					if rep.Tags, err = c.Tags(ctx, rep.View, rep.DataSet, 0, smokeTagLimit); err != nil {
						return fmt.Errorf("tags: %w", err)
					}
				}
				return a.printJSON(rep)
			})
		},
	}
}

func versionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the web service version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withClient(cmd, func(ctx context.Context, c *views.Client) error {
				v, err := c.Version(ctx)
				if err != nil {
					return err
				}
				return a.printJSON(map[string]string{"client": version, "service": v})
			})
		},
	}
}

func viewsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "views",
		Short: "List views",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withClient(cmd, func(ctx context.Context, c *views.Client) error {
				names, err := c.Views(ctx)
				if err != nil {
					return err
				}
				return a.printJSON(names)
			})
		},
	}
}

func datasetsCmd(a *app) *cobra.Command {
	var hidden bool
	cmd := &cobra.Command{
		Use:   "datasets VIEW",
		Short: "List datasets of a view",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withClient(cmd, func(ctx context.Context, c *views.Client) error {
				names, err := c.DataSets(ctx, args[0], hidden)
				if err != nil {
					return err
				}
				return a.printJSON(names)
			})
		},
	}
	cmd.Flags().BoolVar(&hidden, "hidden", false, "include hidden datasets")
	return cmd
}

func tagsCmd(a *app) *cobra.Command {
	var offset, limit int32
	cmd := &cobra.Command{
		Use:   "tags VIEW DATASET",
		Short: "List tags of a dataset",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withClient(cmd, func(ctx context.Context, c *views.Client) error {
				names, err := c.Tags(ctx, args[0], args[1], offset, limit)
				if err != nil {
					return err
				}
				return a.printJSON(names)
			})
		},
	}
	cmd.Flags().Int32Var(&offset, "offset", 0, "first tag to return")
	cmd.Flags().Int32Var(&limit, "max", 0, "max tags, 0 lets the service decide")
	return cmd
}

func currentCmd(a *app) *cobra.Command {
	var quality string
	cmd := &cobra.Command{
		Use:   "current VIEW TAG...",
		Short: "Print the current value of tags",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := model.Quality(quality)
			switch q {
			case model.QualityAny, model.QualityNonBad, model.QualityGood:
			default:
				return fmt.Errorf("unknown quality %q (any, non_bad, good)", quality)
			}
			return a.withClient(cmd, func(ctx context.Context, c *views.Client) error {
				vals, err := c.CurrentValues(ctx, args[0], args[1:], q)
				if err != nil {
					return err
				}
				return a.printJSON(vals)
			})
		},
	}
	cmd.Flags().StringVar(&quality, "quality", string(model.QualityAny), "quality filter: any, non_bad, good")
	return cmd
}

func rawCmd(a *app) *cobra.Command {
	var q model.RawQuery
	cmd := &cobra.Command{
		Use:   "raw VIEW TAG...",
		Short: "Print raw history of tags",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			q.View, q.Tags = args[0], args[1:]
			return a.withClient(cmd, func(ctx context.Context, c *views.Client) error {
				series, err := c.RawData(ctx, q)
				if err != nil {
					return err
				}
				return a.printJSON(series)
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&q.Start, "start", "", "start time, e.g. 2024-01-15T10:30:00Z")
	f.StringVar(&q.End, "end", "", "end time, exclusive")
	f.Int32Var(&q.MaxPerTag, "max", 0, fmt.Sprintf("max points per tag, 0 uses %d", model.DefaultMaxPerTag))
	f.BoolVar(&q.ReturnBounds, "bounds", false, "include bounding points")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func aggregatesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "aggregates",
		Short: "List the aggregate functions of the service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withClient(cmd, func(ctx context.Context, c *views.Client) error {
				list, err := c.Aggregates(ctx)
				if err != nil {
					return err
				}
				return a.printJSON(list)
			})
		},
	}
}

// windowFlags registers the flags shared by processed history commands.
func windowFlags(cmd *cobra.Command, start, end, aggregate *string, interval *time.Duration) {
	f := cmd.Flags()
	f.StringVar(start, "start", "", "start time, e.g. 2024-01-15T10:30:00Z")
	f.StringVar(end, "end", "", "end time, exclusive")
	f.DurationVar(interval, "interval", 0, "processing interval, e.g. 5m")
	f.StringVar(aggregate, "aggregate", model.DefaultAggregate, "aggregate function, see the aggregates command")
	for _, name := range []string{"start", "end", "interval"} {
		_ = cmd.MarkFlagRequired(name)
	}
}

func aggCmd(a *app) *cobra.Command {
	var q model.AggregateQuery
	cmd := &cobra.Command{
		Use:   "agg VIEW TAG...",
		Short: "Print processed history of tags, one value per interval",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			q.View, q.Tags = args[0], args[1:]
			return a.withClient(cmd, func(ctx context.Context, c *views.Client) error {
				series, err := c.AggregateData(ctx, q)
				if err != nil {
					return err
				}
				return a.printJSON(series)
			})
		},
	}
	windowFlags(cmd, &q.Start, &q.End, &q.Aggregate, &q.Interval)
	return cmd
}

func statsCmd(a *app) *cobra.Command {
	var q model.StatisticsQuery
	cmd := &cobra.Command{
		Use:   "stats VIEW TAG",
		Short: "Print summary statistics of one tag",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			q.View, q.Tag = args[0], args[1]
			return a.withClient(cmd, func(ctx context.Context, c *views.Client) error {
				st, err := c.Statistics(ctx, q)
				if err != nil {
					return err
				}
				return a.printJSON(st)
			})
		},
	}
	windowFlags(cmd, &q.Start, &q.End, &q.Aggregate, &q.Interval)
	cmd.Flags().BoolVar(&q.IncludeStdDev, "stddev", true, "include the standard deviation")
	cmd.Flags().BoolVar(&q.IncludePercentiles, "percentiles", true, "include the quartiles")
	return cmd
}

func datasetInfoCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "datasetinfo VIEW DATASET",
		Short: "Print the properties of a dataset",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withClient(cmd, func(ctx context.Context, c *views.Client) error {
				props, err := c.DatasetInfo(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				return a.printJSON(props)
			})
		},
	}
}

func tagInfoCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "taginfo VIEW TAG...",
		Short: "Print the properties of tags",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withClient(cmd, func(ctx context.Context, c *views.Client) error {
				infos, err := c.TagInfo(ctx, args[0], args[1:])
				if err != nil {
					return err
				}
				return a.printJSON(infos)
			})
		},
	}
}

func contextCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "context VIEW TAG...",
		Short: "Print the stored time range and newest value of tags",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withClient(cmd, func(ctx context.Context, c *views.Client) error {
				ctxs, err := c.DataContext(ctx, args[0], args[1:])
				if err != nil {
					return err
				}
				return a.printJSON(ctxs)
			})
		},
	}
}

func overviewCmd(a *app) *cobra.Command {
	var hidden bool
	cmd := &cobra.Command{
		Use:   "overview",
		Short: "Print the datasets of every view",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withClient(cmd, func(ctx context.Context, c *views.Client) error {
				o, err := c.Overview(ctx, hidden)
				if err != nil {
					return err
				}
				return a.printJSON(o)
			})
		},
	}
	cmd.Flags().BoolVar(&hidden, "hidden", false, "include hidden datasets")
	return cmd
}

func keepaliveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "keepalive",
		Short: "Connect, send one keepalive, release",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withClient(cmd, func(ctx context.Context, c *views.Client) error {
				if err := c.Keepalive(ctx); err != nil {
					return err
				}
				return a.printJSON(map[string]int32{"client_connection_id": c.ID()})
			})
		},
	}
}

func liveCmd(a *app) *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "live VIEW TAG...",
		Short: "Stream live updates of tags",
		Long: "Streams live updates until --count updates arrived or the service ends the stream. " +
			"Without --count the stream runs until --timeout, which is a normal stop.",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withClient(cmd, func(ctx context.Context, c *views.Client) error {
				sctx, cancel := context.WithCancel(ctx)
				defer cancel()
				live, err := c.Subscribe(sctx, args[0], args[1:])
				if err != nil {
					return err
				}
				for n := 0; count <= 0 || n < count; n++ {
					u, err := live.Recv()
					if errors.Is(err, io.EOF) || (err != nil && deadlineReached(ctx, err)) {
						return nil
					}
					if err != nil {
						return err
					}
					if err := a.printJSON(u); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&count, "count", 0, "stop after this many updates, 0 streams until timeout")
	return cmd
}

// deadlineReached reports whether err is the command deadline ending a stream.
func deadlineReached(ctx context.Context, err error) bool {
	return errors.Is(ctx.Err(), context.DeadlineExceeded) || status.Code(err) == codes.DeadlineExceeded
}

type tsValue struct {
	Seconds int64  `json:"seconds"`
	Nanos   int32  `json:"nanos"`
	Text    string `json:"text"`
}

// tsCmd converts between calendar strings and epoch seconds offline.
func tsCmd(a *app) *cobra.Command {
	ts := &cobra.Command{
		Use:   "ts",
		Short: "Convert timestamps without contacting the service",
		// Offline: no configuration needed.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
	}
	var nanos int32
	encode := &cobra.Command{
		Use:   "encode SECONDS",
		Short: "Render epoch seconds as a calendar string",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			sec, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("seconds: %w", err)
			}
			text, err := isotime.Encode(sec, nanos)
			if err != nil {
				return err
			}
			return a.printJSON(tsValue{Seconds: sec, Nanos: nanos, Text: text})
		},
	}
	encode.Flags().Int32Var(&nanos, "nanos", 0, "nanoseconds, 0..999999999")

	decode := &cobra.Command{
		Use:   "decode TEXT",
		Short: "Parse a calendar string into epoch seconds",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			sec, n, err := isotime.Decode(args[0])
			if err != nil {
				return err
			}
			return a.printJSON(tsValue{Seconds: sec, Nanos: n, Text: args[0]})
		},
	}
	ts.AddCommand(encode, decode)
	return ts
}
