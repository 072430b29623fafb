package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/outofforest/logger"
	"github.com/outofforest/parallel"
	"github.com/outofforest/ubus"
)

func main() {
	log := logger.New(logger.DefaultConfig)
	ctx, cancel := signal.NotifyContext(logger.WithLogger(context.Background(), log), os.Interrupt,
		syscall.SIGTERM)
	defer cancel()

	if err := rootCommand().ExecuteContext(ctx); err != nil {
		log.Error("Command failed", zap.Error(err))
		cancel()
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	var configPath string
	cfg := DefaultConfig()

	root := &cobra.Command{
		Use:           "ubus",
		Short:         "Client of the ubus message bus",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := LoadConfig(configPath)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("socket") {
				loaded.Socket = cfg.Socket
			}
			if flags.Changed("timeout") {
				loaded.Timeout = cfg.Timeout
			}
			if flags.Changed("retries") {
				loaded.Retries = cfg.Retries
			}
			cfg = loaded
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "path to TOML config file")
	flags.StringVarP(&cfg.Socket, "socket", "s", cfg.Socket, "path to the bus socket")
	flags.DurationVarP(&cfg.Timeout, "timeout", "t", cfg.Timeout, "timeout of every socket operation")
	flags.IntVar(&cfg.Retries, "retries", cfg.Retries, "number of connection retries")

	root.AddCommand(listCommand(&cfg), callCommand(&cfg))
	return root
}

func listCommand(cfg *Config) *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "list [path]",
		Short: "List objects registered on the bus",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var path string
			if len(args) > 0 {
				path = args[0]
			}
			return withConnection(cmd.Context(), *cfg, func(ctx context.Context, conn *ubus.Connection) error {
				return conn.Lookup(ctx, path, func(obj ubus.Object) error {
					if !verbose {
						_, err := fmt.Fprintln(cmd.OutOrStdout(), obj.Path)
						return errors.WithStack(err)
					}
					_, err := fmt.Fprint(cmd.OutOrStdout(), formatObject(obj))
					return errors.WithStack(err)
				})
			})
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print methods and their arguments")
	return cmd
}

func callCommand(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "call <path> <method> [json]",
		Short: "Call method of object",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var data []byte
			if len(args) == 3 {
				data = []byte(args[2])
			}
			return withConnection(cmd.Context(), *cfg, func(ctx context.Context, conn *ubus.Connection) error {
				result, err := conn.Call(ctx, args[0], args[1], data)
				if err != nil {
					return err
				}
				out := &bytes.Buffer{}
				if err := json.Indent(out, result, "", "\t"); err != nil {
					return errors.WithStack(err)
				}
				out.WriteByte('\n')
				_, err = out.WriteTo(cmd.OutOrStdout())
				return errors.WithStack(err)
			})
		},
	}
}

func formatObject(obj ubus.Object) string {
	b := &strings.Builder{}
	fmt.Fprintf(b, "'%s' @%08x\n", obj.Path, obj.ID)

	methods := lo.Keys(obj.Methods)
	slices.Sort(methods)
	for _, name := range methods {
		m := obj.Methods[name]
		args := lo.Keys(m.Args)
		slices.Sort(args)
		fmt.Fprintf(b, "\t%q:{", name)
		for i, arg := range args {
			if i > 0 {
				b.WriteString(",")
			}
			fmt.Fprintf(b, "%q:%q", arg, m.Args[arg].String())
		}
		b.WriteString("}\n")
	}
	return b.String()
}

func withConnection(ctx context.Context, cfg Config, fn func(ctx context.Context, conn *ubus.Connection) error) error {
	conn, err := connect(ctx, cfg)
	if err != nil {
		return err
	}

	return parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
		spawn("closer", parallel.Fail, func(ctx context.Context) error {
			<-ctx.Done()
			_ = conn.Close()
			return errors.WithStack(ctx.Err())
		})
		spawn("command", parallel.Exit, func(ctx context.Context) error {
			if err := fn(ctx, conn); err != nil {
				if ctx.Err() != nil {
					return errors.WithStack(ctx.Err())
				}
				return err
			}
			return nil
		})

		return nil
	})
}

func connect(ctx context.Context, cfg Config) (*ubus.Connection, error) {
	log := logger.Get(ctx)

	for attempt := 0; ; attempt++ {
		conn, err := ubus.Dial(ctx, cfg.Socket, ubus.DialConfig{
			Config:  ubus.DefaultConfig,
			Timeout: cfg.Timeout,
		})
		if err == nil {
			return conn, nil
		}
		if ctx.Err() != nil {
			return nil, errors.WithStack(ctx.Err())
		}
		if attempt >= cfg.Retries {
			return nil, err
		}

		log.Error("Ubus connection failed", zap.String("socket", cfg.Socket), zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, errors.WithStack(ctx.Err())
		case <-time.After(cfg.RetryDelay):
		}
	}
}
