// Command mockbackend runs the XML echo backend that stands in for the vector
// database and file service during local runs and load tests.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"wsgateway/internal/mockbackend"
	"wsgateway/internal/platform/logging"
	"wsgateway/internal/platform/server"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	v := viper.New()
	for key, env := range map[string]string{
		"addr":           "ADDR",
		"name":           "BACKEND_NAME",
		"log_level":      "LOG_LEVEL",
		"latency_base":   "LATENCY_BASE",
		"latency_jitter": "LATENCY_JITTER",
	} {
		_ = v.BindEnv(key, env)
	}
	v.SetDefault("addr", ":8082")
	v.SetDefault("name", "mock-backend")
	v.SetDefault("log_level", "info")

	cmd := &cobra.Command{
		Use:           "mockbackend",
		Short:         "XML echo backend for the WebSocket gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logging.New(v.GetString("log_level"))
			if err != nil {
				return fmt.Errorf("building logger: %w", err)
			}
			defer logger.Sync()

			opts := mockbackend.Options{
				LatencyBase:   millis(v.Get("latency_base")),
				LatencyJitter: millis(v.Get("latency_jitter")),
				Logger:        logger,
			}
			addr, name := v.GetString("addr"), v.GetString("name")
			logger.Info("mock backend starting",
				zap.String("addr", addr),
				zap.String("name", name),
				zap.Duration("latency_base", opts.LatencyBase),
				zap.Duration("latency_jitter", opts.LatencyJitter),
			)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return server.New(addr, mockbackend.Handler(name, opts), logger).Run(ctx)
		},
	}
	flags := cmd.Flags()
	flags.String("addr", "", "listen address")
	flags.String("name", "", "backend name echoed in responses")
	_ = v.BindPFlag("addr", flags.Lookup("addr"))
	_ = v.BindPFlag("name", flags.Lookup("name"))
	return cmd
}

// millis reads a latency setting. Bare numbers are milliseconds ("50" is
// 50ms); duration strings such as "1.5s" are accepted too.
func millis(raw any) time.Duration {
	if raw == nil {
		return 0
	}
	if n, err := cast.ToIntE(raw); err == nil {
		return time.Duration(n) * time.Millisecond
	}
	return cast.ToDuration(raw)
}
