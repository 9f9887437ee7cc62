// Command mockidentity issues RS256 tokens for a few seeded accounts and
// serves the matching JWKS, for running the gateway locally.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

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
	v.SetDefault("addr", ":8081")
	v.SetDefault("log_level", "info")
	v.SetDefault("token_ttl", 15*time.Minute)
	_ = v.BindEnv("addr", "IDENTITY_ADDR")
	_ = v.BindEnv("log_level", "LOG_LEVEL")
	_ = v.BindEnv("token_ttl", "TOKEN_TTL")

	cmd := &cobra.Command{
		Use:           "mockidentity",
		Short:         "Token issuer and JWKS endpoint for local development",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logging.New(v.GetString("log_level"))
			if err != nil {
				return fmt.Errorf("building logger: %w", err)
			}
			defer logger.Sync()

			iss, err := newIssuer(v.GetDuration("token_ttl"), logger)
			if err != nil {
				return err
			}
			addr := v.GetString("addr")
			logger.Info("mock identity service starting",
				zap.String("addr", addr),
				zap.String("kid", iss.kid),
				zap.Strings("accounts", []string{"admin:admin", "user:password", "reader:reader (read only)"}),
			)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return server.New(addr, iss.routes(), logger).Run(ctx)
		},
	}
	cmd.Flags().String("addr", "", "listen address")
	cmd.Flags().Duration("token-ttl", 0, "lifetime of issued tokens")
	_ = v.BindPFlag("addr", cmd.Flags().Lookup("addr"))
	_ = v.BindPFlag("token_ttl", cmd.Flags().Lookup("token-ttl"))
	return cmd
}
