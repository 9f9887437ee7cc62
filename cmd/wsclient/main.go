// Command wsclient sends relay frames to a gateway from the command line.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	gatewayURL string
	token      string
	origin     string
	timeout    time.Duration
)

func main() {
	root := &cobra.Command{
		Use:           "wsclient",
		Short:         "WebSocket gateway client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&gatewayURL, "gateway", "ws://localhost:8080", "gateway base URL")
	root.PersistentFlags().StringVar(&token, "token", os.Getenv("WSGATEWAY_TOKEN"), "bearer token (default $WSGATEWAY_TOKEN)")
	root.PersistentFlags().StringVar(&origin, "origin", "http://localhost", "Origin header sent on upgrade")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "how long to wait for the reply")

	root.AddCommand(sendCmd())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
