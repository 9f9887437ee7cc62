package main

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/net/websocket"

	"wsgateway/internal/domain"
	"wsgateway/internal/wire"
)

var (
	requestShape  = wire.ShapeOf[domain.RelayRequest]()
	responseShape = wire.ShapeOf[domain.RelayResponse]()
	errorShape    = wire.ShapeOf[domain.ErrorResponse]()
)

// errPeerReported marks a reply that was an ErrorResponse.
var errPeerReported = errors.New("gateway reported an error")

// send <endpoint> <method> <path>: relay one request and print the reply.
func sendCmd() *cobra.Command {
	var req domain.RelayRequest
	cmd := &cobra.Command{
		Use:     "send <endpoint> <method> <path>",
		Short:   "Relay one request through the gateway",
		Example: "  wsclient send /ws/v1/vectors GET /v1/vectors/ns1",
		Args:    cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Method = strings.ToUpper(args[1])
			req.Path = args[2]
			if req.ID == "" {
				req.ID = fmt.Sprintf("cli-%d", time.Now().UnixNano())
			}

			conn, err := dial(args[0])
			if err != nil {
				return err
			}
			defer conn.Close()

			reply, err := roundTrip(conn, req)
			if err != nil {
				return err
			}
			return printReply(cmd.OutOrStdout(), reply)
		},
	}
	cmd.Flags().StringVar(&req.ID, "id", "", "frame id (default: generated)")
	cmd.Flags().StringVar(&req.ContentType, "content-type", "", "content type of --body")
	cmd.Flags().StringVar(&req.Body, "body", "", "request body")
	return cmd
}

func dial(endpoint string) (*websocket.Conn, error) {
	u, err := url.Parse(gatewayURL)
	if err != nil {
		return nil, fmt.Errorf("parsing gateway URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = endpoint

	cfg, err := websocket.NewConfig(u.String(), origin)
	if err != nil {
		return nil, fmt.Errorf("websocket config: %w", err)
	}
	if token != "" {
		cfg.Header.Set("Authorization", "Bearer "+token)
	}
	conn, err := websocket.DialConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", u, err)
	}
	return conn, nil
}

func roundTrip(conn *websocket.Conn, req domain.RelayRequest) (string, error) {
	text, err := wire.Encode(req, requestShape)
	if err != nil {
		return "", err
	}
	if err := websocket.Message.Send(conn, text); err != nil {
		return "", fmt.Errorf("sending frame: %w", err)
	}
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return "", err
	}
	var reply string
	if err := websocket.Message.Receive(conn, &reply); err != nil {
		return "", fmt.Errorf("waiting for reply: %w", err)
	}
	return reply, nil
}

// printReply writes a RelayResponse or ErrorResponse in readable form. An
// ErrorResponse yields errPeerReported so the process exits non-zero.
func printReply(w io.Writer, text string) error {
	resp, err := wire.Decode(text, responseShape)
	if err == nil {
		fmt.Fprintf(w, "id: %s\nstatus: %d\n", resp.ID, resp.Status)
		if resp.ContentType != "" {
			fmt.Fprintf(w, "content-type: %s\n", resp.ContentType)
		}
		fmt.Fprintf(w, "\n%s\n", resp.Body)
		return nil
	}
	if !errors.Is(err, wire.ErrRootMismatch) {
		return err
	}

	errResp, err := wire.Decode(text, errorShape)
	if err != nil {
		return fmt.Errorf("unexpected reply: %w", err)
	}
	for _, m := range errResp.Messages {
		fmt.Fprintf(w, "%s: %s\n", m.Code, m.Message)
	}
	return errPeerReported
}
