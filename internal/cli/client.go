package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/nofeaturesonlybugs/stomp/v2"
)

// clientFlags configure the connection of the publish and subscribe commands.
type clientFlags struct {
	addr      string
	login     string
	passcode  string
	heartbeat string
	timeout   time.Duration
	logLevel  string
}

func (f *clientFlags) bind(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.addr, "addr", "127.0.0.1:61613", "server address")
	fs.StringVar(&f.login, "login", "", "login")
	fs.StringVar(&f.passcode, "passcode", "", "passcode")
	fs.StringVar(&f.heartbeat, "heartbeat", "0,0", "client heart-beat as send,receive milliseconds")
	fs.DurationVar(&f.timeout, "timeout", 10*time.Second, "connect and receipt timeout")
	fs.StringVar(&f.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
}

// connect dials the server and performs the CONNECT handshake.
func (f *clientFlags) connect(ctx context.Context, stderr io.Writer) (*stomp.Client, error) {
	hb, err := stomp.ParseHeartBeat(f.heartbeat)
	if err != nil {
		return nil, errors.Wrap(err, "--heartbeat")
	}
	log, err := newLogger(stderr, f.logLevel)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	peer, err := stomp.Dial(ctx, "tcp", f.addr, nil, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %v", f.addr)
	}
	client := stomp.NewClient(peer)
	client.Login, client.Passcode = f.login, f.passcode
	client.HeartBeat = hb
	client.Logger = log
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	log.Debugf("connected to %v: version=%v session=%v", f.addr, client.Version(), client.Session())
	return client, nil
}

// disconnect closes client gracefully within the connect timeout.
func (f *clientFlags) disconnect(client *stomp.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()
	return client.Disconnect(ctx)
}

// parseHeaders converts name:value arguments to headers.
func parseHeaders(args []string) (stomp.Headers, error) {
	headers := stomp.Headers{}
	for _, arg := range args {
		name, value, ok := strings.Cut(arg, ":")
		if !ok || name == "" {
			return nil, errors.Errorf("invalid header %q; expected name:value", arg)
		}
		if _, ok := headers[name]; !ok {
			headers[name] = value
		}
	}
	return headers, nil
}

func newPublishCmd() *cobra.Command {
	flags := &clientFlags{}
	var headerArgs []string
	var receipt bool
	cmd := &cobra.Command{
		Use:   "publish DESTINATION [BODY]",
		Short: "Send one message; the body is read from stdin when omitted",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			headers, err := parseHeaders(headerArgs)
			if err != nil {
				return err
			}
			var body []byte
			if len(args) == 2 {
				body = []byte(args[1])
			} else if body, err = io.ReadAll(cmd.InOrStdin()); err != nil {
				return errors.Wrap(err, "reading body")
			}
			//
			client, err := flags.connect(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if receipt {
				headers[stomp.HeaderDestination] = args[0]
				rctx, cancel := context.WithTimeout(ctx, flags.timeout)
				err = client.Request(rctx, stomp.Frame{Command: stomp.CommandSend, Headers: headers, Body: body})
				cancel()
			} else {
				err = client.Send(args[0], body, headers)
			}
			if err != nil {
				_ = client.Close()
				return errors.Wrap(err, "send")
			}
			return flags.disconnect(client)
		},
	}
	flags.bind(cmd)
	cmd.Flags().StringArrayVarP(&headerArgs, "header", "H", nil, "extra header as name:value; may be repeated")
	cmd.Flags().BoolVar(&receipt, "receipt", false, "wait for the server to acknowledge the message")
	return cmd
}

func newSubscribeCmd() *cobra.Command {
	flags := &clientFlags{}
	var ack string
	var count int
	var showHeaders bool
	cmd := &cobra.Command{
		Use:   "subscribe DESTINATION",
		Short: "Print messages sent to a destination",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			client, err := flags.connect(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			sub, err := client.Subscribe(args[0], ack)
			if err != nil {
				_ = client.Close()
				return errors.Wrap(err, "subscribe")
			}
			out := cmd.OutOrStdout()
			for n := 0; count <= 0 || n < count; n++ {
				select {
				case msg, open := <-sub.C:
					if !open {
						if err := client.Err(); err != nil {
							return err
						}
						return stomp.ErrClosed
					}
					if showHeaders {
						for _, name := range msg.Headers.SortedKeys() {
							fmt.Fprintf(out, "%v:%v\n", name, msg.Headers[name])
						}
						fmt.Fprintln(out)
					}
					fmt.Fprintf(out, "%s\n", msg.Body)
					if ack != "" && ack != "auto" {
						if err := client.Ack(msg, ""); err != nil {
							return errors.Wrap(err, "ack")
						}
					}
				case <-ctx.Done():
					return flags.disconnect(client)
				}
			}
			return flags.disconnect(client)
		},
	}
	flags.bind(cmd)
	cmd.Flags().StringVar(&ack, "ack", "auto", "ack mode: auto, client or client-individual")
	cmd.Flags().IntVarP(&count, "count", "n", 0, "exit after this many messages; 0 runs until interrupted")
	cmd.Flags().BoolVar(&showHeaders, "headers", false, "print message headers")
	return cmd
}
