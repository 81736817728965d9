package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/nofeaturesonlybugs/stomp/v2"
	"github.com/nofeaturesonlybugs/stomp/v2/server"
)

// serveFlags are the serve command line flags.  Flags given on the command line
// override the environment which overrides the config file.
type serveFlags struct {
	config           string
	host             string
	port             int
	serverName       string
	versions         string
	heartbeat        string
	ackTimeout       time.Duration
	timeScale        float64
	txMaxFrames      int
	errorOnUnmatched bool
	queuePrefix      string
	requireAuth      bool
	websocketAddr    string
	metricsAddr      string
	redisURL         string
	redisPrefix      string
	logLevel         string
}

func (f *serveFlags) bind(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.config, "config", os.Getenv("STOMPD_CONFIG"), "path to YAML config file")
	fs.StringVar(&f.host, "host", "", "listen host")
	fs.IntVar(&f.port, "port", 61613, "listen port")
	fs.StringVar(&f.serverName, "server-name", "", "server header of CONNECTED frames")
	fs.StringVar(&f.versions, "versions", "", "comma separated protocol versions, highest first")
	fs.StringVar(&f.heartbeat, "heartbeat", "", "server heart-beat as ping,pong milliseconds")
	fs.DurationVar(&f.ackTimeout, "ack-timeout", 0, "redeliver messages left unacknowledged this long; 0 disables")
	fs.Float64Var(&f.timeScale, "time-scale", 1, "multiplier applied to every time threshold")
	fs.IntVar(&f.txMaxFrames, "tx-max-frames", 0, "frames a transaction may buffer; 0 is unbounded")
	fs.BoolVar(&f.errorOnUnmatched, "error-on-unmatched", false, "reject SEND to destinations without subscribers")
	fs.StringVar(&f.queuePrefix, "queue-prefix", "", "destinations with this prefix are queues")
	fs.BoolVar(&f.requireAuth, "require-auth", false, "authenticate CONNECT against the configured users")
	fs.StringVar(&f.websocketAddr, "websocket-addr", "", "serve STOMP over WebSocket on this address")
	fs.StringVar(&f.metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")
	fs.StringVar(&f.redisURL, "redis-url", "", "bridge destinations through this Redis server")
	fs.StringVar(&f.redisPrefix, "redis-prefix", "", "destinations with this prefix are bridged")
	fs.StringVar(&f.logLevel, "log-level", "", "log level (debug, info, warn, error)")
}

// options resolves the server options from the config file, environment and flags.
func (f *serveFlags) options(cmd *cobra.Command) (server.Options, error) {
	var opts server.Options
	if f.config != "" {
		if err := opts.LoadFile(f.config); err != nil {
			return opts, err
		}
	}
	opts.ApplyEnv()
	//
	changed := cmd.Flags().Changed
	str := func(name string, dst *string, v string) {
		if changed(name) {
			*dst = v
		}
	}
	str("host", &opts.Host, f.host)
	str("server-name", &opts.ServerName, f.serverName)
	str("queue-prefix", &opts.QueuePrefix, f.queuePrefix)
	str("websocket-addr", &opts.WebSocketAddr, f.websocketAddr)
	str("metrics-addr", &opts.MetricsAddr, f.metricsAddr)
	str("redis-url", &opts.RedisURL, f.redisURL)
	str("redis-prefix", &opts.RedisPrefix, f.redisPrefix)
	str("log-level", &opts.LogLevel, f.logLevel)
	if changed("port") || opts.Port == 0 {
		opts.Port = f.port
	}
	if changed("versions") {
		opts.Versions = strings.Split(f.versions, ",")
		for k, v := range opts.Versions {
			opts.Versions[k] = strings.TrimSpace(v)
		}
	}
	if changed("heartbeat") {
		hb, err := stomp.ParseHeartBeat(f.heartbeat)
		if err != nil {
			return opts, errors.Wrap(err, "--heartbeat")
		}
		opts.HeartBeat = [2]int{int(hb.Send.Milliseconds()), int(hb.Receive.Milliseconds())}
	}
	if changed("ack-timeout") {
		opts.AckTimeout = f.ackTimeout
	}
	if changed("time-scale") {
		opts.TimeScale = f.timeScale
	}
	if changed("tx-max-frames") {
		opts.TxMaxFrames = f.txMaxFrames
	}
	if changed("error-on-unmatched") {
		opts.ErrorOnUnmatched = f.errorOnUnmatched
	}
	if changed("require-auth") {
		opts.RequireAuth = f.requireAuth
	}
	opts.SetDefaults()
	if opts.RequireAuth && len(opts.Users) == 0 {
		return opts, errors.New("require-auth is set but no users are configured")
	}
	return opts, nil
}

func newServeCmd() *cobra.Command {
	flags := &serveFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the STOMP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			opts, err := flags.options(cmd)
			if err != nil {
				return err
			}
			log, err := newLogger(cmd.ErrOrStderr(), opts.LogLevel)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()
			//
			d, err := startDaemon(ctx, opts, log)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stompd listening on %s\n", d.Addr())
			<-ctx.Done()
			log.Infof("stopping: %v", context.Cause(ctx))
			return d.Close()
		},
	}
	flags.bind(cmd)
	return cmd
}
