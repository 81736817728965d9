package cli

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/nofeaturesonlybugs/stomp/v2/bridge/redisbridge"
	"github.com/nofeaturesonlybugs/stomp/v2/server"
	"github.com/nofeaturesonlybugs/stomp/v2/server/events"
)

// daemon is a running server with its optional HTTP listeners and Redis bridge.
type daemon struct {
	srv   *server.Server
	log   *logrus.Logger
	redis redis.UniversalClient
	https []*http.Server

	// Addresses of the optional listeners.
	websocketAddr string
	metricsAddr   string

	eventsDone chan struct{}
}

// startDaemon builds a server from opts and starts every configured listener.
func startDaemon(ctx context.Context, opts server.Options, log *logrus.Logger) (*daemon, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	evC := make(chan interface{}, 64)
	d := &daemon{
		srv: &server.Server{
			Options: opts,
			Logger:  log,
			Events:  evC,
			Metrics: server.NewMetrics(registry),
		},
		log:        log,
		eventsDone: make(chan struct{}),
	}
	go d.logEvents(evC)
	if opts.RequireAuth {
		d.srv.Authenticator = server.NewStaticAuthenticator(opts.Users)
	}
	if opts.RedisURL != "" {
		client, err := redisbridge.NewClient(ctx, opts.RedisURL)
		if err != nil {
			close(evC)
			<-d.eventsDone
			return nil, err
		}
		d.redis = client
		d.srv.Factory = redisbridge.Factory{
			Client:        client,
			Prefix:        opts.RedisPrefix,
			ChannelPrefix: "stompd:",
			Limits:        opts.Limits(),
			Next:          server.DefaultFactory(opts.QueuePrefix),
			Logger:        log,
		}
	}
	//
	if err := d.srv.ListenAndServe(); err != nil {
		return nil, d.abort(err)
	}
	if opts.WebSocketAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/stomp", d.srv.WebSocketHandler(func(r *http.Request) bool { return true }))
		addr, err := d.serveHTTP(opts.WebSocketAddr, mux)
		if err != nil {
			return nil, d.abort(err)
		}
		d.websocketAddr = addr
		log.Infof("websocket listening on %v/stomp", addr)
	}
	if opts.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		addr, err := d.serveHTTP(opts.MetricsAddr, mux)
		if err != nil {
			return nil, d.abort(err)
		}
		d.metricsAddr = addr
		log.Infof("metrics listening on %v/metrics", addr)
	}
	return d, nil
}

// Addr returns the STOMP listener address.
func (d *daemon) Addr() string {
	return d.srv.Addr
}

func (d *daemon) serveHTTP(addr string, h http.Handler) (string, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return "", errors.Wrapf(err, "listen %v", addr)
	}
	hs := &http.Server{Handler: h, ReadHeaderTimeout: 10 * time.Second}
	d.https = append(d.https, hs)
	go func() {
		if err := hs.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.log.Errorf("http %v: %v", addr, err)
		}
	}()
	return l.Addr().String(), nil
}

// logEvents logs server events until the server closes the channel.
func (d *daemon) logEvents(c <-chan interface{}) {
	defer close(d.eventsDone)
	for ev := range c {
		switch ev := ev.(type) {
		case events.ClientConnect:
			d.log.WithField("session", ev.SessionID).Debug("client connected")
		case events.ClientDisconnect:
			d.log.WithField("session", ev.SessionID).Debug("client disconnected")
		case events.SubscriptionStart:
			d.log.WithField("destination", ev.Destination).Debug("subscription started")
		case events.SubscriptionStop:
			d.log.WithField("destination", ev.Destination).Debug("subscription stopped")
		case events.ServerStop:
			d.log.Debug("server stopped")
		}
	}
}

// abort releases a partially started daemon and returns err.
func (d *daemon) abort(err error) error {
	_ = d.Close()
	return err
}

// Close stops the HTTP listeners, then the server, then the Redis client.
func (d *daemon) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var rv error
	for _, hs := range d.https {
		if err := hs.Shutdown(ctx); err != nil && rv == nil {
			rv = errors.Wrap(err, "http shutdown")
		}
	}
	if err := d.srv.Shutdown(); err != nil && rv == nil {
		rv = err
	}
	<-d.eventsDone
	if d.redis != nil {
		if err := d.redis.Close(); err != nil && rv == nil {
			rv = errors.Wrap(err, "redis close")
		}
	}
	return rv
}
