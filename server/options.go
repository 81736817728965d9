package server

import (
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/nofeaturesonlybugs/stomp/v2"
)

// Options holds the recognized server configuration.
type Options struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// ServerName is sent in the server header of CONNECTED frames.
	ServerName string `yaml:"server_name"`

	// Parser limits; zero selects the default and a negative value disables the limit.
	MaxHeaders      int `yaml:"max_headers"`
	MaxHeaderLength int `yaml:"max_header_length"`
	MaxBodyLength   int `yaml:"max_body_length"`

	// Versions are the accepted protocol versions, highest first.
	Versions []string `yaml:"versions"`

	// HeartBeat is [ping, pong] in milliseconds: the period at which the server sends
	// heartbeats and the period at which it expects to receive them.
	HeartBeat [2]int `yaml:"heartbeat"`

	// AckTimeout is how long a delivered message may stay unacknowledged before it is
	// treated as NACKed; zero disables the timeout.
	AckTimeout time.Duration `yaml:"ack_timeout"`

	// TimeScale multiplies every time threshold (heartbeats, ack timeout).
	TimeScale float64 `yaml:"time_scale"`

	// TxMaxFrames bounds the frames buffered by one transaction; zero is unbounded.
	TxMaxFrames int `yaml:"tx_max_frames"`

	// TxChunkSize is the number of frames replayed by COMMIT before yielding.
	TxChunkSize int `yaml:"tx_chunk_size"`

	// ErrorOnUnmatched makes SEND to a destination without subscribers a protocol error.
	ErrorOnUnmatched bool `yaml:"error_on_unmatched"`

	// QueuePrefix selects destinations created as round-robin queues.
	QueuePrefix string `yaml:"queue_prefix"`

	// RequireAuth makes the server authenticate CONNECT credentials; Users is used by
	// the StaticAuthenticator built by the CLI.
	RequireAuth bool              `yaml:"require_auth"`
	Users       map[string]string `yaml:"users"`

	// Ambient settings consumed by the CLI.
	WebSocketAddr string `yaml:"websocket_addr"`
	MetricsAddr   string `yaml:"metrics_addr"`
	RedisURL      string `yaml:"redis_url"`
	RedisPrefix   string `yaml:"redis_prefix"`
	LogLevel      string `yaml:"log_level"`
}

// DefaultOptions returns Options with every default applied.
func DefaultOptions() Options {
	var o Options
	o.SetDefaults()
	return o
}

// SetDefaults initializes unset fields with built-in defaults.
func (o *Options) SetDefaults() {
	if o.Host == "" {
		o.Host = "127.0.0.1"
	}
	if o.ServerName == "" {
		o.ServerName = "stompd/2"
	}
	if o.MaxHeaders == 0 {
		o.MaxHeaders = 256
	}
	if o.MaxHeaderLength == 0 {
		o.MaxHeaderLength = 8 * 1024
	}
	if o.MaxBodyLength == 0 {
		o.MaxBodyLength = 8 * 1024 * 1024
	}
	if len(o.Versions) == 0 {
		o.Versions = append([]string(nil), stomp.SupportedVersions...)
	}
	if o.TimeScale == 0 {
		o.TimeScale = 1
	}
	if o.TxChunkSize == 0 {
		o.TxChunkSize = 100
	}
	if o.QueuePrefix == "" {
		o.QueuePrefix = "/queue/"
	}
	if o.RedisPrefix == "" {
		o.RedisPrefix = "/bridge/"
	}
	if o.LogLevel == "" {
		o.LogLevel = "info"
	}
}

// LoadFile populates the options from a YAML file.
func (o *Options) LoadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return errors.Wrapf(yaml.Unmarshal(b, o), "parsing %v", path)
}

// ApplyEnv overlays STOMPD_* environment variables onto the current values.
func (o *Options) ApplyEnv() {
	str := func(name string, dst *string) {
		if v := os.Getenv("STOMPD_" + name); v != "" {
			*dst = v
		}
	}
	num := func(name string, dst *int) {
		if v := os.Getenv("STOMPD_" + name); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	str("HOST", &o.Host)
	num("PORT", &o.Port)
	str("SERVER_NAME", &o.ServerName)
	num("MAX_HEADERS", &o.MaxHeaders)
	num("MAX_HEADER_LENGTH", &o.MaxHeaderLength)
	num("MAX_BODY_LENGTH", &o.MaxBodyLength)
	num("TX_MAX_FRAMES", &o.TxMaxFrames)
	num("TX_CHUNK_SIZE", &o.TxChunkSize)
	str("QUEUE_PREFIX", &o.QueuePrefix)
	str("WEBSOCKET_ADDR", &o.WebSocketAddr)
	str("METRICS_ADDR", &o.MetricsAddr)
	str("REDIS_URL", &o.RedisURL)
	str("REDIS_PREFIX", &o.RedisPrefix)
	str("LOG_LEVEL", &o.LogLevel)
	if v := os.Getenv("STOMPD_VERSIONS"); v != "" {
		o.Versions = splitComma(v)
	}
	if v := os.Getenv("STOMPD_HEARTBEAT"); v != "" {
		if hb, err := stomp.ParseHeartBeat(v); err == nil {
			o.HeartBeat = [2]int{int(hb.Send.Milliseconds()), int(hb.Receive.Milliseconds())}
		}
	}
	if v := os.Getenv("STOMPD_ACK_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			o.AckTimeout = d
		}
	}
	if v := os.Getenv("STOMPD_TIME_SCALE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			o.TimeScale = f
		}
	}
	if v := os.Getenv("STOMPD_ERROR_ON_UNMATCHED"); v != "" {
		o.ErrorOnUnmatched, _ = strconv.ParseBool(v)
	}
	if v := os.Getenv("STOMPD_REQUIRE_AUTH"); v != "" {
		o.RequireAuth, _ = strconv.ParseBool(v)
	}
}

// Addr returns host:port.
func (o Options) Addr() string {
	return net.JoinHostPort(o.Host, strconv.Itoa(o.Port))
}

// Limits returns the parser limits.
func (o Options) Limits() stomp.ParserOptions {
	return stomp.ParserOptions{
		MaxHeaders:      limit(o.MaxHeaders),
		MaxHeaderLength: limit(o.MaxHeaderLength),
		MaxBodyLength:   limit(o.MaxBodyLength),
	}
}

// limit maps a negative option to the parser's unlimited value.
func limit(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

// ServerHeartBeat returns the server's heart-beat declaration.
func (o Options) ServerHeartBeat() stomp.HeartBeat {
	return stomp.HeartBeat{
		Send:    time.Duration(o.HeartBeat[0]) * time.Millisecond,
		Receive: time.Duration(o.HeartBeat[1]) * time.Millisecond,
	}
}

// Scale multiplies d by TimeScale.
func (o Options) Scale(d time.Duration) time.Duration {
	if o.TimeScale <= 0 || o.TimeScale == 1 {
		return d
	}
	return time.Duration(float64(d) * o.TimeScale)
}

func splitComma(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}
