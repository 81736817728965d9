package redisbridge

import (
	"context"
	"crypto/tls"
	"net/url"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// NewClient connects to the Redis server at addr and pings it.
//
// addr is either host:port or a redis:// or rediss:// URL.  A URL may carry
// credentials, a comma separated host list and a database number as its path or db
// query parameter.
func NewClient(ctx context.Context, addr string) (redis.UniversalClient, error) {
	opts, err := ParseURL(addr)
	if err != nil {
		return nil, err
	}
	client := redis.NewUniversalClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "redis ping %v", opts.Addrs)
	}
	return client, nil
}

// ParseURL converts addr into client options.
func ParseURL(addr string) (*redis.UniversalOptions, error) {
	if !strings.Contains(addr, "://") {
		return &redis.UniversalOptions{Addrs: []string{addr}}, nil
	}
	u, err := url.Parse(addr)
	if err != nil {
		return nil, errors.Wrap(err, "redis url")
	}
	opts := &redis.UniversalOptions{Addrs: strings.Split(u.Host, ",")}
	if u.User != nil {
		opts.Username = u.User.Username()
		opts.Password, _ = u.User.Password()
	}
	switch u.Scheme {
	case "redis":
	case "rediss":
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	default:
		return nil, errors.Errorf("redis url: unsupported scheme %v", u.Scheme)
	}
	db := strings.TrimPrefix(u.Path, "/")
	if db == "" {
		db = u.Query().Get("db")
	}
	if db != "" {
		if opts.DB, err = strconv.Atoi(db); err != nil {
			return nil, errors.Errorf("redis url: invalid db %v", db)
		}
	}
	return opts, nil
}
