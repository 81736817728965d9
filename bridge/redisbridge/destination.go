// Package redisbridge carries messages of selected STOMP destinations over Redis pub/sub
// so every server attached to the same Redis instance shares them.
package redisbridge

import (
	"context"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/nofeaturesonlybugs/stomp/v2"
	"github.com/nofeaturesonlybugs/stomp/v2/server"
)

// Destination is a server.Destination backed by a Redis channel.
//
// SEND frames are published to the channel; local subscribers attach to the embedded
// Topic and receive every frame published on the channel, including those sent through
// this server.  The channel subscription is opened by the first local subscriber and
// closed by Close.
type Destination struct {
	*server.Topic

	// Channel is the Redis channel name.
	Channel string

	client redis.UniversalClient
	log    stomp.Logger
	limits stomp.ParserOptions

	mu     sync.Mutex
	pubsub *redis.PubSub
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDestination creates a Destination for name published on channel.
func NewDestination(client redis.UniversalClient, name, channel string, log stomp.Logger) *Destination {
	if log == nil {
		log = stomp.NilLogger
	}
	return &Destination{
		Topic:   server.NewTopic(name),
		Channel: channel,
		client:  client,
		log:     stomp.WithField(log, "redis", channel),
	}
}

// Dispatch publishes send and returns the number of Redis subscribers that received it.
func (d *Destination) Dispatch(send stomp.Frame) int {
	n, err := d.client.Publish(context.Background(), d.Channel, send.Bytes()).Result()
	if err != nil {
		d.log.Warnf("publish: %v", err)
		return 0
	}
	return int(n)
}

// Subscribe attaches sub and opens the channel subscription if necessary.
func (d *Destination) Subscribe(sub *server.Subscription) {
	d.Topic.Subscribe(sub)
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pubsub != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	pubsub := d.client.Subscribe(ctx, d.Channel)
	// Receive waits for the confirmation so frames published after Subscribe returns
	// are delivered.
	if _, err := pubsub.Receive(ctx); err != nil {
		d.log.Errorf("subscribe: %v", err)
		_ = pubsub.Close()
		cancel()
		return
	}
	d.pubsub, d.cancel = pubsub, cancel
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.receive(pubsub.Channel())
	}()
}

// receive dispatches frames published on the channel to local subscribers.
func (d *Destination) receive(c <-chan *redis.Message) {
	parser := stomp.NewParser(d.limits)
	parser.OnFrame = func(f stomp.Frame) {
		if f.Command != stomp.CommandSend {
			d.log.Warnf("ignoring %v frame", f.Name())
			return
		}
		d.Topic.Dispatch(f)
	}
	parser.OnError = func(err error) {
		d.log.Warnf("decode: %v", err)
	}
	for msg := range c {
		_, _ = parser.Write([]byte(msg.Payload))
	}
}

// Close closes the channel subscription.
func (d *Destination) Close() error {
	d.mu.Lock()
	pubsub, cancel := d.pubsub, d.cancel
	d.pubsub, d.cancel = nil, nil
	d.mu.Unlock()
	if pubsub == nil {
		return nil
	}
	err := pubsub.Unsubscribe(context.Background(), d.Channel)
	if cerr := pubsub.Close(); err == nil {
		err = cerr
	}
	cancel()
	d.wg.Wait()
	return err
}

// Factory creates bridged destinations for names beginning with Prefix and delegates
// every other name to Next.
type Factory struct {
	Client redis.UniversalClient

	// Prefix selects the bridged destinations; empty bridges every destination.
	Prefix string

	// ChannelPrefix is prepended to destination names to form channel names.
	ChannelPrefix string

	// Limits bound frames decoded from Redis.
	Limits stomp.ParserOptions

	// Next creates destinations that are not bridged; nil means topics.
	Next server.DestinationFactory

	Logger stomp.Logger
}

// Create implements server.DestinationFactory.
func (f Factory) Create(name string) server.Destination {
	if f.Prefix != "" && !strings.HasPrefix(name, f.Prefix) {
		if f.Next != nil {
			return f.Next.Create(name)
		}
		return server.NewTopic(name)
	}
	d := NewDestination(f.Client, name, f.ChannelPrefix+name, f.Logger)
	d.limits = f.Limits
	return d
}
