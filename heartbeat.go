package stomp

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// HeartBeat is one side's heart-beat declaration.
//
// Send is the period at which the side emits heartbeats and Receive is the period at
// which it wants to receive them; zero disables the direction.  On the wire it is the
// heart-beat header "send,receive" in milliseconds.
type HeartBeat struct {
	Send    time.Duration
	Receive time.Duration
}

// ParseHeartBeat parses a heart-beat header value.  An empty value is 0,0.
func ParseHeartBeat(s string) (HeartBeat, error) {
	var hb HeartBeat
	if s = strings.TrimSpace(s); s == "" {
		return hb, nil
	}
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return hb, fmt.Errorf("%w: invalid %v: %v", ErrFrame, HeaderHeartBeat, s)
	}
	var ms [2]int
	for k, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n < 0 {
			return hb, fmt.Errorf("%w: invalid %v: %v", ErrFrame, HeaderHeartBeat, s)
		}
		ms[k] = n
	}
	hb.Send = time.Duration(ms[0]) * time.Millisecond
	hb.Receive = time.Duration(ms[1]) * time.Millisecond
	return hb, nil
}

// String returns the heart-beat header value.
func (hb HeartBeat) String() string {
	return strconv.FormatInt(hb.Send.Milliseconds(), 10) + "," + strconv.FormatInt(hb.Receive.Milliseconds(), 10)
}

// NegotiateHeartBeat returns the period at which local must send heartbeats and the
// silence threshold local applies to remote.  Either value is zero when the direction
// is disabled by one of the peers.
//
// The connection is considered dead once nothing has been received for twice the
// silence threshold.
func NegotiateHeartBeat(local, remote HeartBeat) (ping, silence time.Duration) {
	if local.Send > 0 && remote.Receive > 0 {
		ping = max(local.Send, remote.Receive)
	}
	if local.Receive > 0 && remote.Send > 0 {
		silence = max(local.Receive, remote.Send)
	}
	return ping, silence
}
