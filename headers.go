package stomp

import "sort"

const (
	HeaderAcceptVersion = "accept-version"
	HeaderAck           = "ack"
	HeaderContentLength = "content-length"
	HeaderContentType   = "content-type"
	HeaderDestination   = "destination"
	HeaderHeartBeat     = "heart-beat"
	HeaderHost          = "host"
	HeaderID            = "id"
	HeaderLogin         = "login"
	HeaderMessage       = "message"
	HeaderMessageID     = "message-id"
	HeaderPasscode      = "passcode"
	HeaderReceipt       = "receipt"
	HeaderReceiptID     = "receipt-id"
	HeaderReplyTo       = "reply-to"
	HeaderServer        = "server"
	HeaderSession       = "session"
	HeaderSubscription  = "subscription"
	HeaderTransaction   = "transaction"
	HeaderVersion       = "version"
)

// Headers are the frame headers.
type Headers map[string]string

// SortedKeys returns a slice of the Headers sorted.
func (h Headers) SortedKeys() []string {
	var keys []string
	if n := len(h); n > 0 {
		keys = make([]string, 0, n)
		for k := range h {
			keys = append(keys, k)
		}
		sort.Strings(keys)
	}
	return keys
}

// Add sets key to value only if key is not already present.  STOMP dictates that
// when a header is repeated the first value wins.
func (h Headers) Add(key, value string) bool {
	if _, ok := h[key]; ok {
		return false
	}
	h[key] = value
	return true
}

// Get returns the value for key and whether it was present.
func (h Headers) Get(key string) (string, bool) {
	v, ok := h[key]
	return v, ok
}

// Clone returns a copy of h.
func (h Headers) Clone() Headers {
	rv := make(Headers, len(h))
	for k, v := range h {
		rv[k] = v
	}
	return rv
}
