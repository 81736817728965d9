package stomp

import (
	"fmt"
	"strings"
)

// DefaultAcceptVersion is assumed when a CONNECT frame has no accept-version header.
const DefaultAcceptVersion = "1.0"

// SupportedVersions are the protocol versions understood by this package, highest first.
var SupportedVersions = []string{"1.2", "1.1", "1.0"}

// NegotiateVersion returns the highest version in supported (ordered highest first)
// that also appears in the comma-separated accept list.
func NegotiateVersion(accept string, supported []string) (string, error) {
	if strings.TrimSpace(accept) == "" {
		accept = DefaultAcceptVersion
	}
	offered := map[string]struct{}{}
	for _, v := range strings.Split(accept, ",") {
		offered[strings.TrimSpace(v)] = struct{}{}
	}
	for _, v := range supported {
		if _, ok := offered[v]; ok {
			return v, nil
		}
	}
	return "", fmt.Errorf("%w: supported versions are %v", ErrUnsupportedVersion, strings.Join(supported, ","))
}
