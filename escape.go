package stomp

import (
	"fmt"
	"strings"
)

var (
	fullEscaper = strings.NewReplacer(`\`, `\\`, ":", `\c`, "\n", `\n`, "\r", `\r`)
	rawEscaper  = strings.NewReplacer(`\`, `\\`)
)

// EscapeHeader escapes s for use as a header name or value in a frame with command c.
//
// CONNECT and CONNECTED frames only escape the backslash; all other frames also escape
// colon, newline, and carriage return.
func EscapeHeader(c Command, s string) string {
	if c.RawEscapes() {
		return rawEscaper.Replace(s)
	}
	return fullEscaper.Replace(s)
}

// UnescapeHeader reverses EscapeHeader for a frame with command c.  An escape sequence
// not valid for c, or a trailing lone backslash, returns an error wrapping ErrInvalidEscape.
func UnescapeHeader(c Command, s string) (string, error) {
	if strings.IndexByte(s, '\\') == -1 {
		return s, nil
	}
	raw := c.RawEscapes()
	b := strings.Builder{}
	b.Grow(len(s))
	for k := 0; k < len(s); k++ {
		if s[k] != '\\' {
			b.WriteByte(s[k])
			continue
		}
		if k++; k == len(s) {
			return "", fmt.Errorf("%w: %w: trailing backslash in %q", ErrFrame, ErrInvalidEscape, s)
		}
		switch e := s[k]; {
		case e == '\\':
			b.WriteByte('\\')
		case e == 'c' && !raw:
			b.WriteByte(':')
		case e == 'n' && !raw:
			b.WriteByte('\n')
		case e == 'r' && !raw:
			b.WriteByte('\r')
		default:
			return "", fmt.Errorf("%w: %w: \\%c in %q", ErrFrame, ErrInvalidEscape, e, s)
		}
	}
	return b.String(), nil
}
