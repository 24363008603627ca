package compose

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

const mimeLineLength = 76

const upperHex = "0123456789ABCDEF"

// newBoundary returns a time-plus-random token. It starts with "=_", which
// cannot occur in quoted-printable or base64 output, so it never collides
// with part content.
func newBoundary(now time.Time) (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return fmt.Sprintf("=_part_%x_%s", now.UnixNano(), hex.EncodeToString(b[:])), nil
}

// encodeQuotedPrintable is a minimal quoted-printable encoder for HTML
// bodies: '=', 8-bit bytes and line-final blanks are escaped, line endings become CRLF and
// long lines get soft breaks so no encoded line exceeds 76 characters.
func encodeQuotedPrintable(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")

	var b strings.Builder
	b.Grow(len(s) + len(s)/8)
	lineLen := 0
	write := func(token string) {
		// Leave room for the trailing '=' of a soft break.
		if lineLen+len(token) > mimeLineLength-1 {
			b.WriteString("=\r\n")
			lineLen = 0
		}
		b.WriteString(token)
		lineLen += len(token)
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\n':
			b.WriteString("\r\n")
			lineLen = 0
		case (c == ' ' || c == '\t') && (i+1 == len(s) || s[i+1] == '\n'):
			// Decoders strip unescaped whitespace at the end of a line.
			write(string([]byte{'=', upperHex[c>>4], upperHex[c&0x0f]}))
		case c == '=' || c >= 0x80:
			write(string([]byte{'=', upperHex[c>>4], upperHex[c&0x0f]}))
		default:
			write(string(c))
		}
	}
	return b.String()
}

func writeWrappedBase64(buf *bytes.Buffer, data []byte) {
	encoded := base64.StdEncoding.EncodeToString(data)
	for len(encoded) > mimeLineLength {
		buf.WriteString(encoded[:mimeLineLength])
		buf.WriteString("\r\n")
		encoded = encoded[mimeLineLength:]
	}
	buf.WriteString(encoded)
	buf.WriteString("\r\n")
}
