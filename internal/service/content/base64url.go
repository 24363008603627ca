package content

import (
	"encoding/base64"
	"strings"
)

// encodeChunk is a multiple of 3 so chunk boundaries never need padding.
const encodeChunk = 3 * 64 * 1024

var urlToStd = strings.NewReplacer("-", "+", "_", "/")

// EncodeBase64URL encodes b as unpadded base64url, chunk by chunk, so peak
// memory stays close to the size of the output.
func EncodeBase64URL(b []byte) string {
	var sb strings.Builder
	sb.Grow(base64.RawURLEncoding.EncodedLen(len(b)))

	buf := make([]byte, base64.RawURLEncoding.EncodedLen(min(encodeChunk, len(b))))
	for start := 0; start < len(b); start += encodeChunk {
		chunk := b[start:min(start+encodeChunk, len(b))]
		n := base64.RawURLEncoding.EncodedLen(len(chunk))
		base64.RawURLEncoding.Encode(buf[:n], chunk)
		sb.Write(buf[:n])
	}
	return sb.String()
}

// DecodeBase64URL accepts the provider's base64url data with or without
// padding and tolerates embedded whitespace.
func DecodeBase64URL(s string) ([]byte, error) {
	s = strings.Join(strings.Fields(s), "")
	s = urlToStd.Replace(s)
	s = strings.TrimRight(s, "=")
	if rem := len(s) % 4; rem != 0 {
		s += strings.Repeat("=", 4-rem)
	}
	return base64.StdEncoding.DecodeString(s)
}
