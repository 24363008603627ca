package content

import (
	"bytes"
	"io"
	"strings"

	"github.com/emersion/go-message/charset"
)

// DecodeBody turns a provider body part into UTF-8 text. It never fails:
// anything undecodable yields "".
func DecodeBody(encoded string) string {
	return DecodeBodyCharset(encoded, "")
}

// DecodeBodyCharset is DecodeBody for parts that declare a non-UTF-8 charset.
func DecodeBodyCharset(encoded, cs string) string {
	if encoded == "" {
		return ""
	}
	raw, err := DecodeBase64URL(encoded)
	if err != nil {
		return ""
	}
	raw = toUTF8(raw, cs)
	text := strings.ToValidUTF8(string(raw), "\uFFFD")
	return RepairEncodedLinks(text)
}

func toUTF8(raw []byte, cs string) []byte {
	switch strings.ToLower(strings.TrimSpace(cs)) {
	case "", "utf-8", "utf8", "us-ascii", "ascii":
		return raw
	}
	r, err := charset.Reader(cs, bytes.NewReader(raw))
	if err != nil {
		return raw
	}
	converted, err := io.ReadAll(r)
	if err != nil {
		return raw
	}
	return converted
}
