package content

import (
	"strings"
	"unicode/utf8"
)

// Some tracking systems double-encode link URLs so that reserved characters
// show up as "-XX" tokens next to ordinary "%XX" escapes.
var linkTokens = []string{
	"-2F", "/",
	"-2B", "+",
	"-3D", "=",
	"-26", "&",
	"-3A", ":",
	"-3F", "?",
	"-23", "#",
}

var linkTokenReplacer = func() *strings.Replacer {
	pairs := make([]string, 0, len(linkTokens)*2)
	for i := 0; i < len(linkTokens); i += 2 {
		pairs = append(pairs, linkTokens[i], linkTokens[i+1])
		if lower := strings.ToLower(linkTokens[i]); lower != linkTokens[i] {
			pairs = append(pairs, lower, linkTokens[i+1])
		}
	}
	return strings.NewReplacer(pairs...)
}()

// linkSignature is an encoded "://". Only runs carrying it are repaired, so
// prose such as "2024-01-23" keeps its "-23".
const linkSignature = "-3A-2F-2F"

func hasLinkSignature(s string) bool {
	return strings.Contains(strings.ToUpper(s), linkSignature)
}

func isLinkBoundary(c byte) bool {
	switch c {
	case ' ', '\t', '\r', '\n', '"', '\'', '<', '>', '(', ')':
		return true
	}
	return false
}

// RepairEncodedLinks undoes "-XX" link encoding inside URL-like runs that
// carry an encoded scheme separator. Everything else is returned unchanged.
// Within a repaired run, "%XX" escapes are decoded one run at a time; a '%'
// that does not start a valid escape is left alone.
func RepairEncodedLinks(s string) string {
	if !hasLinkSignature(s) {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		if isLinkBoundary(s[i]) {
			b.WriteByte(s[i])
			i++
			continue
		}
		j := i
		for j < len(s) && !isLinkBoundary(s[j]) {
			j++
		}
		run := s[i:j]
		if hasLinkSignature(run) {
			run = decodePercentRuns(linkTokenReplacer.Replace(run))
		}
		b.WriteString(run)
		i = j
	}
	return b.String()
}

func decodePercentRuns(s string) string {
	if !strings.Contains(s, "%") {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		if !isEscape(s, i) {
			b.WriteByte(s[i])
			i++
			continue
		}

		start := i
		var run []byte
		for isEscape(s, i) {
			run = append(run, unhex(s[i+1])<<4|unhex(s[i+2]))
			i += 3
		}

		// Keep the original escape for bytes that are not valid UTF-8.
		for k := 0; k < len(run); {
			r, size := utf8.DecodeRune(run[k:])
			if r == utf8.RuneError && size <= 1 {
				off := start + 3*k
				b.WriteString(s[off : off+3])
				k++
				continue
			}
			b.Write(run[k : k+size])
			k += size
		}
	}
	return b.String()
}

func isEscape(s string, i int) bool {
	return i+2 < len(s) && s[i] == '%' && isHex(s[i+1]) && isHex(s[i+2])
}

func isHex(c byte) bool {
	return '0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F'
}

func unhex(c byte) byte {
	switch {
	case '0' <= c && c <= '9':
		return c - '0'
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}
