package mail

import (
	netmail "net/mail"
	"regexp"
	"sort"
	"strings"
	"time"

	gomail "github.com/emersion/go-message/mail"
)

var dateLayouts = []string{
	time.RFC1123Z,
	"Mon, 2 Jan 2006 15:04:05 -0700 (MST)",
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"2 Jan 2006 15:04:05 -0700",
	time.RFC1123,
	time.RFC822Z,
	time.RFC822,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseDate parses a Date header value. It returns the zero time when no
// known layout matches.
func ParseDate(value string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}
	}
	if t, err := netmail.ParseDate(value); err == nil {
		return t.UTC()
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC()
		}
	}
	// "(UTC)"-style trailing comments confuse some layouts.
	if open := strings.LastIndex(value, " ("); open != -1 {
		return ParseDate(value[:open])
	}
	return time.Time{}
}

// NormalizeAddress extracts the bare address from `"Display Name" <addr>`,
// lower-cased and trimmed.
func NormalizeAddress(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if addr, err := gomail.ParseAddress(value); err == nil {
		return strings.ToLower(strings.TrimSpace(addr.Address))
	}
	if open := strings.LastIndex(value, "<"); open != -1 {
		if close := strings.LastIndex(value, ">"); close > open {
			value = value[open+1 : close]
		}
	}
	return strings.ToLower(strings.Trim(strings.TrimSpace(value), `"'`))
}

// ParseAddresses splits an address-list header into normalized addresses.
func ParseAddresses(value string) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	var out []string
	if list, err := gomail.ParseAddressList(value); err == nil {
		for _, addr := range list {
			if a := strings.ToLower(strings.TrimSpace(addr.Address)); a != "" {
				out = append(out, a)
			}
		}
		return out
	}
	for _, part := range strings.Split(value, ",") {
		if a := NormalizeAddress(part); a != "" {
			out = append(out, a)
		}
	}
	return out
}

// Participants returns the sorted, de-duplicated normalized addresses of the
// given header values.
func Participants(values ...string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, v := range values {
		for _, addr := range ParseAddresses(v) {
			if _, ok := seen[addr]; ok {
				continue
			}
			seen[addr] = struct{}{}
			out = append(out, addr)
		}
	}
	sort.Strings(out)
	return out
}

var (
	replyPrefix = regexp.MustCompile(`^(re|fwd?|aw|wg|sv|vs|antw|rv|tr|enc|回复|答复|转发|回覆|轉寄)\s*(\[\d+\])?\s*[:：]\s*`)
	trailingTag = regexp.MustCompile(`\s*(\[[^\[\]]*\]|\([^()]*\))\s*$`)
)

// NormalizeSubject lower-cases the subject, strips one leading reply/forward
// prefix and any trailing bracketed or parenthetical tags, and collapses whitespace.
func NormalizeSubject(subject string) string {
	s := strings.ToLower(strings.TrimSpace(subject))
	s = replyPrefix.ReplaceAllString(s, "")
	for {
		stripped := trailingTag.ReplaceAllString(s, "")
		if stripped == s {
			break
		}
		s = stripped
	}
	return strings.Join(strings.Fields(s), " ")
}

func headerValue(headers []Header, name string) string {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}
