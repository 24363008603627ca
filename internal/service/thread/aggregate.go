package thread

import (
	"cmp"
	"slices"
	"strings"

	"github.com/huavcjj/threadsync/internal/domain/mail"
)

const synthesizedPrefix = "subject:"

type group struct {
	emails []mail.ProcessedEmail
	unread int
}

// Aggregate groups emails into conversations keyed by thread id, or by a
// subject-plus-participants key for messages without one. Emails within a
// conversation are ascending by time; conversations are most recent first.
func Aggregate(emails []mail.ProcessedEmail) []mail.Conversation {
	keys := make([]string, 0)
	groups := make(map[string]*group)

	for _, e := range emails {
		key := GroupKey(e)
		g, ok := groups[key]
		if !ok {
			g = &group{}
			groups[key] = g
			keys = append(keys, key)
		}
		g.emails = append(g.emails, e)
		if !e.IsRead {
			g.unread++
		}
	}

	conversations := make([]mail.Conversation, 0, len(keys))
	for _, key := range keys {
		conversations = append(conversations, build(key, groups[key]))
	}

	slices.SortStableFunc(conversations, func(a, b mail.Conversation) int {
		return b.LastTimestamp.Compare(a.LastTimestamp)
	})
	return conversations
}

// GroupKey returns the thread id, or the synthesized key when it is empty.
func GroupKey(e mail.ProcessedEmail) string {
	if id := strings.TrimSpace(e.ThreadID); id != "" {
		return id
	}
	return synthesizedPrefix + mail.NormalizeSubject(e.Subject) + "|" +
		strings.Join(mail.Participants(e.From, e.To), ",")
}

func build(key string, g *group) mail.Conversation {
	slices.SortStableFunc(g.emails, func(a, b mail.ProcessedEmail) int {
		return cmp.Compare(a.Timestamp().UnixNano(), b.Timestamp().UnixNano())
	})

	conv := mail.Conversation{
		ID:           key,
		MessageCount: len(g.emails),
		UnreadCount:  g.unread,
		Emails:       g.emails,
	}

	addrs := make([]string, 0, 2*len(g.emails))
	for _, e := range g.emails {
		if conv.Subject == "" {
			conv.Subject = e.Subject
		}
		addrs = append(addrs, e.From, e.To)
	}
	conv.Participants = mail.Participants(addrs...)
	if conv.Participants == nil {
		conv.Participants = []string{}
	}

	// After the sort the newest email is last; ties keep input order.
	last := g.emails[len(g.emails)-1]
	conv.LastDate = last.Date
	conv.LastTimestamp = last.Timestamp()
	return conv
}
