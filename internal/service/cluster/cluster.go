package cluster

import (
	"slices"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/huavcjj/threadsync/internal/domain/mail"
)

// Thresholds are the merge conditions. All three must hold.
type Thresholds struct {
	MinParticipantOverlap float64
	MinSubjectSimilarity  float64
	MaxDateGap            time.Duration
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		MinParticipantOverlap: 0.5,
		MinSubjectSimilarity:  0.6,
		MaxDateGap:            30 * 24 * time.Hour,
	}
}

func (t Thresholds) Allows(overlap, similarity float64, gap time.Duration) bool {
	if gap < 0 {
		gap = -gap
	}
	return overlap >= t.MinParticipantOverlap &&
		similarity >= t.MinSubjectSimilarity &&
		gap <= t.MaxDateGap
}

type Clusterer struct {
	thresholds Thresholds
}

func NewClusterer(t Thresholds) *Clusterer {
	return &Clusterer{thresholds: t}
}

// Cluster merges conversations that look like one exchange. Each seed is the
// most recent unclaimed conversation and candidates are compared against the
// seed only, so a chain of small subject changes cannot drift into one cluster.
func (c *Clusterer) Cluster(conversations []mail.Conversation) []mail.ConversationCluster {
	ordered := slices.Clone(conversations)
	slices.SortStableFunc(ordered, func(a, b mail.Conversation) int {
		return b.LastTimestamp.Compare(a.LastTimestamp)
	})

	profiles := make([]profile, len(ordered))
	for i, conv := range ordered {
		profiles[i] = newProfile(conv)
	}

	claimed := make([]bool, len(ordered))
	clusters := make([]mail.ConversationCluster, 0, len(ordered))
	for i := range ordered {
		if claimed[i] {
			continue
		}
		claimed[i] = true
		members := []mail.Conversation{ordered[i]}

		for j := i + 1; j < len(ordered); j++ {
			if claimed[j] {
				continue
			}
			if c.matches(profiles[i], profiles[j]) {
				claimed[j] = true
				members = append(members, ordered[j])
			}
		}
		clusters = append(clusters, merge(members))
	}

	slices.SortStableFunc(clusters, func(a, b mail.ConversationCluster) int {
		return b.LastTimestamp.Compare(a.LastTimestamp)
	})
	return clusters
}

func (c *Clusterer) matches(seed, candidate profile) bool {
	overlap := jaccard(seed.participants, candidate.participants)
	similarity := dice(seed, candidate)
	return c.thresholds.Allows(overlap, similarity, seed.last.Sub(candidate.last))
}

type profile struct {
	subject      string
	words        map[string]struct{}
	participants map[string]struct{}
	last         time.Time
}

func newProfile(conv mail.Conversation) profile {
	p := profile{
		subject:      mail.NormalizeSubject(conv.Subject),
		participants: make(map[string]struct{}, len(conv.Participants)),
		last:         conv.LastTimestamp,
	}
	p.words = subjectWords(p.subject)
	for _, addr := range conv.Participants {
		if a := mail.NormalizeAddress(addr); a != "" {
			p.participants[a] = struct{}{}
		}
	}
	return p
}

// SubjectSimilarity is the Dice coefficient of the significant words of two
// subjects after normalization.
func SubjectSimilarity(a, b string) float64 {
	pa := profile{subject: mail.NormalizeSubject(a)}
	pa.words = subjectWords(pa.subject)
	pb := profile{subject: mail.NormalizeSubject(b)}
	pb.words = subjectWords(pb.subject)
	return dice(pa, pb)
}

// ParticipantOverlap is the Jaccard index of two address lists after normalization.
func ParticipantOverlap(a, b []string) float64 {
	return jaccard(addressSet(a), addressSet(b))
}

func dice(a, b profile) float64 {
	if a.subject == "" || b.subject == "" {
		return 0
	}
	if a.subject == b.subject {
		return 1
	}
	if len(a.words) == 0 || len(b.words) == 0 {
		return 0
	}
	shared := 0
	for w := range a.words {
		if _, ok := b.words[w]; ok {
			shared++
		}
	}
	return float64(2*shared) / float64(len(a.words)+len(b.words))
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	shared := 0
	for addr := range a {
		if _, ok := b[addr]; ok {
			shared++
		}
	}
	union := len(a) + len(b) - shared
	return float64(shared) / float64(union)
}

func subjectWords(normalized string) map[string]struct{} {
	words := make(map[string]struct{})
	for _, w := range strings.FieldsFunc(normalized, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	}) {
		if utf8.RuneCountInString(w) > 2 {
			words[w] = struct{}{}
		}
	}
	return words
}

func addressSet(list []string) map[string]struct{} {
	set := make(map[string]struct{}, len(list))
	for _, addr := range list {
		if a := mail.NormalizeAddress(addr); a != "" {
			set[a] = struct{}{}
		}
	}
	return set
}

// merge builds the cluster for members[0] (the seed) and the conversations it claimed.
func merge(members []mail.Conversation) mail.ConversationCluster {
	seed := members[0]
	cl := mail.ConversationCluster{
		ID:            seed.ID,
		Members:       members,
		Subject:       seed.Subject,
		LastDate:      seed.LastDate,
		LastTimestamp: seed.LastTimestamp,
	}

	var addrs []string
	for _, m := range members {
		cl.MessageCount += m.MessageCount
		cl.UnreadCount += m.UnreadCount
		addrs = append(addrs, m.Participants...)
		if m.LastTimestamp.After(cl.LastTimestamp) {
			cl.LastTimestamp = m.LastTimestamp
			cl.LastDate = m.LastDate
		}
	}
	cl.Participants = mail.Participants(addrs...)
	if cl.Participants == nil {
		cl.Participants = []string{}
	}
	return cl
}
