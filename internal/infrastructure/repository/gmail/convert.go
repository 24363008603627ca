package gmail

import (
	"google.golang.org/api/gmail/v1"

	"github.com/huavcjj/threadsync/internal/domain/mail"
)

func toRawMessage(m *gmail.Message) *mail.RawMessage {
	return &mail.RawMessage{
		ID:           m.Id,
		ThreadID:     m.ThreadId,
		LabelIDs:     m.LabelIds,
		Snippet:      m.Snippet,
		InternalDate: m.InternalDate,
		Payload:      toMimePart(m.Payload),
	}
}

// toMimePart copies the provider part tree without recursion.
func toMimePart(root *gmail.MessagePart) *mail.MimePart {
	if root == nil {
		return nil
	}

	type pending struct {
		src *gmail.MessagePart
		dst *mail.MimePart
	}

	out := &mail.MimePart{}
	stack := []pending{{src: root, dst: out}}
	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		p.dst.PartID = p.src.PartId
		p.dst.MimeType = p.src.MimeType
		p.dst.Filename = p.src.Filename
		for _, h := range p.src.Headers {
			if h != nil {
				p.dst.Headers = append(p.dst.Headers, mail.Header{Name: h.Name, Value: h.Value})
			}
		}
		if b := p.src.Body; b != nil {
			p.dst.Body = mail.PartBody{Data: b.Data, AttachmentID: b.AttachmentId, Size: b.Size}
		}

		for _, child := range p.src.Parts {
			if child == nil {
				continue
			}
			dst := &mail.MimePart{}
			p.dst.Parts = append(p.dst.Parts, dst)
			stack = append(stack, pending{src: child, dst: dst})
		}
	}
	return out
}
