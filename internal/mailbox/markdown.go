package mailbox

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
	"google.golang.org/api/gmail/v1"
)

// headers worth keeping in the rendered item
var interestingHeaders = map[string]bool{
	"From":    true,
	"To":      true,
	"Date":    true,
	"Subject": true,
}

const partSeparator = "--------------------------------------------------------------------------------"

// Renderer turns a Gmail message into the markdown text stored as item content
type Renderer struct {
	md     *converter.Converter
	policy *bluemonday.Policy
}

func NewRenderer() *Renderer {
	return &Renderer{
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
		policy: bluemonday.UGCPolicy(),
	}
}

// Markdown renders labels, thread and every part (payload first, nested parts after)
func (r *Renderer) Markdown(msg *gmail.Message) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "labels: %s\n", strings.Join(msg.LabelIds, ", "))
	fmt.Fprintf(&b, "thread: %s\n", msg.ThreadId)
	if msg.Payload != nil {
		if err := r.writePart(&b, msg.Payload); err != nil {
			return "", fmt.Errorf("message %s: %w", msg.Id, err)
		}
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (r *Renderer) writePart(b *strings.Builder, part *gmail.MessagePart) error {
	b.WriteString(partSeparator + "\n")
	for _, h := range part.Headers {
		if interestingHeaders[h.Name] {
			fmt.Fprintf(b, "%s: %s\n", h.Name, h.Value)
		}
	}
	b.WriteString("\n")

	body, err := r.body(part)
	if err != nil {
		return err
	}
	if body != "" {
		b.WriteString(body)
		b.WriteString("\n")
	}
	for _, p := range part.Parts {
		if err := r.writePart(b, p); err != nil {
			return err
		}
	}
	return nil
}

// body decodes the inline data of a part. Attachments referenced by
// attachmentId are skipped.
func (r *Renderer) body(part *gmail.MessagePart) (string, error) {
	if part.Body == nil || part.Body.Size == 0 || part.Body.Data == "" {
		return "", nil
	}
	raw, err := decodeBase64URL(part.Body.Data)
	if err != nil {
		return "", fmt.Errorf("failed to decode part %q: %w", part.PartId, err)
	}
	text := string(raw)
	if part.MimeType == "text/html" || strings.Contains(strings.ToLower(text), "<html") {
		return r.htmlToMarkdown(text)
	}
	return strings.TrimSpace(text), nil
}

func (r *Renderer) htmlToMarkdown(html string) (string, error) {
	clean := r.policy.Sanitize(html)
	md, err := r.md.ConvertString(clean)
	if err != nil {
		return "", fmt.Errorf("failed to convert html: %w", err)
	}
	return strings.TrimSpace(md), nil
}

func decodeBase64URL(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if out, err := base64.URLEncoding.DecodeString(s); err == nil {
		return out, nil
	}
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}
