package dispatch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mailtriage/internal/llm"
	"github.com/mailtriage/pkg/models"
)

var classificationFields = []string{"author", "time_received", "urgent", "important", "spam", "summary", "action"}

// ParseClassification decodes the model's first answer. A surrounding
// ```json fence is stripped first; with repair set, text that does not parse
// is passed through jsonrepair once. Every field must be present, the text
// fields non-empty and time_received a recognised timestamp.
func ParseClassification(text string, repair bool) (*models.Classification, error) {
	body := llm.StripCodeFence(text)
	if repair {
		if fixed, _, err := llm.RepairJSON(body); err == nil {
			body = fixed
		}
	}
	trimmed := bytes.TrimSpace([]byte(body))
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: not a JSON object", ErrMalformedClassification)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedClassification, err)
	}
	var missing []string
	for _, f := range classificationFields {
		if v, ok := raw[f]; !ok || string(bytes.TrimSpace(v)) == "null" {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing %s", ErrMalformedClassification, strings.Join(missing, ", "))
	}

	var c models.Classification
	if err := json.Unmarshal(trimmed, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedClassification, err)
	}
	for name, v := range map[string]string{"author": c.Author, "summary": c.Summary, "action": c.Action} {
		if strings.TrimSpace(v) == "" {
			return nil, fmt.Errorf("%w: empty %s", ErrMalformedClassification, name)
		}
	}
	if _, err := c.ReceivedAt(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedClassification, err)
	}
	return &c, nil
}
