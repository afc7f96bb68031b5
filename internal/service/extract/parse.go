package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"dietchat/internal/models"
)

var errNoObject = errors.New("no JSON object in reply")

// Outcome is either Parsed or Unparsed.
type Outcome interface {
	isOutcome()
}

// Parsed carries a decoded and normalized form spec.
type Parsed struct {
	Spec models.FormSpec
}

// Unparsed carries the raw model output and why it could not be decoded.
type Unparsed struct {
	Raw    string
	Reason error
}

func (Parsed) isOutcome()   {}
func (Unparsed) isOutcome() {}

// ParseFormSpec decodes the extractor model output. Markdown fences and any
// prose around the outermost JSON object are ignored.
func ParseFormSpec(raw string) Outcome {
	body := stripFence(raw)
	start := strings.IndexByte(body, '{')
	end := strings.LastIndexByte(body, '}')
	if start < 0 || end <= start {
		return Unparsed{Raw: raw, Reason: errNoObject}
	}

	var spec models.FormSpec
	if err := json.Unmarshal([]byte(body[start:end+1]), &spec); err != nil {
		return Unparsed{Raw: raw, Reason: fmt.Errorf("decode form spec: %w", err)}
	}
	spec.Type = strings.ToLower(strings.TrimSpace(spec.Type))
	if spec.Type == "" {
		spec.Type = models.FormTypeUnknown
	}
	spec.FormFields = normalizeFields(spec.FormFields)
	return Parsed{Spec: spec}
}

func stripFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	// Drop the opening fence line, which may carry a language tag.
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "```")
	}
	s = strings.TrimSpace(s)
	return strings.TrimSpace(strings.TrimSuffix(s, "```"))
}

// normalizeFields drops entries without a key or label and repeated keys,
// coerces unknown kinds to text and keeps options for selects only.
func normalizeFields(fields []models.FormField) []models.FormField {
	out := make([]models.FormField, 0, len(fields))
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		f.Key = strings.TrimSpace(f.Key)
		f.Label = strings.TrimSpace(f.Label)
		if f.Key == "" || f.Label == "" {
			continue
		}
		if _, dup := seen[f.Key]; dup {
			continue
		}
		seen[f.Key] = struct{}{}

		switch models.FieldType(strings.ToLower(string(f.FieldType))) {
		case models.FieldNumber:
			f.FieldType = models.FieldNumber
		case models.FieldSelect:
			f.FieldType = models.FieldSelect
		default:
			f.FieldType = models.FieldText
		}
		if f.FieldType == models.FieldSelect {
			f.Options = cleanOptions(f.Options)
			if len(f.Options) == 0 {
				f.FieldType = models.FieldText
			}
		}
		if f.FieldType != models.FieldSelect {
			f.Options = nil
		}
		out = append(out, f)
	}
	return out
}

func cleanOptions(options []string) []string {
	out := options[:0:0]
	for _, o := range options {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
