// Package extract turns question-batch replies into renderable form fields.
package extract

import (
	"context"
	"log/slog"
	"time"

	"dietchat/internal/metrics"
	"dietchat/internal/models"
	"dietchat/internal/service/classify"
)

// DefaultTimeout bounds the extraction call independently of the caller.
const DefaultTimeout = 20 * time.Second

const systemInstruction = `You convert a nutritionist's questions into a form. Reply with JSON only, no prose and no markdown, in exactly this shape:
{"type":"questions","message":"<short intro for the form>","form_fields":[{"key":"<snake_case id>","label":"<question>","field_type":"text|number|select","options":["<only for select>"],"placeholder":"<hint>","required":true}]}
Use number for ages, heights, weights and amounts, select when the question lists choices, text otherwise. Give every field a unique key.`

// Generator is the non-streaming model call used for extraction.
type Generator interface {
	Generate(ctx context.Context, system string, messages []models.Message) (string, error)
}

type Extractor struct {
	model   Generator
	timeout time.Duration
	logger  *slog.Logger
}

func NewExtractor(model Generator, timeout time.Duration, logger *slog.Logger) *Extractor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{model: model, timeout: timeout, logger: logger}
}

// Fallback is the result used whenever no structured form is available.
func Fallback(reply string) models.FormSpec {
	return models.FormSpec{
		Type:       models.FormTypeUnknown,
		Message:    reply,
		FormFields: []models.FormField{},
	}
}

// Extract never fails. Only question batches reach the model; plans and
// freeform replies short-circuit. The model call gets its own deadline and
// is not cancelled with ctx.
func (e *Extractor) Extract(ctx context.Context, reply string) models.FormSpec {
	switch classify.Classify(reply) {
	case classify.KindPlan:
		metrics.Extractions.WithLabelValues("skipped").Inc()
		return models.FormSpec{Type: models.FormTypePlan, Message: reply, FormFields: []models.FormField{}}
	case classify.KindFreeform:
		metrics.Extractions.WithLabelValues("skipped").Inc()
		return Fallback(reply)
	}

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
	defer cancel()
	out, err := e.model.Generate(callCtx, systemInstruction, []models.Message{
		{Role: models.RoleUser, Content: "Analyze this response:\n\n" + reply},
	})
	if err != nil {
		metrics.Extractions.WithLabelValues("failed").Inc()
		e.logger.WarnContext(ctx, "form extraction call failed", "error", err)
		return Fallback(reply)
	}

	switch result := ParseFormSpec(out).(type) {
	case Parsed:
		metrics.Extractions.WithLabelValues("parsed").Inc()
		spec := result.Spec
		if spec.Message == "" {
			spec.Message = reply
		}
		return spec
	case Unparsed:
		metrics.Extractions.WithLabelValues("unparsed").Inc()
		e.logger.WarnContext(ctx, "form extraction output not parseable", "error", result.Reason)
	}
	return Fallback(reply)
}
