package extract

import (
	"context"
	"errors"
	"testing"
	"time"

	"dietchat/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const formJSON = `{"type":"questions","message":"Tell me about you","form_fields":[
	{"key":"age","label":"Your age","field_type":"number","placeholder":"30","required":true},
	{"key":"goal","label":"Goal","field_type":"select","options":["lose weight"," ","gain muscle"]},
	{"key":"age","label":"Duplicate age","field_type":"number"},
	{"key":"","label":"No key","field_type":"text"},
	{"key":"notes","label":"Anything else","field_type":"textarea","options":["x"]}
]}`

func TestParseFormSpecFencedEqualsPlain(t *testing.T) {
	plain := ParseFormSpec(formJSON)
	fenced := ParseFormSpec("```json\n" + formJSON + "\n```")
	bareFence := ParseFormSpec("```\n" + formJSON + "```")
	withProse := ParseFormSpec("Sure! Here it is:\n" + formJSON + "\nHope that helps.")

	require.IsType(t, Parsed{}, plain)
	assert.Equal(t, plain, fenced)
	assert.Equal(t, plain, bareFence)
	assert.Equal(t, plain, withProse)

	spec := plain.(Parsed).Spec
	assert.Equal(t, models.FormTypeQuestions, spec.Type)
	assert.Equal(t, "Tell me about you", spec.Message)
	require.Len(t, spec.FormFields, 3)

	assert.Equal(t, "age", spec.FormFields[0].Key)
	assert.Equal(t, models.FieldNumber, spec.FormFields[0].FieldType)
	assert.True(t, spec.FormFields[0].Required)
	assert.Equal(t, "Your age", spec.FormFields[0].Label)

	assert.Equal(t, models.FieldSelect, spec.FormFields[1].FieldType)
	assert.Equal(t, []string{"lose weight", "gain muscle"}, spec.FormFields[1].Options)

	assert.Equal(t, models.FieldText, spec.FormFields[2].FieldType)
	assert.Nil(t, spec.FormFields[2].Options)
}

func TestParseFormSpecUnparsed(t *testing.T) {
	for _, raw := range []string{
		"I could not build a form.",
		"{not json}",
		"} backwards {",
		"",
	} {
		outcome := ParseFormSpec(raw)
		unparsed, ok := outcome.(Unparsed)
		require.True(t, ok, "raw %q should not parse", raw)
		assert.Equal(t, raw, unparsed.Raw)
		assert.Error(t, unparsed.Reason)
	}
}

func TestParseFormSpecSelectWithoutOptions(t *testing.T) {
	outcome := ParseFormSpec(`{"type":"Questions","form_fields":[{"key":"diet","label":"Diet","field_type":"select","options":[]}]}`)
	spec := outcome.(Parsed).Spec
	assert.Equal(t, models.FormTypeQuestions, spec.Type)
	require.Len(t, spec.FormFields, 1)
	assert.Equal(t, models.FieldText, spec.FormFields[0].FieldType)
}

type fakeGenerator struct {
	out    string
	err    error
	calls  int
	ctxErr error
	wait   time.Duration
}

func (f *fakeGenerator) Generate(ctx context.Context, system string, messages []models.Message) (string, error) {
	f.calls++
	if f.wait > 0 {
		select {
		case <-time.After(f.wait):
		case <-ctx.Done():
			f.ctxErr = ctx.Err()
			return "", ctx.Err()
		}
	}
	return f.out, f.err
}

const questionReply = "Before I build your plan:\n1. What is your age?\n2. What is your goal?"

func TestExtractQuestionBatch(t *testing.T) {
	gen := &fakeGenerator{out: "```json\n" + formJSON + "\n```"}
	spec := NewExtractor(gen, time.Second, nil).Extract(context.Background(), questionReply)
	assert.Equal(t, 1, gen.calls)
	assert.Equal(t, models.FormTypeQuestions, spec.Type)
	assert.Len(t, spec.FormFields, 3)
}

func TestExtractFallsBackToReply(t *testing.T) {
	gen := &fakeGenerator{out: "Sorry, no JSON today."}
	spec := NewExtractor(gen, time.Second, nil).Extract(context.Background(), questionReply)
	assert.Equal(t, Fallback(questionReply), spec)
	assert.NotNil(t, spec.FormFields)

	gen = &fakeGenerator{err: errors.New("503")}
	spec = NewExtractor(gen, time.Second, nil).Extract(context.Background(), questionReply)
	assert.Equal(t, Fallback(questionReply), spec)
}

func TestExtractSkipsModelForOtherKinds(t *testing.T) {
	gen := &fakeGenerator{out: formJSON}
	x := NewExtractor(gen, time.Second, nil)

	plan := x.Extract(context.Background(), "Breakfast: oats\nLunch: salad\nDinner: salmon")
	assert.Equal(t, models.FormTypePlan, plan.Type)

	free := x.Extract(context.Background(), "Spinach is rich in iron.")
	assert.Equal(t, models.FormTypeUnknown, free.Type)
	assert.Equal(t, "Spinach is rich in iron.", free.Message)

	assert.Zero(t, gen.calls)
}

func TestExtractHasOwnDeadline(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// The caller's context is already cancelled; the call still completes.
	gen := &fakeGenerator{out: formJSON, wait: 10 * time.Millisecond}
	spec := NewExtractor(gen, time.Second, nil).Extract(ctx, questionReply)
	assert.Equal(t, models.FormTypeQuestions, spec.Type)

	slow := &fakeGenerator{out: formJSON, wait: time.Second}
	spec = NewExtractor(slow, 20*time.Millisecond, nil).Extract(context.Background(), questionReply)
	assert.Equal(t, models.FormTypeUnknown, spec.Type)
	assert.ErrorIs(t, slow.ctxErr, context.DeadlineExceeded)
}
