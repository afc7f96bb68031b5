package chat

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"dietchat/internal/models"

	"github.com/go-playground/validator/v10"
)

// Limits enforced by the struct tags below.
const (
	MaxMessages      = 50
	MaxContentLength = 4000
)

// Request is the body of a chat call.
type Request struct {
	Messages     []models.Message `json:"messages" validate:"required,min=1,max=50,dive"`
	EnableSearch *bool            `json:"enableSearch,omitempty"`
	ChatID       string           `json:"chatId,omitempty" validate:"max=64"`
}

// Normalized is a request that passed validation.
type Normalized struct {
	Messages     []models.Message
	EnableSearch bool
	ChatID       string
}

// LatestUserTurn returns the content of the last user message.
func (n Normalized) LatestUserTurn() (string, bool) {
	for i := len(n.Messages) - 1; i >= 0; i-- {
		if n.Messages[i].Role == models.RoleUser {
			return n.Messages[i].Content, true
		}
	}
	return "", false
}

// FirstUserTurn returns the content of the first user message.
func (n Normalized) FirstUserTurn() string {
	for _, msg := range n.Messages {
		if msg.Role == models.RoleUser {
			return msg.Content
		}
	}
	return ""
}

// FieldError is one machine-readable validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// ValidationError lists every failed constraint of a request.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "invalid request: " + strings.Join(parts, "; ")
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	return v
}

// Validate checks req and returns its normalized form. It has no side
// effects. Search defaults to enabled.
func Validate(req Request) (Normalized, error) {
	req.ChatID = strings.TrimSpace(req.ChatID)
	if err := validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return Normalized{}, fmt.Errorf("validate request: %w", err)
		}
		return Normalized{}, toValidationError(verrs)
	}
	enable := true
	if req.EnableSearch != nil {
		enable = *req.EnableSearch
	}
	return Normalized{Messages: req.Messages, EnableSearch: enable, ChatID: req.ChatID}, nil
}

func toValidationError(verrs validator.ValidationErrors) *ValidationError {
	out := &ValidationError{Fields: make([]FieldError, 0, len(verrs))}
	for _, fe := range verrs {
		field := fe.Namespace()
		if i := strings.IndexByte(field, '.'); i >= 0 {
			field = field[i+1:]
		}
		out.Fields = append(out.Fields, FieldError{
			Field:   field,
			Rule:    fe.Tag(),
			Message: describe(fe),
		})
	}
	return out
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "notblank":
		return "must not be blank"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "min":
		return "must contain at least " + fe.Param() + " item(s)"
	case "max":
		if fe.Kind() == reflect.String {
			return "must be at most " + fe.Param() + " characters"
		}
		return "must contain at most " + fe.Param() + " item(s)"
	default:
		return "failed " + fe.Tag() + " check"
	}
}
