package models

type FieldType string

const (
	FieldText   FieldType = "text"
	FieldNumber FieldType = "number"
	FieldSelect FieldType = "select"
)

const (
	FormTypeQuestions = "questions"
	FormTypePlan      = "plan"
	FormTypeUnknown   = "unknown"
)

// FormField describes one input the client should render for a question batch.
type FormField struct {
	Key         string    `json:"key"`
	Label       string    `json:"label"`
	FieldType   FieldType `json:"field_type"`
	Options     []string  `json:"options,omitempty"`
	Placeholder string    `json:"placeholder,omitempty"`
	Required    bool      `json:"required,omitempty"`
}

// FormSpec is the structured reading of an assistant reply.
type FormSpec struct {
	Type       string      `json:"type"`
	Message    string      `json:"message"`
	FormFields []FormField `json:"form_fields"`
}
