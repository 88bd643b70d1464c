// Package validator wraps go-playground/validator with English messages.
package validator

import (
	"context"
	"errors"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

// Validate is the shared validator instance.
var Validate = New()

// Validator validates structs tagged with `validate:"..."`.
type Validator struct {
	validate *validator.Validate
	trans    ut.Translator
}

type Option func(*Validator)

// WithTagName changes the struct tag the validator reads.
func WithTagName(name string) Option {
	return func(v *Validator) {
		v.validate.SetTagName(name)
	}
}

func New(opts ...Option) *Validator {
	locale := en.New()
	trans, _ := ut.New(locale, locale).GetTranslator("en")

	v := &Validator{
		validate: validator.New(validator.WithRequiredStructEnabled()),
		trans:    trans,
	}
	_ = en_translations.RegisterDefaultTranslations(v.validate, trans)

	for _, opt := range opts {
		opt(v)
	}
	return v
}

func (v *Validator) Struct(s any) error {
	return v.StructCtx(context.Background(), s)
}

func (v *Validator) StructCtx(ctx context.Context, s any) error {
	if s == nil {
		return errors.New("validation target cannot be nil")
	}
	return v.translate(v.validate.StructCtx(ctx, s))
}

// Engine exposes the underlying validator, e.g. for registering custom rules.
func (v *Validator) Engine() *validator.Validate {
	return v.validate
}

func (v *Validator) translate(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	fields := make([]FieldError, 0, len(verrs))
	messages := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		f := FieldError{
			Namespace: fe.Namespace(),
			Field:     fe.Field(),
			Tag:       fe.Tag(),
			Message:   fe.Translate(v.trans),
		}
		fields = append(fields, f)
		messages = append(messages, f.Message)
	}
	return &ValidationErrors{Fields: fields, message: strings.Join(messages, "; ")}
}

// FieldError describes a single failed rule.
type FieldError struct {
	Namespace string `json:"namespace"`
	Field     string `json:"field"`
	Tag       string `json:"tag"`
	Message   string `json:"message"`
}

// ValidationErrors collects every failed rule of one validation run.
type ValidationErrors struct {
	Fields  []FieldError
	message string
}

func (e *ValidationErrors) Error() string {
	return e.message
}

// Has reports whether a field with the given namespace or name failed.
func (e *ValidationErrors) Has(field string) bool {
	for _, f := range e.Fields {
		if f.Field == field || f.Namespace == field {
			return true
		}
	}
	return false
}
