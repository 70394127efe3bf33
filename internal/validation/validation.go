package validation

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

const notBlankTag = "notblank"

// Validator wraps validator.Validate with JSON field names and English messages.
type Validator struct {
	v  *validator.Validate
	tr ut.Translator
}

// New builds a validator with the notblank tag registered.
func New() *Validator {
	v := validator.New()

	english := en.New()
	uni := ut.New(english, english)
	tr, _ := uni.GetTranslator("en")
	_ = en_translations.RegisterDefaultTranslations(v, tr)

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = v.RegisterValidation(notBlankTag, func(fl validator.FieldLevel) bool {
		if s, ok := fl.Field().Interface().(string); ok {
			return strings.TrimSpace(s) != ""
		}
		return false
	})
	_ = v.RegisterTranslation(notBlankTag, tr, func(ut.Translator) error { return nil },
		func(_ ut.Translator, fe validator.FieldError) string {
			return fe.Field() + " cannot be blank"
		})

	return &Validator{v: v, tr: tr}
}

// Struct validates s and returns *Error when any field fails.
func (v *Validator) Struct(s any) error {
	err := v.v.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fe.Translate(v.tr)
	}
	return &Error{Fields: fields}
}

// Error lists failing fields keyed by JSON name.
type Error struct {
	Fields map[string]string
}

func (e *Error) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for f, msg := range e.Fields {
		parts = append(parts, f+": "+msg)
	}
	return "invalid input: " + strings.Join(parts, "; ")
}
