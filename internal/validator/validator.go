package validator

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	govalidator "github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"

	"github.com/stemsi/exstem-grader/internal/model"
)

var (
	// trans is the singleton English translator for validation errors.
	trans ut.Translator

	once       sync.Once
	standalone *govalidator.Validate
)

func init() {
	enLocale := en.New()
	uni := ut.New(enLocale, enLocale)
	trans, _ = uni.GetTranslator("en")
}

// Setup registers the custom rules and English translations on Gin's binding engine.
// Call once during application startup.
func Setup() {
	if v, ok := binding.Validator.Engine().(*govalidator.Validate); ok {
		configure(v)
	}
}

// Struct validates v using its `validate` tags, outside of any HTTP request.
// Returns nil on success or a translated field error map on failure.
func Struct(v interface{}) map[string]string {
	once.Do(func() {
		standalone = govalidator.New(govalidator.WithRequiredStructEnabled())
		configure(standalone)
	})
	if err := standalone.Struct(v); err != nil {
		return TranslateErrors(err)
	}
	return nil
}

func configure(v *govalidator.Validate) {
	// Use JSON tag name for field names in error messages.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = v.RegisterValidation("question_kind", func(fl govalidator.FieldLevel) bool {
		_, err := model.ParseQuestionKind(fl.Field().String())
		return err == nil
	})

	_ = en_translations.RegisterDefaultTranslations(v, trans)
	_ = v.RegisterTranslation("question_kind", trans,
		func(t ut.Translator) error {
			return t.Add("question_kind", "{0} must be one of choice, judge, fill, code", true)
		},
		func(t ut.Translator, fe govalidator.FieldError) string {
			msg, _ := t.T("question_kind", fe.Field())
			return msg
		},
	)
}

// TranslateErrors takes a binding/validation error and returns a map of
// field name → human-readable error message. If the error is not a
// validation error, it returns a single-key map with "detail".
func TranslateErrors(err error) map[string]string {
	fields := make(map[string]string)

	var ve govalidator.ValidationErrors
	if errors.As(err, &ve) {
		for _, fe := range ve {
			fields[fieldPath(fe)] = fe.Translate(trans)
		}
		return fields
	}

	// Not a validation error (e.g., JSON syntax error).
	fields["detail"] = err.Error()
	return fields
}

// fieldPath drops the root struct name so nested errors read "questions[0].kind".
func fieldPath(fe govalidator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

// Bind binds and validates the request body into dst.
// Returns nil on success or a translated field error map on failure.
func Bind(c *gin.Context, dst interface{}) map[string]string {
	if err := c.ShouldBindJSON(dst); err != nil {
		return TranslateErrors(err)
	}
	return nil
}
