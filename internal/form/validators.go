package form

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/mohammed-shakir/imagery-composer/internal/core/model"
)

// Error keys reported by the built-in validators.
const (
	ErrRequired  = "required"
	ErrDate      = "date"
	ErrInteger   = "integer"
	ErrMin       = "min"
	ErrMax       = "max"
	ErrDateOrder = "dateOrder"
)

// Validator returns an error key, or "" when the value is acceptable.
type Validator func(value string) string

// GroupValidator inspects the whole form and returns control name -> error key.
type GroupValidator func(f *Form) map[string]string

var validate = newValidate()

func newValidate() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.RegisterValidation("integer", func(fl validator.FieldLevel) bool {
		_, err := strconv.Atoi(fl.Field().String())
		return err == nil
	}); err != nil {
		panic(err)
	}
	return v
}

// tag -> error key exposed on the form
var tagKeys = map[string]string{
	"required": ErrRequired,
	"datetime": ErrDate,
	"integer":  ErrInteger,
	"min":      ErrMin,
	"max":      ErrMax,
	"gtefield": ErrDateOrder,
}

func errorKey(err error) string {
	if err == nil {
		return ""
	}
	var ve validator.ValidationErrors
	if errors.As(err, &ve) && len(ve) > 0 {
		if k, ok := tagKeys[ve[0].Tag()]; ok {
			return k
		}
		return ve[0].Tag()
	}
	return err.Error()
}

// rule checks the trimmed value against a validator tag.
func rule(tag string) Validator {
	return func(v string) string {
		return errorKey(validate.Var(strings.TrimSpace(v), tag))
	}
}

func Required() Validator { return rule("required") }

// Date accepts empty values; pair it with Required.
func Date() Validator { return rule("omitempty,datetime=" + model.DateLayout) }

func Integer() Validator { return rule("omitempty,integer") }

// Min fails numeric values below n; non-numeric values are left to Integer.
func Min(n float64) Validator {
	return bound("min=" + strconv.FormatFloat(n, 'f', -1, 64))
}

func Max(n float64) Validator {
	return bound("max=" + strconv.FormatFloat(n, 'f', -1, 64))
}

func bound(tag string) Validator {
	return func(v string) string {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return ""
		}
		return errorKey(validate.Var(f, tag))
	}
}

type dateRange struct {
	From time.Time
	To   time.Time `validate:"gtefield=From"`
}

// DateOrder requires to >= from once both parse.
func DateOrder(from, to string) GroupValidator {
	return func(f *Form) map[string]string {
		fc, tc := f.Get(from), f.Get(to)
		if fc == nil || tc == nil {
			return nil
		}
		a, errA := model.ParseDate(fc.Value)
		b, errB := model.ParseDate(tc.Value)
		if errA != nil || errB != nil {
			return nil
		}
		if k := errorKey(validate.Struct(dateRange{From: a.Time, To: b.Time})); k != "" {
			return map[string]string{to: k}
		}
		return nil
	}
}
