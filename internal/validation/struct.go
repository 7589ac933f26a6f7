package validation

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = v.RegisterValidation("order_code", func(fl validator.FieldLevel) bool {
		return IsValidOrderCode(fl.Field().String())
	})
	_ = v.RegisterValidation("redemption_code", func(fl validator.FieldLevel) bool {
		return IsValidRedemptionCode(NormalizeCode(fl.Field().String()))
	})

	return v
}

// Struct проверяет структуру по тегам validate и возвращает ошибки по именам JSON-полей.
func Struct(s any) map[string]string {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return map[string]string{"": err.Error()}
	}

	res := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), rootName(fe))
		if field == "" {
			field = fe.Field()
		}
		res[field] = message(fe)
	}
	return res
}

func rootName(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[:i+1]
	}
	return ""
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "field is required"
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	case "lte", "max":
		return "must be at most " + fe.Param()
	case "min":
		return "must contain at least " + fe.Param() + " element(s)"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "gtefield":
		return "must not be less than " + fe.Param()
	case "order_code":
		return "must be 25 digits"
	case "redemption_code":
		return "must be 8 uppercase letters or digits"
	default:
		return "invalid value"
	}
}
