package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/render"
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
	return v
}

// rawString accepts either a JSON string or any other JSON value, which is
// kept as its raw text. The H5P editor posts params both ways.
type rawString string

func (s *rawString) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = rawString(v)
		return nil
	}
	if string(data) == "null" {
		*s = ""
		return nil
	}
	*s = rawString(data)
	return nil
}

// decodeAndValidate decodes a JSON or form body into dst and validates it.
// A non-nil map holds field errors keyed by JSON name.
func decodeAndValidate(r *http.Request, dst any) (map[string][]string, error) {
	if err := render.Decode(r, dst); err != nil {
		return nil, fmt.Errorf("invalid request body: %w", err)
	}
	return validateStruct(dst), nil
}

func validateStruct(v any) map[string][]string {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return map[string][]string{"_": {err.Error()}}
	}
	errs := make(map[string][]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		errs[fe.Field()] = append(errs[fe.Field()], validationMessage(fe))
	}
	return errs
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("The %s field is required.", fe.Field())
	case "max":
		return fmt.Sprintf("The %s field must not be greater than %s characters.", fe.Field(), fe.Param())
	case "json":
		return fmt.Sprintf("The %s field must be a valid JSON string.", fe.Field())
	case "uri":
		return fmt.Sprintf("The %s field must be a valid URL.", fe.Field())
	default:
		return fmt.Sprintf("The %s field is invalid (%s).", fe.Field(), fe.Tag())
	}
}
