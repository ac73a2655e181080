package middleware

import (
	"reflect"
	"strings"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// RegisterValidation makes the binding engine report field names from
// json tags so validation errors match the request body keys.
func RegisterValidation() {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return
	}
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return fld.Name
		}
		return name
	})
}

// ValidationMessage flattens binding validation errors into a single
// message listing the offending fields and failed rules. Returns false
// when err is not a validation error.
func ValidationMessage(err error) (string, bool) {
	errs, ok := err.(validator.ValidationErrors)
	if !ok {
		return "", false
	}
	parts := make([]string, 0, len(errs))
	for _, e := range errs {
		parts = append(parts, e.Field()+" failed "+e.Tag())
	}
	return "validation failed: " + strings.Join(parts, ", "), true
}
