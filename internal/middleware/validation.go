package middleware

import (
	"reflect"
	"strings"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/PauFou/form-builder-sub001/internal/model"
)

var knownEventTypes = map[string]struct{}{
	model.EventSubmissionCompleted: {},
	model.EventSubmissionPartial:   {},
	model.EventFormPublished:       {},
}

// RegisterValidators installs domain validators on gin's binding engine.
// Call once at startup before any request is served.
func RegisterValidators() {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return
	}

	if err := v.RegisterValidation("event_type", func(fl validator.FieldLevel) bool {
		_, known := knownEventTypes[fl.Field().String()]
		return known
	}); err != nil {
		panic(err)
	}

	// Report field names as their json tags so binding errors match the
	// wire format.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return fld.Name
		}
		return name
	})
}
