package config

import (
	"reflect"
	"time"

	"github.com/invopop/jsonschema"
)

var durationType = reflect.TypeOf(time.Duration(0))

// JSONSchema describes the YAML file accepted by the loader. Property names
// follow the koanf keys; durations are strings such as "250ms".
func JSONSchema() *jsonschema.Schema {
	reflector := &jsonschema.Reflector{
		FieldNameTag:               "koanf",
		RequiredFromJSONSchemaTags: true,
		AllowAdditionalProperties:  false,
		DoNotReference:             true,
		Mapper: func(t reflect.Type) *jsonschema.Schema {
			if t == durationType {
				return &jsonschema.Schema{Type: "string", Format: "duration"}
			}
			return nil
		},
	}
	schema := reflector.Reflect(&Config{})
	schema.Title = "strata configuration"
	return schema
}
