package config

import (
	"reflect"
	"sync"
)

// envToPath maps every `env` struct tag of Config to its koanf path.
var envToPath = sync.OnceValue(func() map[string]string {
	out := make(map[string]string)
	collectEnv(reflect.TypeOf(Config{}), "", out)
	return out
})

func collectEnv(t reflect.Type, prefix string, out map[string]string) {
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get("koanf")
		if !field.IsExported() || tag == "" || tag == "-" {
			continue
		}
		path := tag
		if prefix != "" {
			path = prefix + "." + tag
		}
		if env := field.Tag.Get("env"); env != "" && env != "-" {
			out[env] = path
		}
		if field.Type.Kind() == reflect.Struct && field.Type.PkgPath() != "time" {
			collectEnv(field.Type, path, out)
		}
	}
}

// EnvVarFor returns the environment variable bound to a config path.
func EnvVarFor(path string) string {
	for env, p := range envToPath() {
		if p == path {
			return env
		}
	}
	return ""
}
