package config

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. COURSEQUIZ_HTTP_PORT.
const EnvPrefix = "COURSEQUIZ"

// Load config into the config struct, config must be a pointer to the config struct.
// Values already set in config act as defaults, then the file, then the environment.
// An empty file name loads defaults and environment only.
func Load(file string, config any) error {
	v := viper.New()

	m, err := toMap(config)
	if err != nil {
		return fmt.Errorf("mapstructure: %v", err)
	}

	// Every key must be known to viper for AutomaticEnv to apply, including nested ones the file does not set.
	if err := v.MergeConfigMap(m); err != nil {
		return fmt.Errorf("merge config map: %v", err)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.MergeInConfig(); err != nil {
			return fmt.Errorf("read config from file %s: %v", file, err)
		}
	}

	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("unmarshal config: %v", err)
	}

	return nil
}

// toMap decodes a struct into nested maps, one level per struct field.
func toMap(in any) (map[string]any, error) {
	m := make(map[string]any)
	if err := mapstructure.Decode(in, &m); err != nil {
		return nil, err
	}

	for k, val := range m {
		rv := reflect.ValueOf(val)
		if rv.Kind() == reflect.Pointer {
			rv = rv.Elem()
		}
		if rv.Kind() != reflect.Struct {
			continue
		}

		sub, err := toMap(rv.Interface())
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		m[k] = sub
	}

	return m, nil
}
