package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"gopkg.in/yaml.v3"

	"github.com/tigerroll/backfill/pkg/batch/support/util/exception"
	"github.com/tigerroll/backfill/pkg/batch/support/util/logger"
)

const moduleName = "config"

var durationType = reflect.TypeOf(time.Duration(0))

// ConfigParams defines the dependencies for NewConfigProvider.
type ConfigParams struct {
	fx.In
	EmbeddedConfig EmbeddedConfig
	EnvFilePath    string              `name:"envFilePath" optional:"true"`
	Expander       EnvironmentExpander `optional:"true"`
}

// loadConfig loads configuration from the embedded YAML and environment variables.
//
//  1. .env is loaded into the process environment.
//  2. ${VAR} placeholders in the YAML are expanded.
//  3. The YAML is merged over NewConfig() defaults.
//  4. BACKFILL_* environment variables override the result.
func loadConfig(envFilePath string, embeddedConfig EmbeddedConfig, expander EnvironmentExpander) (*Config, error) {
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			logger.Warnf(".env file (%s) not found or could not be loaded: %v", envFilePath, err)
		}
	} else {
		if err := godotenv.Load(); err != nil {
			logger.Debugf(".env file not found or could not be loaded: %v", err)
		}
	}

	if expander == nil {
		expander = NewOsEnvironmentExpander()
	}
	expanded, err := expander.Expand(embeddedConfig)
	if err != nil {
		return nil, exception.NewBackfillError(moduleName, "failed to expand environment variables in config", err, false)
	}

	cfg := NewConfig()

	var yamlConfig Config
	if err := yaml.Unmarshal(expanded, &yamlConfig); err != nil {
		return nil, exception.NewBackfillError(moduleName, "failed to unmarshal embedded config", err, false)
	}
	mergeConfig(cfg, &yamlConfig)

	if err := loadStructFromEnv(reflect.ValueOf(cfg).Elem(), ""); err != nil {
		return nil, exception.NewBackfillError(moduleName, "failed to load config from environment variables", err, false)
	}
	cfg.EmbeddedConfig = embeddedConfig
	return cfg, nil
}

// NewConfigProvider is an Fx provider that loads *Config and applies the configured log level.
func NewConfigProvider(params ConfigParams) (*Config, error) {
	cfg, err := loadConfig(params.EnvFilePath, params.EmbeddedConfig, params.Expander)
	if err != nil {
		return nil, err
	}

	logger.SetLogLevel(cfg.Backfill.System.Logging.Level)
	logger.Infof("Log level set to: %s", cfg.Backfill.System.Logging.Level)

	if err := validate(cfg); err != nil {
		return nil, exception.NewBackfillError(moduleName, "invalid configuration", err, false)
	}
	return cfg, nil
}

// LoadConfig loads configuration from the embedded YAML and environment variables.
func LoadConfig(envFilePath string, embeddedConfig EmbeddedConfig) (*Config, error) {
	return loadConfig(envFilePath, embeddedConfig, nil)
}

func validate(cfg *Config) error {
	s := cfg.Backfill.Scheduler
	if s.Concurrency < 1 {
		return fmt.Errorf("scheduler.concurrency must be positive, got %d", s.Concurrency)
	}
	if s.SchedulableLimit < 1 {
		return fmt.Errorf("scheduler.schedulable_limit must be positive, got %d", s.SchedulableLimit)
	}
	if cfg.Backfill.Partition.Window <= 0 {
		return fmt.Errorf("partition.window must be positive, got %s", cfg.Backfill.Partition.Window)
	}
	o := cfg.Backfill.Optimizer
	if o.MinEfficiency > o.MaxEfficiency {
		return fmt.Errorf("optimizer.min_efficiency (%v) exceeds max_efficiency (%v)", o.MinEfficiency, o.MaxEfficiency)
	}
	if o.MinMultiplier > 1 || o.MaxMultiplier < 1 {
		return fmt.Errorf("optimizer multipliers must bracket 1, got [%v, %v]", o.MinMultiplier, o.MaxMultiplier)
	}
	switch cfg.Backfill.Telemetry.Protocol {
	case "grpc", "http":
	default:
		return fmt.Errorf("telemetry.protocol must be grpc or http, got %q", cfg.Backfill.Telemetry.Protocol)
	}
	return nil
}

// mergeConfig performs a deep merge from source into dest.
// Values in source overwrite dest unless they are the zero value of their type.
// Maps are merged key by key.
func mergeConfig(dest, source *Config) {
	mergeValue(reflect.ValueOf(&dest.Backfill).Elem(), reflect.ValueOf(&source.Backfill).Elem())
}

func mergeValue(dest, source reflect.Value) {
	switch source.Kind() {
	case reflect.Struct:
		for i := 0; i < source.NumField(); i++ {
			if !dest.Field(i).CanSet() {
				continue
			}
			mergeValue(dest.Field(i), source.Field(i))
		}
	case reflect.Map:
		if source.IsNil() {
			return
		}
		if dest.IsNil() {
			dest.Set(reflect.MakeMap(source.Type()))
		}
		iter := source.MapRange()
		for iter.Next() {
			dest.SetMapIndex(iter.Key(), iter.Value())
		}
	default:
		if !source.IsZero() {
			dest.Set(source)
		}
	}
}

// loadStructFromEnv recursively loads configuration values into a struct from environment variables.
// The variable name is the upper-cased path of "yaml" tags joined by "_" (e.g. BACKFILL_SCHEDULER_CONCURRENCY).
func loadStructFromEnv(val reflect.Value, prefix string) error {
	typ := val.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)
		yamlTag := strings.Split(fieldType.Tag.Get("yaml"), ",")[0]
		if yamlTag == "" || yamlTag == "-" {
			continue
		}
		envVarName := strings.ToUpper(prefix + yamlTag)

		if field.Kind() == reflect.Struct {
			if err := loadStructFromEnv(field, envVarName+"_"); err != nil {
				return err
			}
			continue
		}

		if field.Kind() == reflect.Map {
			if err := loadMapFromEnv(field, envVarName+"_"); err != nil {
				return err
			}
			continue
		}

		envValue, exists := os.LookupEnv(envVarName)
		if !exists {
			continue
		}
		if err := setField(field, envValue); err != nil {
			return fmt.Errorf("failed to set field '%s' from env var '%s': %w", fieldType.Name, envVarName, err)
		}
	}
	return nil
}

// loadMapFromEnv loads map fields from environment variables.
//
// For map[string]string the remainder of the variable name is the key:
// BACKFILL_ROUTING_TABLES_EVENTS=ci sets Tables["events"] = "ci".
//
// For map[string]interface{} the first segment is the key and the rest is a nested field:
// BACKFILL_DATABASE_MAIN_HOST=db sets AdapterConfigs["main"]["host"] = "db".
func loadMapFromEnv(mapField reflect.Value, prefix string) error {
	if mapField.Type().Key().Kind() != reflect.String {
		return nil
	}
	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, prefix) {
			continue
		}
		parts := strings.SplitN(strings.TrimPrefix(env, prefix), "=", 2)
		if len(parts) != 2 || parts[0] == "" {
			continue
		}
		keyAndField, envValue := parts[0], parts[1]

		if mapField.IsNil() {
			mapField.Set(reflect.MakeMap(mapField.Type()))
		}

		switch mapField.Type().Elem().Kind() {
		case reflect.String:
			mapField.SetMapIndex(reflect.ValueOf(strings.ToLower(keyAndField)), reflect.ValueOf(envValue))
		case reflect.Interface:
			segments := strings.SplitN(keyAndField, "_", 2)
			if len(segments) != 2 {
				continue
			}
			mapKey := strings.ToLower(segments[0])
			fieldName := strings.ToLower(segments[1])

			entry := map[string]interface{}{}
			if existing := mapField.MapIndex(reflect.ValueOf(mapKey)); existing.IsValid() {
				if m, ok := existing.Interface().(map[string]interface{}); ok {
					entry = m
				}
			}
			setNested(entry, fieldName, envValue)
			mapField.SetMapIndex(reflect.ValueOf(mapKey), reflect.ValueOf(entry))
		}
	}
	return nil
}

// setNested assigns value under key, descending into an existing nested map when the
// key starts with one of its names (e.g. "pool_max_open_conns" -> pool.max_open_conns).
func setNested(entry map[string]interface{}, key, value string) {
	for name, v := range entry {
		nested, ok := v.(map[string]interface{})
		if !ok {
			continue
		}
		if strings.HasPrefix(key, name+"_") {
			setNested(nested, strings.TrimPrefix(key, name+"_"), value)
			return
		}
	}
	entry[key] = value
}

// setField sets the value of a reflect.Value field based on its kind.
func setField(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}
	if field.Type() == durationType {
		d, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		field.SetInt(int64(d))
		return nil
	}
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		intValue, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(intValue)
	case reflect.Float64, reflect.Float32:
		floatValue, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(floatValue)
	case reflect.Bool:
		boolValue, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(boolValue)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return nil
		}
		var items []string
		for _, item := range strings.Split(value, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		field.Set(reflect.ValueOf(items))
	}
	return nil
}
