// Package configbinder decodes the loosely typed connection entries of the configuration
// (backfill.database.*, backfill.storage.*) into their typed structs.
package configbinder

import (
	"fmt"
	"reflect"

	"github.com/mitchellh/mapstructure"
)

// Bind decodes raw into target using the "yaml" struct tags. Strings are converted to the
// field types, since values overridden from the environment arrive as strings.
func Bind(raw interface{}, target interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		TagName:          "yaml",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("failed to create mapstructure decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		targetType := reflect.TypeOf(target)
		if targetType.Kind() == reflect.Ptr {
			targetType = targetType.Elem()
		}
		return fmt.Errorf("failed to bind properties to %s: %w", targetType.Name(), err)
	}
	return nil
}

// BindEntry binds entries[name] into target. section names the configuration block in errors.
func BindEntry(entries map[string]interface{}, section, name string, target interface{}) error {
	raw, ok := entries[name]
	if !ok {
		return fmt.Errorf("%s configuration '%s' not found under backfill.%s", section, name, section)
	}
	if err := Bind(raw, target); err != nil {
		return fmt.Errorf("failed to decode %s config for '%s': %w", section, name, err)
	}
	return nil
}
