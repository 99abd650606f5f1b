package configbinder_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/backfill/pkg/batch/support/util/configbinder"
)

type target struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	TLS  bool   `yaml:"tls"`
}

func TestBind_ConvertsStrings(t *testing.T) {
	var got target
	err := configbinder.Bind(map[string]interface{}{"host": "db", "port": "5432", "tls": "true"}, &got)
	require.NoError(t, err)
	assert.Equal(t, target{Host: "db", Port: 5432, TLS: true}, got)
}

func TestBind_ReportsTargetType(t *testing.T) {
	var got target
	err := configbinder.Bind(map[string]interface{}{"port": "not-a-number"}, &got)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "target")
}

func TestBindEntry(t *testing.T) {
	entries := map[string]interface{}{"main": map[string]interface{}{"host": "db"}}

	var got target
	require.NoError(t, configbinder.BindEntry(entries, "database", "main", &got))
	assert.Equal(t, "db", got.Host)

	err := configbinder.BindEntry(entries, "database", "ci", &got)
	assert.EqualError(t, err, "database configuration 'ci' not found under backfill.database")
}
