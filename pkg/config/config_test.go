package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_PassesValidation(t *testing.T) {
	require.NoError(t, validate(defaultConfig()))
}

func TestValidate_RejectsMissingStoreHost(t *testing.T) {
	cfg := defaultConfig()
	cfg.Store.Host = ""
	err := validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "host")
}

func TestValidate_RejectsIdleExceedingOpenConns(t *testing.T) {
	cfg := defaultConfig()
	cfg.Store.MaxOpenConns = 5
	cfg.Store.MaxIdleConns = 10
	err := validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_idle_conns")
}

func TestValidate_AllowsLLMSectionEntirelyAbsent(t *testing.T) {
	cfg := defaultConfig()
	cfg.LLM.BaseURL = ""
	cfg.LLM.Model = ""
	assert.NoError(t, validate(cfg))
}

func TestValidate_RejectsHalfConfiguredLLMSection(t *testing.T) {
	cfg := defaultConfig()
	cfg.LLM.BaseURL = "https://api.example.com/v1/chat"
	cfg.LLM.Model = ""
	err := validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model")
}

func TestStoreConfig_ToStoreConfig(t *testing.T) {
	cfg := defaultConfig()
	sc := cfg.Store.ToStoreConfig()
	assert.Equal(t, cfg.Store.Host, sc.Host)
	assert.Equal(t, cfg.Store.MaxOpenConns, sc.MaxOpenConns)
}
