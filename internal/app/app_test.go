package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatrelay/config"
	"chatrelay/internal/credentials"
)

func memoryConfig() *config.Config {
	return &config.Config{
		Relay: config.RelayConfig{
			Temperature:   config.DefaultTemperature,
			MaxTokens:     config.DefaultMaxTokens,
			MaxInputChars: config.DefaultMaxInputChars,
		},
		Vendors: map[string]config.VendorConfig{
			"openai": {BaseURL: "http://127.0.0.1:9/v1/", APIKeyEnv: "APP_TEST_OPENAI_KEY"},
		},
		Credentials: config.CredentialsConfig{Backend: config.CredentialsMemory},
		Storage:     config.StorageConfig{Type: config.StorageMemory},
	}
}

func TestNew_RequiresConfig(t *testing.T) {
	_, err := New(context.Background(), Config{})
	assert.Error(t, err)
}

func TestNew_WiresHandlers(t *testing.T) {
	a, err := New(context.Background(), Config{AppConfig: memoryConfig()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })

	for _, path := range []string{"/health", "/v1/models", "/settings", "/conversations"} {
		rec := httptest.NewRecorder()
		a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}

	_, active := a.Chat().Sessions().List()
	assert.NotEmpty(t, active)
}

func TestNew_VendorOverrides(t *testing.T) {
	t.Setenv("APP_TEST_OPENAI_KEY", "sk-from-custom-var")

	a, err := New(context.Background(), Config{AppConfig: memoryConfig()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })

	cfg, err := a.Relay().Resolve(context.Background(), "gpt-3.5-turbo", nil)
	require.NoError(t, err)
	assert.Equal(t, "sk-from-custom-var", cfg.APIKey)
	assert.Equal(t, "http://127.0.0.1:9/v1", cfg.Endpoint)
	assert.Equal(t, "APP_TEST_OPENAI_KEY", a.EnvDefaults().VarName(credentials.OpenAI))
}

func TestNew_StoredKeyWinsOverEnvironment(t *testing.T) {
	t.Setenv("APP_TEST_OPENAI_KEY", "sk-env")

	a, err := New(context.Background(), Config{AppConfig: memoryConfig()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })

	require.NoError(t, a.Credentials().Set(credentials.OpenAI, "sk-stored"))
	cfg, err := a.Relay().Resolve(context.Background(), "gpt-3.5-turbo", nil)
	require.NoError(t, err)
	assert.Equal(t, "sk-stored", cfg.APIKey)
}

func TestShutdown_Idempotent(t *testing.T) {
	a, err := New(context.Background(), Config{AppConfig: memoryConfig()})
	require.NoError(t, err)

	require.NoError(t, a.Shutdown(context.Background()))
	require.NoError(t, a.Shutdown(context.Background()))
}

func TestVendorOverrides_IgnoresUnknown(t *testing.T) {
	endpoints, envNames := vendorOverrides(map[string]config.VendorConfig{
		"acme":     {BaseURL: "http://acme"},
		"DeepSeek": {BaseURL: "http://deepseek.local", APIKeyEnv: "DS_KEY"},
		"zhipu":    {},
	})
	assert.Equal(t, map[credentials.Vendor]string{credentials.DeepSeek: "http://deepseek.local"}, endpoints)
	assert.Equal(t, map[credentials.Vendor]string{credentials.DeepSeek: "DS_KEY"}, envNames)
}
