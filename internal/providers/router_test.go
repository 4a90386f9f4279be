package providers

import (
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatrelay/internal/core"
	"chatrelay/internal/credentials"
)

// staticDefaults is a DefaultSource backed by a fixed bundle.
type staticDefaults credentials.Bundle

func (s staticDefaults) Default(v credentials.Vendor) (string, bool) {
	return credentials.Bundle(s).Get(v)
}

func TestResolve_MissingKey(t *testing.T) {
	t.Setenv("SILICONFLOW_API_KEY", "")
	router := NewRouter(DefaultRegistry(), credentials.NewEnvDefaults(nil))

	_, err := router.Resolve("siliconflow-qwen", credentials.Bundle{})

	var cfgErr *core.ConfigurationError
	require.True(t, errors.As(err, &cfgErr), "want ConfigurationError, got %v", err)
	assert.Equal(t, core.ReasonMissingKey, cfgErr.Reason)
	assert.Equal(t, "siliconflow", cfgErr.Vendor)
}

func TestResolve_CallerKey(t *testing.T) {
	t.Setenv("SILICONFLOW_API_KEY", "")
	router := NewRouter(DefaultRegistry(), credentials.NewEnvDefaults(nil))

	cfg, err := router.Resolve("siliconflow-qwen", credentials.Bundle{credentials.SiliconFlow: "sk-abc"})
	require.NoError(t, err)

	assert.Equal(t, credentials.SiliconFlow, cfg.Vendor)
	assert.Equal(t, "sk-abc", cfg.APIKey)
	assert.Equal(t, "Qwen/Qwen2.5-7B-Instruct", cfg.UpstreamModel)
	assert.Equal(t, "https://api.siliconflow.cn/v1", cfg.Endpoint)
	assert.False(t, cfg.Fallback)
}

func TestResolve_CallerOverridesDefault(t *testing.T) {
	defaults := staticDefaults{credentials.DeepSeek: "sk-process"}
	router := NewRouter(DefaultRegistry(), defaults)

	cfg, err := router.Resolve("deepseek-chat", credentials.Bundle{credentials.DeepSeek: "sk-caller"})
	require.NoError(t, err)
	assert.Equal(t, "sk-caller", cfg.APIKey)

	cfg, err = router.Resolve("deepseek-chat", credentials.Bundle{credentials.DeepSeek: "  "})
	require.NoError(t, err)
	assert.Equal(t, "sk-process", cfg.APIKey, "whitespace caller value counts as absent")
}

func TestResolve_ProcessOnlyVendorIgnoresCallerKey(t *testing.T) {
	router := NewRouter(DefaultRegistry(), staticDefaults{credentials.Zhipu: "zhipu-process"})

	cfg, err := router.Resolve("zhipu-glm4", credentials.Bundle{credentials.Zhipu: "zhipu-caller"})
	require.NoError(t, err)
	assert.Equal(t, "zhipu-process", cfg.APIKey)
}

func TestResolve_ProcessOnlyVendorWithoutKey(t *testing.T) {
	router := NewRouter(DefaultRegistry(), nil)

	cfg, err := router.Resolve("gemini-flash", nil)
	require.NoError(t, err)
	assert.Empty(t, cfg.APIKey)
	assert.Equal(t, TransportGemini, cfg.Transport)
}

func TestResolve_UnknownModelFallsBack(t *testing.T) {
	router := NewRouter(DefaultRegistry(), staticDefaults{credentials.SiliconFlow: "sk-default"})

	cfg, err := router.Resolve("no-such-model", nil)
	require.NoError(t, err)

	assert.True(t, cfg.Fallback)
	assert.Equal(t, "siliconflow-qwen", cfg.ModelID)
	assert.Equal(t, "no-such-model", cfg.RequestedModel)
	assert.Equal(t, credentials.SiliconFlow, cfg.Vendor)
}

func TestResolve_VendorMatchesRegistry(t *testing.T) {
	registry := DefaultRegistry()
	defaults := staticDefaults{}
	for _, v := range credentials.Vendors() {
		defaults[v] = "key-" + string(v)
	}
	router := NewRouter(registry, defaults)

	for _, m := range registry.List() {
		cfg, err := router.Resolve(m.ID, nil)
		require.NoError(t, err, m.ID)
		assert.Equal(t, m.Vendor, cfg.Vendor, m.ID)
		assert.Equal(t, m.UpstreamModel, cfg.UpstreamModel, m.ID)
		assert.Equal(t, "key-"+string(m.Vendor), cfg.APIKey, m.ID)
		assert.False(t, cfg.Fallback, m.ID)
	}
}

func TestResolve_EndpointOverride(t *testing.T) {
	registry := DefaultRegistry().WithEndpoints(map[credentials.Vendor]string{
		credentials.OpenAI: "http://localhost:9999/v1/",
	})
	router := NewRouter(registry, staticDefaults{credentials.OpenAI: "sk"})

	cfg, err := router.Resolve("gpt-3.5-turbo", nil)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9999/v1", cfg.Endpoint)

	// the default registry is untouched
	assert.Equal(t, "https://api.openai.com/v1", DefaultRegistry().Endpoint(mustLookup(t, DefaultRegistry(), "gpt-3.5-turbo")))
}

func TestResolve_Concurrent(t *testing.T) {
	router := NewRouter(DefaultRegistry(), staticDefaults{credentials.SiliconFlow: "sk"})

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cfg, err := router.Resolve("siliconflow-llama", nil)
			assert.NoError(t, err)
			assert.Equal(t, "sk", cfg.APIKey)
		}()
	}
	wg.Wait()
}

func TestUpstreamConfig_LogValueRedactsKey(t *testing.T) {
	cfg := UpstreamConfig{ModelID: "deepseek-chat", Vendor: credentials.DeepSeek, APIKey: "sk-very-secret"}

	var sb strings.Builder
	logger := slog.New(slog.NewTextHandler(&sb, nil))
	logger.Info("resolved", "upstream", cfg)

	out := sb.String()
	assert.NotContains(t, out, "sk-very-secret")
	assert.Contains(t, out, credentials.Fingerprint("sk-very-secret"))
}

func mustLookup(t *testing.T, r *Registry, id string) ModelDescriptor {
	t.Helper()
	m, ok := r.Lookup(id)
	require.True(t, ok, id)
	return m
}
