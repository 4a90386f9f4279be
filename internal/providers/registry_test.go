package providers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatrelay/internal/core"
	"chatrelay/internal/credentials"
)

func TestDefaultRegistry(t *testing.T) {
	r := DefaultRegistry()

	models := r.List()
	require.Len(t, models, 9)
	assert.Equal(t, "siliconflow-qwen", r.Default().ID)

	m, ok := r.Lookup("gemini-pro")
	require.True(t, ok)
	assert.Equal(t, credentials.Google, m.Vendor)
	assert.Equal(t, CategoryOverseasFree, m.Category)
	assert.Empty(t, r.Endpoint(m))

	_, ok = r.Lookup("gpt-4")
	assert.False(t, ok)
}

func TestRegistry_ListIsACopy(t *testing.T) {
	r := DefaultRegistry()
	list := r.List()
	list[0].ID = "mutated"

	assert.Equal(t, "siliconflow-qwen", r.List()[0].ID)
}

func TestNewRegistry_Validation(t *testing.T) {
	valid := ModelDescriptor{ID: "a", Vendor: credentials.OpenAI, Transport: TransportOpenAI}

	tests := []struct {
		name   string
		models []ModelDescriptor
	}{
		{"empty", nil},
		{"missing id", []ModelDescriptor{{Vendor: credentials.OpenAI, Transport: TransportOpenAI}}},
		{"duplicate", []ModelDescriptor{valid, valid}},
		{"unknown vendor", []ModelDescriptor{{ID: "b", Vendor: "acme", Transport: TransportOpenAI}}},
		{"missing transport", []ModelDescriptor{{ID: "c", Vendor: credentials.OpenAI}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry(tt.models)
			assert.Error(t, err)
		})
	}
}

func TestNewRegistry_FallbackWithoutDomesticFree(t *testing.T) {
	r, err := NewRegistry([]ModelDescriptor{
		{ID: "paid", Vendor: credentials.OpenAI, Transport: TransportOpenAI, Category: CategoryPaid},
		{ID: "free", Vendor: credentials.Zhipu, Transport: TransportOpenAI, Category: CategoryDomesticFree},
	})
	require.NoError(t, err)
	assert.Equal(t, "free", r.Default().ID)

	r, err = NewRegistry([]ModelDescriptor{
		{ID: "paid", Vendor: credentials.OpenAI, Transport: TransportOpenAI, Category: CategoryPaid},
	})
	require.NoError(t, err)
	assert.Equal(t, "paid", r.Default().ID)
}

func TestModelBaseEndpointWins(t *testing.T) {
	r, err := NewRegistry([]ModelDescriptor{
		{ID: "local", Vendor: credentials.OpenAI, Transport: TransportOpenAI, BaseEndpoint: "http://127.0.0.1:8000/v1"},
	})
	require.NoError(t, err)

	r = r.WithEndpoints(map[credentials.Vendor]string{credentials.OpenAI: "http://ignored"})
	assert.Equal(t, "http://127.0.0.1:8000/v1", r.Endpoint(r.Default()))
}

type nopTransport struct{}

func (nopTransport) Open(context.Context, *UpstreamRequest) (core.ChunkStream, error) {
	return nil, nil
}

func TestRegisterTransport(t *testing.T) {
	kind := TransportKind("test-nop")
	RegisterTransport(kind, func(TransportOptions) Transport { return nopTransport{} })
	t.Cleanup(func() {
		transportsMu.Lock()
		delete(transports, kind)
		transportsMu.Unlock()
	})

	assert.Contains(t, RegisteredTransports(), kind)
	tr, err := NewTransport(kind, TransportOptions{})
	require.NoError(t, err)
	assert.IsType(t, nopTransport{}, tr)

	assert.Panics(t, func() {
		RegisterTransport(kind, func(TransportOptions) Transport { return nopTransport{} })
	})

	_, err = NewTransport("missing", TransportOptions{})
	assert.Error(t, err)
}
