package provider_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/tokenwarden/internal/adapter/driven/provider"
	"github.com/ericfisherdev/tokenwarden/internal/domain/model"
)

func apiKeyCredential() *model.Credential {
	return &model.Credential{
		ID:       "key-1",
		Owner:    "alice",
		Provider: model.ProviderAPIKey,
		Kind:     model.KindAPIKey,
		Secret:   "sk-123",
		Status:   model.StatusActive,
		Metadata: map[string]string{"label": "billing"},
	}
}

func TestStaticAdapter_RefreshReturnsUnchangedCopy(t *testing.T) {
	in := apiKeyCredential()

	out, err := provider.NewStaticAdapter("", "").Refresh(context.Background(), in)

	require.NoError(t, err)
	assert.Equal(t, in, out)
	out.Metadata["label"] = "changed"
	assert.Equal(t, "billing", in.Metadata["label"])
}

func TestStaticAdapter_RevokeIsLocalOnly(t *testing.T) {
	assert.NoError(t, provider.NewStaticAdapter("", "").Revoke(context.Background(), apiKeyCredential()))
}

func TestStaticAdapter_Authorize(t *testing.T) {
	tests := []struct {
		name   string
		header string
		scheme string
		key    string
		want   string
	}{
		{"default header without scheme", "", "", "Authorization", "sk-123"},
		{"bearer scheme", "", "Bearer", "Authorization", "Bearer sk-123"},
		{"custom header", "X-Api-Key", "", "X-Api-Key", "sk-123"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "https://api.example.com", nil)
			provider.NewStaticAdapter(tt.header, tt.scheme).Authorize(req, apiKeyCredential())
			assert.Equal(t, tt.want, req.Header.Get(tt.key))
		})
	}
}

func TestRegistry(t *testing.T) {
	r := provider.NewRegistry()
	static := provider.NewStaticAdapter("", "")
	r.Register(model.ProviderAPIKey, static)

	got, ok := r.Adapter(model.ProviderAPIKey)
	require.True(t, ok)
	assert.Same(t, static, got)

	_, ok = r.Adapter(model.ProviderGmail)
	assert.False(t, ok)
}
