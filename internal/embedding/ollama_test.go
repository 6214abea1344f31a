package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ximass/lumnia/internal/config"
)

func TestOllamaProviderGetEmbeddings(t *testing.T) {
	var gotPrompts []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/embeddings", r.URL.Path)

		var req ollamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "nomic-embed-text", req.Model)
		gotPrompts = append(gotPrompts, req.Prompt)

		json.NewEncoder(w).Encode(ollamaEmbedResponse{
			Embedding: []float64{float64(len(req.Prompt)), 0.5},
		})
	}))
	defer server.Close()

	provider := NewOllamaProvider(config.EmbeddingProviderConfig{
		BaseURL: server.URL,
		Model:   "nomic-embed-text",
	})

	vectors, err := provider.GetEmbeddings(context.Background(), []string{"ab", "cdef"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Equal(t, []float64{2, 0.5}, vectors[0])
	assert.Equal(t, []float64{4, 0.5}, vectors[1])
	assert.Equal(t, []string{"ab", "cdef"}, gotPrompts)
}

func TestOllamaProviderServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	provider := NewOllamaProvider(config.EmbeddingProviderConfig{BaseURL: server.URL})

	_, err := provider.GetEmbeddings(context.Background(), []string{"hello"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestVectorJSONRoundTrip(t *testing.T) {
	jsonStr, err := VectorToJSON([]float64{0.1, -0.2})
	require.NoError(t, err)

	vector, err := JSONToVector(jsonStr)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.1, -0.2}, vector)

	empty, err := JSONToVector("")
	require.NoError(t, err)
	assert.Nil(t, empty)
}
