package simulator

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bart-jansen/aoai-simulated-api/pkg/config"
)

func TestRequestContextJSONBody(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{Mode: config.ModeGenerate, APIKey: "key"}

	newCtx := func(body string) *RequestContext {
		r := httptest.NewRequest("POST", "/openai/deployments/gpt/chat/completions", nil)
		return NewRequestContext(cfg, r, []byte(body))
	}

	t.Run("parses JSON objects", func(t *testing.T) {
		t.Parallel()
		rc := newCtx(`{"max_tokens": 50, "messages": [{"role": "user", "content": "hi"}]}`)

		doc, ok := rc.JSONBody().(map[string]any)
		require.True(t, ok)
		assert.Equal(t, float64(50), doc["max_tokens"])
	})

	t.Run("caches the parse", func(t *testing.T) {
		t.Parallel()
		rc := newCtx(`{"a": 1}`)

		first := rc.JSONBody()
		second := rc.JSONBody()
		assert.Equal(t, first, second)
	})

	t.Run("empty body is nil", func(t *testing.T) {
		t.Parallel()
		rc := newCtx("")
		assert.Nil(t, rc.JSONBody())
	})

	t.Run("invalid JSON is nil", func(t *testing.T) {
		t.Parallel()
		rc := newCtx(`{"not closed`)
		assert.Nil(t, rc.JSONBody())
	})
}
