package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tagsJSON(names ...string) []byte {
	var r tagsResponse
	for _, n := range names {
		r.Models = append(r.Models, struct {
			Name string `json:"name"`
		}{Name: n})
	}
	b, _ := json.Marshal(r)
	return b
}

func TestIsRunning(t *testing.T) {
	t.Run("up", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write(tagsJSON("llama3.2:latest"))
		}))
		defer srv.Close()
		assert.True(t, New(srv.URL).IsRunning(context.Background()))
	})

	t.Run("down", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		srv.Close()
		assert.False(t, New(srv.URL).IsRunning(context.Background()))
	})
}

func TestHasModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(tagsJSON("llama3.2:latest", "qwen2.5:7b"))
	}))
	defer srv.Close()

	c := New(srv.URL + "/")
	ctx := context.Background()

	models, err := c.ListModels(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"llama3.2:latest", "qwen2.5:7b"}, models)

	assert.True(t, c.HasModel(ctx, "llama3.2"), "untagged name matches any tag")
	assert.True(t, c.HasModel(ctx, "qwen2.5:7b"))
	assert.False(t, c.HasModel(ctx, "qwen2.5:14b"))
	assert.False(t, c.HasModel(ctx, "llama3"))
}

func TestChatSendsFormatAndOptions(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(map[string]any{
			"message": map[string]string{"role": "assistant", "content": `{"entities":[]}`},
		})
	}))
	defer srv.Close()

	c := New(srv.URL).WithOptions(Options{Temperature: 0, NumCtx: 8192})
	out, err := c.Chat(context.Background(), "llama3.2", []Message{{Role: "user", Content: "hi"}}, "json")
	require.NoError(t, err)
	assert.Equal(t, `{"entities":[]}`, out)

	assert.Equal(t, "llama3.2", got["model"])
	assert.Equal(t, false, got["stream"])
	assert.Equal(t, "json", got["format"])
	opts := got["options"].(map[string]any)
	assert.Equal(t, float64(8192), opts["num_ctx"])
}

func TestChatOmitsFormatWhenNil(t *testing.T) {
	var raw []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		buf.ReadFrom(r.Body)
		raw = buf.Bytes()
		w.Write([]byte(`{"message":{"role":"assistant","content":"pong"}}`))
	}))
	defer srv.Close()

	out, err := New(srv.URL).Chat(context.Background(), "m", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "pong", out)
	assert.NotContains(t, string(raw), `"format"`)
}

func TestChatStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"model \"nope\" not found, try pulling it first"}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL).Chat(context.Background(), "nope", nil, nil)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.Code)
	assert.Contains(t, se.Body, "not found")
	assert.Contains(t, err.Error(), "chat: unexpected status 404")
}

func TestPullModelStreamsProgress(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/pull", r.URL.Path)
		enc := json.NewEncoder(w)
		enc.Encode(PullProgress{Status: "pulling manifest"})
		enc.Encode(PullProgress{Status: "downloading", Total: 100, Completed: 50})
		enc.Encode(PullProgress{Status: "success"})
	}))
	defer srv.Close()

	var statuses []string
	err := New(srv.URL).PullModel(context.Background(), "llama3.2", func(p PullProgress) {
		statuses = append(statuses, p.Status)
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"pulling manifest", "downloading", "success"}, statuses)
}

func TestEnsureReadyFailsWhenDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	var out bytes.Buffer
	err := EnsureReady(context.Background(), New(srv.URL), "llama3.2", &out)
	assert.ErrorContains(t, err, "not reachable")
}

func TestEnsureReadyPullsMissingModel(t *testing.T) {
	var pulled bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			w.Write(tagsJSON())
		case "/api/pull":
			pulled = true
			json.NewEncoder(w).Encode(PullProgress{Status: "success"})
		case "/api/chat":
			w.Write([]byte(`{"message":{"role":"assistant","content":"pong"}}`))
		}
	}))
	defer srv.Close()

	var out bytes.Buffer
	require.NoError(t, EnsureReady(context.Background(), New(srv.URL), "llama3.2", &out))
	assert.True(t, pulled)
	assert.Contains(t, out.String(), "model llama3.2: warm")
}

func TestWarm(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		var gotModel string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var req chatRequest
			json.NewDecoder(r.Body).Decode(&req)
			gotModel = req.Model
			w.Write([]byte(`{"message":{"role":"assistant","content":"pong"}}`))
		}))
		defer srv.Close()

		var out bytes.Buffer
		Warm(context.Background(), New(srv.URL), "llama3.2", &out)
		assert.Equal(t, "llama3.2", gotModel)
		assert.Equal(t, "model llama3.2: warm\n", out.String())
	})

	t.Run("failure is reported", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		var out bytes.Buffer
		Warm(context.Background(), New(srv.URL), "llama3.2", &out)
		assert.Contains(t, out.String(), "warm-up failed")
	})
}
