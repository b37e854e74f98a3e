package embeddings

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"google.golang.org/genai"
)

func TestOpenAIEmbed_Success(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			t.Errorf("path=%q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer key" {
			t.Errorf("auth header=%q", got)
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["model"] != DefaultOpenAIModel || body["input"] != "three bedrooms" {
			t.Errorf("body=%v", body)
		}
		if body["dimensions"] != float64(8) {
			t.Errorf("dimensions=%v", body["dimensions"])
		}
		_, _ = w.Write([]byte(`{"data":[{"index":0,"embedding":[0.5,-0.25]}]}`))
	}))
	defer ts.Close()

	e := NewOpenAI("key", WithBaseURL(ts.URL+"/v1"), WithHTTPClient(ts.Client()), WithDimensions(8))
	vec, err := e.Embed(context.Background(), "three bedrooms")
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if len(vec) != 2 || vec[0] != 0.5 || vec[1] != -0.25 {
		t.Fatalf("vec=%v", vec)
	}
}

func TestOpenAIEmbed_Non200(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key"}}`))
	}))
	defer ts.Close()

	e := NewOpenAI("key", WithBaseURL(ts.URL), WithHTTPClient(ts.Client()))
	if _, err := e.Embed(context.Background(), "x"); err == nil {
		t.Fatal("expected error")
	}
}

func TestOpenAIEmbed_NotConfigured(t *testing.T) {
	t.Parallel()

	if _, err := NewOpenAI("").Embed(context.Background(), "x"); err == nil {
		t.Fatal("expected configuration error")
	}
}

type fakeModels struct {
	gotModel  string
	gotConfig *genai.EmbedContentConfig
	resp      *genai.EmbedContentResponse
	err       error
}

func (f *fakeModels) EmbedContent(_ context.Context, model string, _ []*genai.Content, cfg *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error) {
	f.gotModel = model
	f.gotConfig = cfg
	return f.resp, f.err
}

func TestGeminiEmbed_Success(t *testing.T) {
	t.Parallel()

	models := &fakeModels{resp: &genai.EmbedContentResponse{
		Embeddings: []*genai.ContentEmbedding{{Values: []float32{1, 2, 3}}},
	}}
	g := newGemini(models, "", 1536)
	vec, err := g.Embed(context.Background(), "garden")
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if len(vec) != 3 {
		t.Fatalf("vec=%v", vec)
	}
	if models.gotModel != DefaultGeminiModel {
		t.Fatalf("model=%q", models.gotModel)
	}
	if models.gotConfig.OutputDimensionality == nil || *models.gotConfig.OutputDimensionality != 1536 {
		t.Fatalf("dimensionality=%v", models.gotConfig.OutputDimensionality)
	}
}

func TestGeminiEmbed_Errors(t *testing.T) {
	t.Parallel()

	g := newGemini(&fakeModels{err: errors.New("quota")}, "m", 0)
	if _, err := g.Embed(context.Background(), "x"); err == nil {
		t.Fatal("expected upstream error")
	}
	g = newGemini(&fakeModels{resp: &genai.EmbedContentResponse{}}, "m", 0)
	if _, err := g.Embed(context.Background(), "x"); err == nil {
		t.Fatal("expected empty embedding error")
	}
	if _, err := NewGemini(context.Background(), "", "", 0); err == nil {
		t.Fatal("expected configuration error")
	}
}
