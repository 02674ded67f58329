package recognition_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/JaimeStill/arbor/internal/recognition"
	"github.com/JaimeStill/arbor/pkg/httpclient"
)

const identificationResponse = `{
	"access_token": "tok-123",
	"model_version": "plant_id:3.1.0",
	"custom_id": 42,
	"status": "COMPLETED",
	"result": {
		"is_plant": {"binary": true, "probability": 0.99, "threshold": 0.5},
		"classification": {
			"suggestions": [
				{
					"id": "s1",
					"name": "Taraxacum officinale",
					"probability": 0.92,
					"similar_images": [
						{"id": "i1", "url": "https://img.test/1.jpg", "similarity": 0.8},
						{"id": "i2", "similarity": 0.5}
					],
					"details": {"common_names": ["dandelion"]}
				},
				{"id": "s2", "name": null, "probability": 0.5},
				{"id": "s3", "name": "Crepis capillaris"}
			]
		}
	}
}`

const healthResponse = `{
	"access_token": "tok-456",
	"model_version": "plant_id:3.1.0",
	"custom_id": null,
	"status": "COMPLETED",
	"result": {
		"is_healthy": {"binary": false, "probability": 0.12, "threshold": 0.525},
		"disease": {
			"suggestions": [
				{"id": "d1", "name": "water excess", "probability": 0.4},
				{"id": "d2", "name": "Fungi", "probability": 0.7}
			]
		}
	}
}`

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newClient(t *testing.T, url string) recognition.Client {
	t.Helper()
	cfg := &recognition.Config{BaseURL: url, APIKey: "secret"}
	if err := cfg.Finalize(nil); err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	c, err := recognition.New(cfg, discardLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func TestIdentify(t *testing.T) {
	var gotKey, gotPath, gotDetails string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("Api-Key")
		gotPath = r.URL.Path
		gotDetails = r.URL.Query().Get("details")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(identificationResponse))
	}))
	defer srv.Close()

	c := newClient(t, srv.URL+"/api/v3")

	lat := 49.2
	a, err := c.Identify(context.Background(), recognition.Input{
		Images:   []string{"aGVsbG8="},
		Latitude: &lat,
	})
	if err != nil {
		t.Fatalf("Identify() error = %v", err)
	}

	if gotKey != "secret" {
		t.Errorf("Api-Key = %q", gotKey)
	}
	if gotPath != "/api/v3/identification" {
		t.Errorf("path = %q", gotPath)
	}
	if gotDetails == "" {
		t.Error("details query not sent")
	}
	if gotBody["similar_images"] != true {
		t.Errorf("similar_images = %v", gotBody["similar_images"])
	}
	if gotBody["latitude"] != 49.2 {
		t.Errorf("latitude = %v", gotBody["latitude"])
	}
	if _, ok := gotBody["longitude"]; ok {
		t.Error("absent longitude should be omitted")
	}

	if a.ProviderID != "tok-123" || a.CustomID != "42" || a.Status != "COMPLETED" {
		t.Errorf("assessment metadata = %+v", a)
	}
	if a.IsPlant == nil || !a.IsPlant.Value {
		t.Errorf("is_plant = %+v", a.IsPlant)
	}

	if len(a.Suggestions) != 2 {
		t.Fatalf("suggestions = %d, want 2 (nameless dropped)", len(a.Suggestions))
	}
	first := a.Suggestions[0]
	if first.Probability != 0.92 {
		t.Errorf("probability = %v", first.Probability)
	}
	if len(first.SimilarImages) != 1 {
		t.Errorf("similar images = %d, want 1 (url-less dropped)", len(first.SimilarImages))
	}
	if a.Suggestions[1].Probability != 0 {
		t.Errorf("missing probability = %v, want 0", a.Suggestions[1].Probability)
	}
}

func TestAssessHealth(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(healthResponse))
	}))
	defer srv.Close()

	a, err := newClient(t, srv.URL).AssessHealth(context.Background(), recognition.Input{Images: []string{"aGVsbG8="}})
	if err != nil {
		t.Fatalf("AssessHealth() error = %v", err)
	}

	if gotPath != "/health_assessment" {
		t.Errorf("path = %q", gotPath)
	}
	if a.IsHealthy == nil || a.IsHealthy.Value {
		t.Errorf("is_healthy = %+v", a.IsHealthy)
	}
	if a.CustomID != "" {
		t.Errorf("custom id = %q, want empty", a.CustomID)
	}
	if len(a.Suggestions) != 2 {
		t.Fatalf("suggestions = %d, want 2", len(a.Suggestions))
	}

	if top := recognition.RankDisease(a.Suggestions); top.ID != "d2" {
		t.Errorf("top = %s, want d2", top.ID)
	}
}

func TestAssessMissingResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status": "CREATED"}`))
	}))
	defer srv.Close()

	a, err := newClient(t, srv.URL).Identify(context.Background(), recognition.Input{Images: []string{"x"}})
	if err != nil {
		t.Fatalf("Identify() error = %v", err)
	}
	if a.Suggestions == nil || len(a.Suggestions) != 0 {
		t.Errorf("suggestions = %v, want empty", a.Suggestions)
	}
	if recognition.RankSpecies(a.Suggestions) != nil {
		t.Error("empty result should rank to nil")
	}
}

func TestIdentifyErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		retryable bool
		check     func(error) bool
	}{
		{
			name:   "client error",
			status: http.StatusBadRequest,
			body:   `{"error":"invalid image"}`,
			check: func(err error) bool {
				var e *httpclient.ResponseError
				return errors.As(err, &e)
			},
		},
		{
			name:      "rate limited",
			status:    http.StatusTooManyRequests,
			retryable: true,
			check: func(err error) bool {
				var e *httpclient.ResponseError
				return errors.As(err, &e)
			},
		},
		{
			name:   "malformed body",
			status: http.StatusOK,
			body:   `{"result": [`,
			check: func(err error) bool {
				var e *httpclient.UnknownError
				return errors.As(err, &e)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := newClient(t, srv.URL).Identify(context.Background(), recognition.Input{Images: []string{"x"}})
			if err == nil {
				t.Fatal("expected error")
			}
			if !tt.check(err) {
				t.Errorf("error = %T %v", err, err)
			}
			if httpclient.IsRetryable(err) != tt.retryable {
				t.Errorf("IsRetryable = %v, want %v", httpclient.IsRetryable(err), tt.retryable)
			}
		})
	}
}

func TestConverse(t *testing.T) {
	var gotPath, gotQuestion string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		var body struct {
			Question string `json:"question"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		gotQuestion = body.Question
		w.Write([]byte(`{
			"messages": [
				{"type": "question", "content": "Is it edible?", "created": 1},
				{"type": "answer", "content": "Yes, the leaves are edible.", "created": 2}
			],
			"remaining_calls": 14
		}`))
	}))
	defer srv.Close()

	conv, err := newClient(t, srv.URL).Converse(context.Background(), "tok-123", "Is it edible?")
	if err != nil {
		t.Fatalf("Converse() error = %v", err)
	}

	if gotPath != "/identification/tok-123/conversation" {
		t.Errorf("path = %q", gotPath)
	}
	if gotQuestion != "Is it edible?" {
		t.Errorf("question = %q", gotQuestion)
	}
	if conv.Answer() != "Yes, the leaves are edible." {
		t.Errorf("answer = %q", conv.Answer())
	}
	if conv.RemainingCalls == nil || *conv.RemainingCalls != 14 {
		t.Errorf("remaining calls = %v", conv.RemainingCalls)
	}
}

func TestConverseRequiresProviderID(t *testing.T) {
	c := newClient(t, "http://localhost")

	_, err := c.Converse(context.Background(), "", "hello")
	if !errors.Is(err, recognition.ErrEmptyProviderID) {
		t.Errorf("error = %v, want ErrEmptyProviderID", err)
	}
}

func TestConfigFinalize(t *testing.T) {
	t.Run("requires api key", func(t *testing.T) {
		cfg := &recognition.Config{}
		if err := cfg.Finalize(nil); err == nil {
			t.Error("expected error without api key")
		}
	})

	t.Run("defaults", func(t *testing.T) {
		cfg := &recognition.Config{APIKey: "k"}
		if err := cfg.Finalize(nil); err != nil {
			t.Fatalf("Finalize() error = %v", err)
		}
		p := cfg.RetryPolicy()
		if p.MaxAttempts != 3 || p.BaseDelay.Seconds() != 1 {
			t.Errorf("retry policy = %+v", p)
		}
		if cfg.BaseURL != "https://plant.id/api/v3" {
			t.Errorf("base url = %q", cfg.BaseURL)
		}
	})

	t.Run("env overrides", func(t *testing.T) {
		t.Setenv("TEST_RECOGNITION_API_KEY", "from-env")
		t.Setenv("TEST_RECOGNITION_MAX_RETRIES", "5")

		cfg := &recognition.Config{}
		err := cfg.Finalize(&recognition.Env{
			APIKey:     "TEST_RECOGNITION_API_KEY",
			MaxRetries: "TEST_RECOGNITION_MAX_RETRIES",
		})
		if err != nil {
			t.Fatalf("Finalize() error = %v", err)
		}
		if cfg.APIKey != "from-env" || cfg.Retries() != 5 {
			t.Errorf("config = %+v", cfg)
		}
	})
}

func TestConfigZeroRetries(t *testing.T) {
	zero := 0
	cfg := &recognition.Config{APIKey: "k", MaxRetries: &zero}
	if err := cfg.Finalize(nil); err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	if p := cfg.RetryPolicy(); p.MaxAttempts != 0 {
		t.Errorf("MaxAttempts = %d, want 0", p.MaxAttempts)
	}

	overlay := &recognition.Config{MaxRetries: &zero}
	base := &recognition.Config{APIKey: "k"}
	base.Merge(overlay)
	if base.Retries() != 0 {
		t.Errorf("merged retries = %d, want 0", base.Retries())
	}
}
