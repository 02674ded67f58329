package workflow_test

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"sync"
	"testing"

	"github.com/JaimeStill/arbor/internal/auth"
	"github.com/JaimeStill/arbor/internal/history"
	"github.com/JaimeStill/arbor/internal/recognition"
	"github.com/JaimeStill/arbor/internal/records"
	"github.com/JaimeStill/arbor/internal/workflow"
	"github.com/JaimeStill/arbor/pkg/httpclient"
	"github.com/JaimeStill/arbor/pkg/storage"
)

func imageKey(folder string, data []byte, ext string) string {
	return storage.Key(folder, "owner-1", workflow.Image{Data: data, Ext: ext}.Name())
}

func TestIdentify(t *testing.T) {
	f := newFixture()

	result, err := workflow.Identify(context.Background(), f.rt, owner, workflow.Request{
		Images: []string{encoded(pngData)},
	})
	if err != nil {
		t.Fatalf("Identify() error = %v", err)
	}

	if result.Top == nil || result.Top.Probability != 0.92 {
		t.Errorf("top = %+v, want probability 0.92", result.Top)
	}
	if result.ProviderID != "tok-123" {
		t.Errorf("provider id = %q", result.ProviderID)
	}

	want := imageKey("plants", pngData, ".png")
	if !slices.Equal(result.Images, []string{want}) {
		t.Errorf("images = %v, want [%s]", result.Images, want)
	}
	if result.Record == nil || result.Record.Kind != records.KindSpecies {
		t.Fatalf("record = %+v", result.Record)
	}
	if result.Record.Name != "Taraxacum officinale" {
		t.Errorf("record name = %q", result.Record.Name)
	}

	entries := f.history.Entries()
	if len(entries) != 1 {
		t.Fatalf("history entries = %d, want 1", len(entries))
	}
	if entries[0].Action != history.ActionIdentification {
		t.Errorf("action = %q", entries[0].Action)
	}
	if entries[0].RecordID == nil || *entries[0].RecordID != result.Record.ID {
		t.Errorf("history record id = %v, want %s", entries[0].RecordID, result.Record.ID)
	}
}

func TestIdentifyTwiceConverges(t *testing.T) {
	f := newFixture()
	req := workflow.Request{Images: []string{encoded(pngData), dataURI("image/jpeg", jpegData)}}

	first, err := workflow.Identify(context.Background(), f.rt, owner, req)
	if err != nil {
		t.Fatalf("first Identify() error = %v", err)
	}
	second, err := workflow.Identify(context.Background(), f.rt, owner, req)
	if err != nil {
		t.Fatalf("second Identify() error = %v", err)
	}

	if f.records.Len() != 1 {
		t.Errorf("records = %d, want 1", f.records.Len())
	}
	if first.Record.ID != second.Record.ID {
		t.Errorf("record ids differ: %s vs %s", first.Record.ID, second.Record.ID)
	}
	if second.Record.Detections != 2 {
		t.Errorf("detections = %d, want 2", second.Record.Detections)
	}
	if len(second.Record.ImageKeys) != 2 {
		t.Errorf("image keys = %v, want 2 distinct", second.Record.ImageKeys)
	}
	if f.store.uploads != 2 {
		t.Errorf("uploads = %d, want 2 (second run reuses keys)", f.store.uploads)
	}
}

func TestIdentifyDeduplicatesImages(t *testing.T) {
	f := newFixture()

	result, err := workflow.Identify(context.Background(), f.rt, owner, workflow.Request{
		Images: []string{encoded(pngData), dataURI("image/png", pngData)},
	})
	if err != nil {
		t.Fatalf("Identify() error = %v", err)
	}

	if len(result.Images) != 1 {
		t.Errorf("images = %v, want 1", result.Images)
	}
	if len(f.recognition.inputs[0].Images) != 2 {
		t.Errorf("recognition images = %d, want 2", len(f.recognition.inputs[0].Images))
	}
}

func TestIdentifyRejectsBeforeNetwork(t *testing.T) {
	lat := 91.0

	tests := []struct {
		name     string
		identity bool
		req      workflow.Request
		want     error
	}{
		{"empty images", true, workflow.Request{}, workflow.ErrInvalidRequest},
		{"bad latitude", true, workflow.Request{Images: []string{encoded(pngData)}, Latitude: &lat}, workflow.ErrInvalidRequest},
		{"not an image", true, workflow.Request{Images: []string{encoded([]byte("hello world"))}}, workflow.ErrInvalidRequest},
		{"anonymous caller", false, workflow.Request{Images: []string{encoded(pngData)}}, workflow.ErrUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			id := owner
			if !tt.identity {
				id.Subject = ""
			}

			_, err := workflow.Identify(context.Background(), f.rt, id, tt.req)
			if !errors.Is(err, tt.want) {
				t.Fatalf("error = %v, want %v", err, tt.want)
			}
			if f.recognition.Calls() != 0 {
				t.Errorf("recognition calls = %d, want 0", f.recognition.Calls())
			}
			if f.store.uploads != 0 || len(f.history.Entries()) != 0 {
				t.Error("rejected request must have no side effects")
			}
		})
	}
}

func TestIdentifyRecognitionFailure(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		calls int
	}{
		{"retries exhausted", &httpclient.ResponseError{StatusCode: http.StatusServiceUnavailable}, 3},
		{"not retryable", &httpclient.ResponseError{StatusCode: http.StatusBadRequest}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.recognition.identifyFn = func(recognition.Input) (*recognition.Assessment, error) {
				return nil, tt.err
			}

			_, err := workflow.Identify(context.Background(), f.rt, owner, workflow.Request{
				Images: []string{encoded(pngData)},
			})
			if !errors.Is(err, workflow.ErrRecognitionFailed) {
				t.Fatalf("error = %v, want ErrRecognitionFailed", err)
			}

			var re *httpclient.ResponseError
			if !errors.As(err, &re) || re != tt.err {
				t.Errorf("underlying error = %v, want last observed error", err)
			}
			if f.recognition.Calls() != tt.calls {
				t.Errorf("calls = %d, want %d", f.recognition.Calls(), tt.calls)
			}
			if f.records.Len() != 0 || len(f.history.Entries()) != 0 || f.store.uploads != 0 {
				t.Error("failed recognition must not persist anything")
			}
		})
	}
}

func TestIdentifyRecoversFromTransientFailure(t *testing.T) {
	f := newFixture()
	attempts := 0
	f.recognition.identifyFn = func(recognition.Input) (*recognition.Assessment, error) {
		attempts++
		if attempts < 3 {
			return nil, &httpclient.TransportError{Err: errors.New("timeout")}
		}
		return species(), nil
	}

	if _, err := workflow.Identify(context.Background(), f.rt, owner, workflow.Request{
		Images: []string{encoded(pngData)},
	}); err != nil {
		t.Fatalf("Identify() error = %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestIdentifyWithoutSuggestions(t *testing.T) {
	f := newFixture()
	f.recognition.identifyFn = func(recognition.Input) (*recognition.Assessment, error) {
		return &recognition.Assessment{ProviderID: "tok-0", Suggestions: []recognition.Suggestion{}}, nil
	}

	result, err := workflow.Identify(context.Background(), f.rt, owner, workflow.Request{
		Images: []string{encoded(pngData)},
	})
	if err != nil {
		t.Fatalf("Identify() error = %v", err)
	}

	if result.Top != nil || result.Record != nil {
		t.Errorf("top = %+v, record = %+v, want none", result.Top, result.Record)
	}
	if f.records.Len() != 0 {
		t.Errorf("records = %d, want 0", f.records.Len())
	}

	entries := f.history.Entries()
	if len(entries) != 1 || entries[0].RecordID != nil {
		t.Errorf("history = %+v, want one entry without record", entries)
	}
}

func TestIdentifyUploadFailureCompensates(t *testing.T) {
	f := newFixture()
	failing := imageKey("plants", jpegData, ".jpg")
	f.store.failKey = func(key string) bool { return key == failing }

	_, err := workflow.Identify(context.Background(), f.rt, owner, workflow.Request{
		Images: []string{encoded(pngData), encoded(jpegData)},
	})
	if !errors.Is(err, workflow.ErrPersistFailed) {
		t.Fatalf("error = %v, want ErrPersistFailed", err)
	}

	created := imageKey("plants", pngData, ".png")
	if !slices.Equal(f.store.deletes, []string{created}) {
		t.Errorf("deletes = %v, want [%s]", f.store.deletes, created)
	}
	if len(f.store.Keys()) != 0 {
		t.Errorf("remaining objects = %v, want none", f.store.Keys())
	}
	if f.records.Len() != 0 || len(f.history.Entries()) != 0 {
		t.Error("persist failure must not write record or history")
	}
}

func TestIdentifyUpsertFailureKeepsExistingImages(t *testing.T) {
	f := newFixture()
	existing := imageKey("plants", pngData, ".png")
	f.store.objects[existing] = pngData
	f.records.err = errors.New("connection refused")

	_, err := workflow.Identify(context.Background(), f.rt, owner, workflow.Request{
		Images: []string{encoded(pngData), encoded(jpegData)},
	})
	if !errors.Is(err, workflow.ErrPersistFailed) {
		t.Fatalf("error = %v, want ErrPersistFailed", err)
	}

	created := imageKey("plants", jpegData, ".jpg")
	if !slices.Equal(f.store.deletes, []string{created}) {
		t.Errorf("deletes = %v, want only [%s]", f.store.deletes, created)
	}
	if !slices.Equal(f.store.Keys(), []string{existing}) {
		t.Errorf("remaining = %v, want [%s]", f.store.Keys(), existing)
	}
	if len(f.history.Entries()) != 0 {
		t.Error("history must not be written after persist failure")
	}
}

func TestIdentifyHoldsImageKeysThroughUpsert(t *testing.T) {
	f := newFixture()
	held := 0
	f.records.onUpsert = func(records.UpsertCommand) { held = f.store.locks.Len() }

	if _, err := workflow.Identify(context.Background(), f.rt, owner, workflow.Request{
		Images: []string{encoded(pngData), encoded(jpegData)},
	}); err != nil {
		t.Fatalf("Identify() error = %v", err)
	}

	if held != 2 {
		t.Errorf("keys held during upsert = %d, want 2", held)
	}
	if n := f.store.locks.Len(); n != 0 {
		t.Errorf("keys held after run = %d, want 0", n)
	}
}

func TestConcurrentIdentifyKeepsReusedImages(t *testing.T) {
	for range 20 {
		f := newFixture()
		f.records.failures = 1

		req := workflow.Request{Images: []string{encoded(pngData)}}
		results := make([]*workflow.Result, 2)

		var wg sync.WaitGroup
		for i := range results {
			wg.Go(func() {
				results[i], _ = workflow.Identify(context.Background(), f.rt, owner, req)
			})
		}
		wg.Wait()

		stored := f.store.Keys()
		for _, r := range results {
			if r == nil {
				continue
			}
			for _, key := range r.Images {
				if !slices.Contains(stored, key) {
					t.Fatalf("record references %s, which was deleted", key)
				}
			}
		}
		if n := f.store.locks.Len(); n != 0 {
			t.Fatalf("keys held after runs = %d, want 0", n)
		}
	}
}

func TestHistoryFailureDoesNotAffectResult(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*fakeHistory)
	}{
		{"append error", func(h *fakeHistory) { h.err = errors.New("history table locked") }},
		{"append panic", func(h *fakeHistory) { h.panics = true }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			tt.modify(f.history)

			result, err := workflow.Identify(context.Background(), f.rt, owner, workflow.Request{
				Images: []string{encoded(pngData)},
			})
			if err != nil {
				t.Fatalf("Identify() error = %v", err)
			}
			if result.Record == nil || result.Top == nil {
				t.Errorf("result = %+v, want record and top", result)
			}
		})
	}
}

func TestAssessHealth(t *testing.T) {
	f := newFixture()

	result, err := workflow.AssessHealth(context.Background(), f.rt, owner, workflow.Request{
		Images: []string{encoded(pngData)},
	})
	if err != nil {
		t.Fatalf("AssessHealth() error = %v", err)
	}

	if result.Top == nil || result.Top.ID != "d2" {
		t.Errorf("top = %+v, want d2", result.Top)
	}
	if result.Record.Kind != records.KindDiagnosis {
		t.Errorf("kind = %q", result.Record.Kind)
	}
	if result.Record.IsHealthy == nil || *result.Record.IsHealthy {
		t.Errorf("is_healthy = %v, want false", result.Record.IsHealthy)
	}

	want := imageKey("health", pngData, ".png")
	if !slices.Equal(result.Images, []string{want}) {
		t.Errorf("images = %v, want [%s]", result.Images, want)
	}

	entries := f.history.Entries()
	if len(entries) != 1 || entries[0].Action != history.ActionHealthAssessment {
		t.Errorf("history = %+v", entries)
	}
	if entries[0].Metadata["is_healthy"] != false {
		t.Errorf("metadata is_healthy = %v", entries[0].Metadata["is_healthy"])
	}
}

func TestSpeciesAndDiagnosisAreSeparateRecords(t *testing.T) {
	f := newFixture()
	req := workflow.Request{Images: []string{encoded(pngData)}}

	if _, err := workflow.Identify(context.Background(), f.rt, owner, req); err != nil {
		t.Fatal(err)
	}
	if _, err := workflow.AssessHealth(context.Background(), f.rt, owner, req); err != nil {
		t.Fatal(err)
	}

	if f.records.Len() != 2 {
		t.Errorf("records = %d, want 2", f.records.Len())
	}
}

func TestConverse(t *testing.T) {
	t.Run("answers and records history", func(t *testing.T) {
		f := newFixture()
		f.history.seed("owner-1", "tok-123")
		var gotID, gotQuestion string
		f.recognition.converseFn = func(providerID, question string) (*recognition.Conversation, error) {
			gotID, gotQuestion = providerID, question
			return &recognition.Conversation{
				ProviderID: providerID,
				Messages:   []recognition.Message{{Type: "answer", Content: "Yes."}},
			}, nil
		}

		conv, err := workflow.Converse(context.Background(), f.rt, owner, "tok-123", workflow.Question{Question: " Is it edible? "})
		if err != nil {
			t.Fatalf("Converse() error = %v", err)
		}
		if conv.Answer() != "Yes." {
			t.Errorf("answer = %q", conv.Answer())
		}
		if gotID != "tok-123" || gotQuestion != "Is it edible?" {
			t.Errorf("sent %q %q", gotID, gotQuestion)
		}

		entries := f.history.Entries()
		if len(entries) != 2 || entries[1].Action != history.ActionConversation {
			t.Errorf("history = %+v", entries)
		}
	})

	t.Run("rejects blank question", func(t *testing.T) {
		f := newFixture()

		_, err := workflow.Converse(context.Background(), f.rt, owner, "tok-123", workflow.Question{Question: "  "})
		if !errors.Is(err, workflow.ErrInvalidRequest) {
			t.Errorf("error = %v, want ErrInvalidRequest", err)
		}
		if f.recognition.Calls() != 0 {
			t.Errorf("calls = %d, want 0", f.recognition.Calls())
		}
	})

	t.Run("maps provider failure", func(t *testing.T) {
		f := newFixture()
		f.history.seed("owner-1", "tok-404")
		f.recognition.converseFn = func(string, string) (*recognition.Conversation, error) {
			return nil, &httpclient.ResponseError{StatusCode: http.StatusNotFound}
		}

		_, err := workflow.Converse(context.Background(), f.rt, owner, "tok-404", workflow.Question{Question: "why?"})
		if !errors.Is(err, workflow.ErrRecognitionFailed) {
			t.Errorf("error = %v, want ErrRecognitionFailed", err)
		}
	})
}

func TestConverseRequiresOwnership(t *testing.T) {
	f := newFixture()
	f.recognition.converseFn = func(providerID, _ string) (*recognition.Conversation, error) {
		return &recognition.Conversation{
			ProviderID: providerID,
			Messages:   []recognition.Message{{Type: "answer", Content: "It is a dandelion."}},
		}, nil
	}

	req := workflow.Request{Images: []string{encoded(pngData)}}
	if _, err := workflow.Identify(context.Background(), f.rt, owner, req); err != nil {
		t.Fatalf("Identify() error = %v", err)
	}
	identifyCalls := f.recognition.Calls()

	tests := []struct {
		name       string
		identity   auth.Identity
		providerID string
		wantErr    error
	}{
		{"owner", owner, "tok-123", nil},
		{"other owner", auth.Identity{Subject: "owner-2"}, "tok-123", workflow.ErrNotFound},
		{"unknown id", owner, "tok-999", workflow.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := f.recognition.Calls()

			_, err := workflow.Converse(context.Background(), f.rt, tt.identity, tt.providerID, workflow.Question{Question: "What is it?"})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}

			made := f.recognition.Calls() - before
			if tt.wantErr != nil && made != 0 {
				t.Errorf("recognition calls = %d, want 0", made)
			}
		})
	}

	if f.recognition.Calls() != identifyCalls+1 {
		t.Errorf("total calls = %d, want %d", f.recognition.Calls(), identifyCalls+1)
	}
}

func TestConverseWithoutOwnerLookup(t *testing.T) {
	f := newFixture()
	f.rt.Owners = nil

	_, err := workflow.Converse(context.Background(), f.rt, owner, "tok-123", workflow.Question{Question: "What is it?"})
	if !errors.Is(err, workflow.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestMapHTTPStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
		public error
	}{
		{workflow.ErrUnauthorized, http.StatusUnauthorized, workflow.ErrUnauthorized},
		{workflow.ErrInvalidRequest, http.StatusBadRequest, workflow.ErrInvalidRequest},
		{workflow.ErrNotFound, http.StatusNotFound, workflow.ErrNotFound},
		{workflow.ErrRecognitionFailed, http.StatusBadGateway, workflow.ErrRecognitionFailed},
		{workflow.ErrPersistFailed, http.StatusInternalServerError, workflow.ErrPersistFailed},
		{errors.New("internal detail"), http.StatusInternalServerError, workflow.ErrPersistFailed},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			if got := workflow.MapHTTPStatus(tt.err); got != tt.status {
				t.Errorf("MapHTTPStatus() = %d, want %d", got, tt.status)
			}
			if got := workflow.Public(tt.err); got != tt.public {
				t.Errorf("Public() = %v, want %v", got, tt.public)
			}
		})
	}
}
