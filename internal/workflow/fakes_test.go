package workflow_test

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JaimeStill/arbor/internal/auth"
	"github.com/JaimeStill/arbor/internal/history"
	"github.com/JaimeStill/arbor/internal/recognition"
	"github.com/JaimeStill/arbor/internal/records"
	"github.com/JaimeStill/arbor/internal/workflow"
	"github.com/JaimeStill/arbor/pkg/httpclient"
	"github.com/JaimeStill/arbor/pkg/storage"
)

var (
	pngData  = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR-leaf")
	jpegData = []byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00-stem")
)

func encoded(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

func dataURI(mime string, data []byte) string {
	return "data:" + mime + ";base64," + encoded(data)
}

var owner = auth.Identity{Subject: "owner-1"}

type fakeAuth struct{}

func (fakeAuth) ValidateCaller(_ context.Context, identity auth.Identity) (*auth.Owner, error) {
	if identity.Subject == "" {
		return nil, auth.ErrUnauthorized
	}
	return &auth.Owner{ID: identity.Subject}, nil
}

type fakeRecognition struct {
	mu         sync.Mutex
	calls      int
	inputs     []recognition.Input
	identifyFn func(recognition.Input) (*recognition.Assessment, error)
	healthFn   func(recognition.Input) (*recognition.Assessment, error)
	converseFn func(providerID, question string) (*recognition.Conversation, error)
}

func (f *fakeRecognition) record(in recognition.Input) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.inputs = append(f.inputs, in)
}

func (f *fakeRecognition) Identify(_ context.Context, in recognition.Input) (*recognition.Assessment, error) {
	f.record(in)
	return f.identifyFn(in)
}

func (f *fakeRecognition) AssessHealth(_ context.Context, in recognition.Input) (*recognition.Assessment, error) {
	f.record(in)
	return f.healthFn(in)
}

func (f *fakeRecognition) Converse(_ context.Context, providerID, question string) (*recognition.Conversation, error) {
	f.record(recognition.Input{})
	return f.converseFn(providerID, question)
}

func (f *fakeRecognition) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	uploads int
	deletes []string
	failKey func(key string) bool
	locks   storage.KeyLocks
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string][]byte{}}
}

func (s *fakeStore) Upload(_ context.Context, key string, data []byte, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failKey != nil && s.failKey(key) {
		return "", &httpclient.TransportError{Err: errors.New("connection reset")}
	}
	s.uploads++
	s.objects[key] = data
	return key, nil
}

func (s *fakeStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok, nil
}

func (s *fakeStore) Delete(_ context.Context, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes = append(s.deletes, key)
	delete(s.objects, key)
}

func (s *fakeStore) LockKeys(keys ...string) func() {
	return s.locks.Lock(keys...)
}

func (s *fakeStore) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Sorted(maps.Keys(s.objects))
}

// fakeRecords merges by (owner, kind, name key) the way the database
// upsert does.
type fakeRecords struct {
	mu      sync.Mutex
	records map[string]*records.Record
	err     error
	// failures makes the next n upserts fail.
	failures int
	onUpsert func(records.UpsertCommand)
}

func newFakeRecords() *fakeRecords {
	return &fakeRecords{records: map[string]*records.Record{}}
}

func (f *fakeRecords) Upsert(_ context.Context, cmd records.UpsertCommand) (*records.Record, error) {
	if f.onUpsert != nil {
		f.onUpsert(cmd)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("serialization failure")
	}

	key := cmd.OwnerID + "|" + string(cmd.Kind) + "|" + records.NameKey(cmd.Name)
	rec, ok := f.records[key]
	if !ok {
		rec = &records.Record{
			ID:        uuid.New(),
			OwnerID:   cmd.OwnerID,
			Kind:      cmd.Kind,
			NameKey:   records.NameKey(cmd.Name),
			CreatedAt: time.Now(),
		}
		f.records[key] = rec
	}

	rec.Name = cmd.Name
	rec.Probability = cmd.Probability
	rec.Suggestions = cmd.Suggestions
	rec.Details = cmd.Details
	rec.IsHealthy = cmd.IsHealthy
	rec.ImageKeys = slices.Compact(slices.Sorted(slices.Values(append(slices.Clone(rec.ImageKeys), cmd.ImageKeys...))))
	rec.Detections++
	rec.UpdatedAt = time.Now()

	out := *rec
	return &out, nil
}

func (f *fakeRecords) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

type fakeHistory struct {
	mu      sync.Mutex
	entries []history.AppendCommand
	err     error
	panics  bool
}

func (f *fakeHistory) Append(_ context.Context, cmd history.AppendCommand) (*history.Entry, error) {
	if f.panics {
		panic("history store unavailable")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}
	f.entries = append(f.entries, cmd)
	return &history.Entry{ID: uuid.New(), OwnerID: cmd.OwnerID, Action: cmd.Action}, nil
}

func (f *fakeHistory) OwnsIdentification(_ context.Context, ownerID, providerID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, e := range f.entries {
		if e.OwnerID == ownerID && e.Action == history.ActionIdentification && e.Metadata["provider_id"] == providerID {
			return true, nil
		}
	}
	return false, nil
}

// seed records an identification for ownerID as a prior run would.
func (f *fakeHistory) seed(ownerID, providerID string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.entries = append(f.entries, history.AppendCommand{
		OwnerID:  ownerID,
		Action:   history.ActionIdentification,
		Metadata: map[string]any{"provider_id": providerID},
	})
}

func (f *fakeHistory) Entries() []history.AppendCommand {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.entries)
}

type fixture struct {
	rt          *workflow.Runtime
	recognition *fakeRecognition
	store       *fakeStore
	records     *fakeRecords
	history     *fakeHistory
}

func newFixture() *fixture {
	f := &fixture{
		recognition: &fakeRecognition{
			identifyFn: func(recognition.Input) (*recognition.Assessment, error) {
				return species(), nil
			},
			healthFn: func(recognition.Input) (*recognition.Assessment, error) {
				return diagnosis(), nil
			},
		},
		store:   newFakeStore(),
		records: newFakeRecords(),
		history: &fakeHistory{},
	}

	f.rt = &workflow.Runtime{
		Auth:        fakeAuth{},
		Recognition: f.recognition,
		Storage:     f.store,
		Records:     f.records,
		History:     f.history,
		Owners:      f.history,
		Retry:       httpclient.RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond},
		Folders:     workflow.Folders{Species: "plants", Health: "health"},
		Limits:      workflow.Limits{MaxImages: 5, MaxImageSize: 1024},
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	return f
}

func species() *recognition.Assessment {
	return &recognition.Assessment{
		ProviderID:   "tok-123",
		Status:       "COMPLETED",
		ModelVersion: "plant_id:3.1.0",
		IsPlant:      &recognition.Binary{Value: true, Probability: 0.99},
		Suggestions: []recognition.Suggestion{
			{ID: "s1", Name: "Taraxacum officinale", Probability: 0.92},
		},
	}
}

func diagnosis() *recognition.Assessment {
	return &recognition.Assessment{
		ProviderID: "tok-456",
		Status:     "COMPLETED",
		IsHealthy:  &recognition.Binary{Value: false, Probability: 0.12},
		Suggestions: []recognition.Suggestion{
			{ID: "d1", Name: "water excess", Probability: 0.4},
			{ID: "d2", Name: "Fungi", Probability: 0.7},
		},
	}
}
