package recognition

import (
	"encoding/json"
	"strings"
)

// Input is the payload of an identification or health assessment call.
// Images are base64 strings or data URIs.
type Input struct {
	Images    []string `json:"images"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

// SimilarImage is a reference image the provider matched against.
type SimilarImage struct {
	ID         string  `json:"id"`
	URL        string  `json:"url"`
	URLSmall   string  `json:"url_small,omitempty"`
	Similarity float64 `json:"similarity"`
	Citation   string  `json:"citation,omitempty"`
}

// Suggestion is a single candidate classification. Probability is the
// provider's confidence and is never re-normalized.
type Suggestion struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Probability   float64        `json:"probability"`
	SimilarImages []SimilarImage `json:"similar_images"`
	Details       map[string]any `json:"details,omitempty"`
}

// Binary is a provider yes/no verdict with its confidence.
type Binary struct {
	Value       bool    `json:"value"`
	Probability float64 `json:"probability"`
	Threshold   float64 `json:"threshold"`
}

// Assessment is the normalized result of an identification or health call.
type Assessment struct {
	ProviderID   string       `json:"provider_id"`
	Status       string       `json:"status"`
	ModelVersion string       `json:"model_version"`
	CustomID     string       `json:"custom_id,omitempty"`
	IsPlant      *Binary      `json:"is_plant,omitempty"`
	IsHealthy    *Binary      `json:"is_healthy,omitempty"`
	Suggestions  []Suggestion `json:"suggestions"`
}

// Message is one turn of a follow-up conversation.
type Message struct {
	Type    string  `json:"type"`
	Content string  `json:"content"`
	Created float64 `json:"created,omitempty"`
}

// Conversation is the state of a follow-up conversation about a prior
// identification.
type Conversation struct {
	ProviderID     string    `json:"provider_id"`
	Messages       []Message `json:"messages"`
	RemainingCalls *int      `json:"remaining_calls,omitempty"`
}

// Answer returns the content of the latest answer message.
func (c *Conversation) Answer() string {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Type == "answer" {
			return c.Messages[i].Content
		}
	}
	return ""
}

// Wire schema. Every provider field may be absent, so all scalars are
// pointers and normalization decides what survives.

type wireBinary struct {
	Binary      *bool    `json:"binary"`
	Probability *float64 `json:"probability"`
	Threshold   *float64 `json:"threshold"`
}

type wireSimilarImage struct {
	ID         *string  `json:"id"`
	URL        *string  `json:"url"`
	URLSmall   *string  `json:"url_small"`
	Similarity *float64 `json:"similarity"`
	Citation   *string  `json:"citation"`
}

type wireSuggestion struct {
	ID            *string            `json:"id"`
	Name          *string            `json:"name"`
	Probability   *float64           `json:"probability"`
	SimilarImages []wireSimilarImage `json:"similar_images"`
	Details       map[string]any     `json:"details"`
}

type wireSuggestions struct {
	Suggestions []wireSuggestion `json:"suggestions"`
}

type wireResult struct {
	IsPlant        *wireBinary      `json:"is_plant"`
	IsHealthy      *wireBinary      `json:"is_healthy"`
	Classification *wireSuggestions `json:"classification"`
	Disease        *wireSuggestions `json:"disease"`
}

type wireAssessment struct {
	AccessToken  *string         `json:"access_token"`
	ModelVersion *string         `json:"model_version"`
	CustomID     json.RawMessage `json:"custom_id"`
	Status       *string         `json:"status"`
	Result       *wireResult     `json:"result"`
}

type wireMessage struct {
	Type    *string  `json:"type"`
	Content *string  `json:"content"`
	Created *float64 `json:"created"`
}

type wireConversation struct {
	Messages       []wireMessage `json:"messages"`
	RemainingCalls *int          `json:"remaining_calls"`
}

type kind int

const (
	kindSpecies kind = iota
	kindDisease
)

func (w *wireAssessment) normalize(k kind) *Assessment {
	a := &Assessment{
		ProviderID:   deref(w.AccessToken),
		Status:       deref(w.Status),
		ModelVersion: deref(w.ModelVersion),
		CustomID:     rawScalar(w.CustomID),
		Suggestions:  []Suggestion{},
	}

	if w.Result == nil {
		return a
	}

	a.IsPlant = w.Result.IsPlant.normalize()
	a.IsHealthy = w.Result.IsHealthy.normalize()

	source := w.Result.Classification
	if k == kindDisease {
		source = w.Result.Disease
	}
	if source != nil {
		a.Suggestions = normalizeSuggestions(source.Suggestions)
	}

	return a
}

func (w *wireBinary) normalize() *Binary {
	if w == nil || w.Binary == nil {
		return nil
	}
	return &Binary{
		Value:       *w.Binary,
		Probability: deref(w.Probability),
		Threshold:   deref(w.Threshold),
	}
}

// normalizeSuggestions drops nameless candidates; a missing probability
// counts as zero.
func normalizeSuggestions(in []wireSuggestion) []Suggestion {
	out := make([]Suggestion, 0, len(in))
	for _, s := range in {
		name := strings.TrimSpace(deref(s.Name))
		if name == "" {
			continue
		}

		images := make([]SimilarImage, 0, len(s.SimilarImages))
		for _, img := range s.SimilarImages {
			if img.URL == nil {
				continue
			}
			images = append(images, SimilarImage{
				ID:         deref(img.ID),
				URL:        *img.URL,
				URLSmall:   deref(img.URLSmall),
				Similarity: deref(img.Similarity),
				Citation:   deref(img.Citation),
			})
		}

		out = append(out, Suggestion{
			ID:            deref(s.ID),
			Name:          name,
			Probability:   deref(s.Probability),
			SimilarImages: images,
			Details:       s.Details,
		})
	}
	return out
}

func (w *wireConversation) normalize(providerID string) *Conversation {
	c := &Conversation{
		ProviderID:     providerID,
		Messages:       make([]Message, 0, len(w.Messages)),
		RemainingCalls: w.RemainingCalls,
	}
	for _, m := range w.Messages {
		if m.Content == nil {
			continue
		}
		c.Messages = append(c.Messages, Message{
			Type:    deref(m.Type),
			Content: *m.Content,
			Created: deref(m.Created),
		})
	}
	return c
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

// rawScalar renders a JSON string or number as text; null and other
// shapes become empty.
func rawScalar(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}

	return ""
}
