// Package recognition is the client for the external plant recognition
// service. Responses are decoded through a fully optional wire schema and
// normalized into Assessment values; ranking rules select the top suggestion.
package recognition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/JaimeStill/arbor/pkg/httpclient"
)

// ErrEmptyProviderID indicates a conversation was requested without the
// id of a prior identification.
var ErrEmptyProviderID = errors.New("provider id required")

// Client calls the recognition service. Each method makes exactly one
// request; callers own retry.
type Client interface {
	Identify(ctx context.Context, in Input) (*Assessment, error)
	AssessHealth(ctx context.Context, in Input) (*Assessment, error)
	Converse(ctx context.Context, providerID, question string) (*Conversation, error)
}

type client struct {
	http          *httpclient.Client
	language      string
	details       []string
	healthDetails []string
	logger        *slog.Logger
}

// New creates a recognition client from cfg. opts are forwarded to the
// underlying transport.
func New(cfg *Config, logger *slog.Logger, opts ...httpclient.Option) (Client, error) {
	hc, err := httpclient.New(cfg.ClientConfig(), logger, opts...)
	if err != nil {
		return nil, fmt.Errorf("create recognition transport: %w", err)
	}

	return &client{
		http:          hc,
		language:      cfg.Language,
		details:       cfg.Details,
		healthDetails: cfg.HealthDetails,
		logger:        logger.With("system", "recognition"),
	}, nil
}

type assessmentBody struct {
	Images        []string `json:"images"`
	Latitude      *float64 `json:"latitude,omitempty"`
	Longitude     *float64 `json:"longitude,omitempty"`
	SimilarImages bool     `json:"similar_images"`
}

func (c *client) Identify(ctx context.Context, in Input) (*Assessment, error) {
	return c.assess(ctx, "identification", c.details, kindSpecies, in)
}

func (c *client) AssessHealth(ctx context.Context, in Input) (*Assessment, error) {
	return c.assess(ctx, "health_assessment", c.healthDetails, kindDisease, in)
}

func (c *client) assess(ctx context.Context, path string, details []string, k kind, in Input) (*Assessment, error) {
	resp, err := c.http.Do(ctx, httpclient.Request{
		Method: http.MethodPost,
		Path:   path,
		Query:  c.query(details),
		Body: assessmentBody{
			Images:        in.Images,
			Latitude:      in.Latitude,
			Longitude:     in.Longitude,
			SimilarImages: true,
		},
	})
	if err != nil {
		return nil, httpclient.Normalize(err)
	}

	var wire wireAssessment
	if err := resp.Decode(&wire); err != nil {
		return nil, &httpclient.UnknownError{Err: err}
	}

	a := wire.normalize(k)

	c.logger.DebugContext(
		ctx, "assessment received",
		"path", path,
		"provider_id", a.ProviderID,
		"status", a.Status,
		"suggestions", len(a.Suggestions),
	)

	return a, nil
}

type conversationBody struct {
	Question string `json:"question"`
}

func (c *client) Converse(ctx context.Context, providerID, question string) (*Conversation, error) {
	if providerID == "" {
		return nil, &httpclient.ConfigError{Err: ErrEmptyProviderID}
	}

	resp, err := c.http.Do(ctx, httpclient.Request{
		Method: http.MethodPost,
		Path:   "identification/" + url.PathEscape(providerID) + "/conversation",
		Body:   conversationBody{Question: question},
	})
	if err != nil {
		return nil, httpclient.Normalize(err)
	}

	var wire wireConversation
	if err := resp.Decode(&wire); err != nil {
		return nil, &httpclient.UnknownError{Err: err}
	}

	return wire.normalize(providerID), nil
}

func (c *client) query(details []string) url.Values {
	q := url.Values{}
	if len(details) > 0 {
		q.Set("details", strings.Join(details, ","))
	}
	if c.language != "" {
		q.Set("language", c.language)
	}
	return q
}
