package storage

import (
	"context"
	"fmt"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/JaimeStill/arbor/pkg/httpclient"
)

func (s *store) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}

	if int64(len(data)) < s.partSize {
		if err := s.backend.Put(ctx, key, data, contentType); err != nil {
			return "", fmt.Errorf("upload blob %s: %w", key, err)
		}
		return key, nil
	}

	if err := s.uploadMultipart(ctx, key, data, contentType); err != nil {
		return "", err
	}
	return key, nil
}

func (s *store) uploadMultipart(ctx context.Context, key string, data []byte, contentType string) error {
	session, err := s.backend.CreateMultipart(ctx, key, contentType)
	if err != nil {
		return fmt.Errorf("create multipart %s: %w", key, err)
	}

	size := int64(len(data))
	count := int((size + s.partSize - 1) / s.partSize)
	parts := make([]Part, count)

	s.logger.Debug("multipart upload started", "key", key, "size", size, "parts", count)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for i := range count {
		start := int64(i) * s.partSize
		end := min(start+s.partSize, size)

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			part, err := s.uploadPart(gctx, session, i+1, data[start:end])
			if err != nil {
				return err
			}
			parts[i] = part
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		s.abort(ctx, session)
		return err
	}

	slices.SortFunc(parts, func(a, b Part) int {
		return a.Number - b.Number
	})

	if err := s.backend.CompleteMultipart(ctx, session, parts); err != nil {
		s.abort(ctx, session)
		return fmt.Errorf("complete multipart %s: %w", key, err)
	}

	return nil
}

// uploadPart makes 1+maxRetries attempts, waiting partBackoff*2^i after
// the i-th (0-based) failed attempt.
func (s *store) uploadPart(ctx context.Context, session *MultipartSession, number int, chunk []byte) (Part, error) {
	attempts := 1

	policy := httpclient.RetryPolicy{
		MaxAttempts: s.maxRetries,
		BaseDelay:   s.partBackoff,
		ShouldRetry: func(error) bool { return true },
		OnRetry: func(attempt int, delay time.Duration, err error) {
			attempts = attempt
			s.logger.Warn(
				"part upload failed, retrying",
				"key", session.Key,
				"part", number,
				"attempt", attempt,
				"delay", delay,
				"error", err,
			)
		},
	}

	part, err := httpclient.Retry(ctx, policy, func(ctx context.Context) (Part, error) {
		return s.backend.UploadPart(ctx, session, number, chunk)
	})
	if err != nil {
		return Part{}, &PartUploadError{
			Key:      session.Key,
			Part:     number,
			Attempts: attempts,
			Err:      err,
		}
	}

	return part, nil
}

// abort runs on a context detached from cancellation so cleanup still
// reaches the backend after the caller gives up.
func (s *store) abort(ctx context.Context, session *MultipartSession) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("multipart abort panicked", "key", session.Key, "panic", r)
		}
	}()

	if err := s.backend.AbortMultipart(context.WithoutCancel(ctx), session); err != nil {
		s.logger.Error("multipart abort failed", "key", session.Key, "upload_id", session.UploadID, "error", err)
		return
	}

	s.logger.Info("multipart upload aborted", "key", session.Key, "upload_id", session.UploadID)
}
