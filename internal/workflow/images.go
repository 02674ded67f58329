package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/JaimeStill/arbor/internal/metrics"
	"github.com/JaimeStill/arbor/pkg/storage"
)

// storedImages is the outcome of persisting a request's images. created
// holds only the keys this call wrote, which are the only keys compensation
// may remove. The keys stay locked until release, so a concurrent run cannot
// reuse a key that this run may still compensate away.
type storedImages struct {
	keys    []string
	created []string
	release func()
}

// persistImages stores each distinct image under a content-derived key.
// Keys that already exist are reused without re-upload. On failure every
// key written by this call is deleted before the error is returned.
func persistImages(
	ctx context.Context,
	rt *Runtime,
	folder string,
	ownerID string,
	images []Image,
) (*storedImages, error) {
	keys := make([]string, 0, len(images))
	unique := make([]Image, 0, len(images))
	seen := make(map[string]bool, len(images))

	for _, img := range images {
		key := storage.Key(folder, ownerID, img.Name())
		if seen[key] {
			continue
		}
		seen[key] = true
		keys = append(keys, key)
		unique = append(unique, img)
	}

	s := &storedImages{keys: keys, release: rt.Storage.LockKeys(keys...)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)

	for i, img := range unique {
		key := keys[i]

		g.Go(func() error {
			exists, err := rt.Storage.Exists(gctx, key)
			if err != nil {
				metrics.ImageUploads.WithLabelValues("failed").Inc()
				return fmt.Errorf("check image %s: %w", key, err)
			}
			if exists {
				metrics.ImageUploads.WithLabelValues("reused").Inc()
				return nil
			}

			if _, err := rt.Storage.Upload(gctx, key, img.Data, img.MimeType); err != nil {
				metrics.ImageUploads.WithLabelValues("failed").Inc()
				return fmt.Errorf("upload image %s: %w", key, err)
			}
			metrics.ImageUploads.WithLabelValues("uploaded").Inc()

			mu.Lock()
			s.created = append(s.created, key)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		s.compensate(ctx, rt, rt.logger())
		s.release()
		return nil, err
	}

	return s, nil
}

// compensate removes the images this call created. Deletes are best-effort
// and run even when ctx has been cancelled.
func (s *storedImages) compensate(ctx context.Context, rt *Runtime, logger *slog.Logger) {
	if len(s.created) == 0 {
		return
	}

	ctx = context.WithoutCancel(ctx)
	for _, key := range s.created {
		rt.Storage.Delete(ctx, key)
	}

	logger.WarnContext(ctx, "compensating image delete", "keys", s.created)
}
