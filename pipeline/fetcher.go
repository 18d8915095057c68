// Package pipeline downloads cover images under a bounded-concurrency
// gate, tolerating per-image failure, and reassembles the bodies in the
// original page order once every fetch has settled.
package pipeline

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/jupark12/go-display-pdf/document"
	"github.com/jupark12/go-display-pdf/httpclient"
	"github.com/jupark12/go-display-pdf/metrics"
	"github.com/jupark12/go-display-pdf/models"
)

// ErrAllDownloadsFailed means not a single image could be fetched.
var ErrAllDownloadsFailed = errors.New("all image downloads failed")

// Progress is invoked after each stage transition or image completion.
// It runs on the fetch completion path and must be cheap and non-blocking.
type Progress func(stage string, current, total int)

// result tags a downloaded body with its page index. A nil body marks a
// failed download.
type result struct {
	index int
	body  []byte
}

// Fetcher runs the concurrent image-acquisition pipeline.
type Fetcher struct {
	client      *httpclient.Client
	concurrency int
	log         zerolog.Logger
}

// NewFetcher creates a fetcher over the shared HTTP client.
func NewFetcher(client *httpclient.Client, concurrency int, logger zerolog.Logger) *Fetcher {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Fetcher{
		client:      client,
		concurrency: concurrency,
		log:         logger.With().Str("component", "pipeline").Logger(),
	}
}

// FetchAll downloads every referenced image with at most f.concurrency
// requests in flight. One failed download only costs its own page; the
// survivors come back sorted ascending by page index.
func (f *Fetcher) FetchAll(ctx context.Context, refs []document.PageRef, progress Progress) ([][]byte, error) {
	total := len(refs)
	results := make([]result, total)

	var mu sync.Mutex
	completed := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.concurrency)

	for i, ref := range refs {
		i, ref := i, ref
		g.Go(func() error {
			body, err := f.client.FetchBytes(gctx, ref.ImageURL)
			if err != nil {
				f.log.Warn().Err(err).Int("page", ref.Index).Str("url", ref.ImageURL).
					Msg("image download failed, page will be skipped")
				metrics.ImagesFailed.Inc()
				body = nil
			} else {
				metrics.ImagesFetched.Inc()
			}

			// Slot i is this goroutine's alone; only the counter is shared.
			results[i] = result{index: ref.Index, body: body}

			// The callback fires under the lock so observers see counts in
			// order; it is required to be cheap and non-blocking.
			mu.Lock()
			completed++
			if progress != nil {
				progress(models.StageDownloading, completed, total)
			}
			mu.Unlock()
			return nil
		})
	}

	// Fetch errors are absorbed above, so the group never fails.
	_ = g.Wait()

	ok := make([]result, 0, total)
	for _, r := range results {
		if r.body != nil {
			ok = append(ok, r)
		}
	}
	if len(ok) == 0 {
		return nil, ErrAllDownloadsFailed
	}

	// Completion order is arbitrary; restore document order here. Stable
	// so duplicate indices keep their input order.
	sort.SliceStable(ok, func(i, j int) bool {
		return ok[i].index < ok[j].index
	})

	bodies := make([][]byte, len(ok))
	for i, r := range ok {
		bodies[i] = r.body
	}

	f.log.Info().Int("requested", total).Int("fetched", len(ok)).Msg("image downloads settled")
	return bodies, nil
}
