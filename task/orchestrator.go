// Package task runs one conversion end to end: extract the document URL,
// fetch and index the page list, download the images, encode the PDF.
// Admission permits bound how many conversions run at once and a single
// deadline covers the whole chain.
package task

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/jupark12/go-display-pdf/cache"
	"github.com/jupark12/go-display-pdf/config"
	"github.com/jupark12/go-display-pdf/document"
	"github.com/jupark12/go-display-pdf/httpclient"
	"github.com/jupark12/go-display-pdf/metrics"
	"github.com/jupark12/go-display-pdf/models"
	"github.com/jupark12/go-display-pdf/pdfgen"
	"github.com/jupark12/go-display-pdf/pipeline"
	"github.com/jupark12/go-display-pdf/validate"
)

// ErrTimeout means the conversion exceeded the total job deadline.
var ErrTimeout = errors.New("conversion timed out")

// Orchestrator owns the conversion chain and its shared resources.
type Orchestrator struct {
	cfg       *config.Settings
	client    *httpclient.Client
	fetcher   *pipeline.Fetcher
	registry  *Registry
	artifacts *cache.Store
	permits   *semaphore.Weighted
	log       zerolog.Logger
}

// New wires the orchestrator over the shared client, registry and
// artifact store.
func New(cfg *config.Settings, client *httpclient.Client, fetcher *pipeline.Fetcher,
	registry *Registry, artifacts *cache.Store, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		client:    client,
		fetcher:   fetcher,
		registry:  registry,
		artifacts: artifacts,
		permits:   semaphore.NewWeighted(int64(cfg.MaxTasks)),
		log:       logger.With().Str("component", "orchestrator").Logger(),
	}
}

// Run executes the job's conversion and returns the PDF bytes. The job
// waits for an admission permit, then the entire chain runs under the
// total deadline. Terminal state and metrics are recorded here.
func (o *Orchestrator) Run(ctx context.Context, job *models.ConversionJob, progress pipeline.Progress) ([]byte, error) {
	report := func(stage string, current, total int) {
		if progress != nil {
			progress(stage, current, total)
		}
	}

	report(models.StageWaiting, 0, 0)
	if err := o.permits.Acquire(ctx, 1); err != nil {
		o.registry.MarkFailed(job.ID, "request cancelled while queued")
		metrics.JobsTotal.WithLabelValues(string(models.StatusFailed)).Inc()
		return nil, fmt.Errorf("waiting for a conversion slot: %w", err)
	}
	defer o.permits.Release(1)

	metrics.JobsInFlight.Inc()
	defer metrics.JobsInFlight.Dec()

	o.registry.MarkRunning(job.ID)
	report(models.StageStarted, 0, 0)

	runCtx, cancel := context.WithTimeout(ctx, o.cfg.TotalTimeout)
	defer cancel()

	pdf, err := o.convert(runCtx, job, report)
	if err != nil {
		// Only the job deadline counts as a timeout. A single upstream
		// request timing out also wraps DeadlineExceeded, so classify on
		// runCtx rather than on the error chain.
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			o.log.Warn().Str("job_id", job.ID).Dur("deadline", o.cfg.TotalTimeout).Msg("job timed out")
			o.registry.MarkTimedOut(job.ID, fmt.Sprintf("exceeded total timeout of %s", o.cfg.TotalTimeout))
			metrics.JobsTotal.WithLabelValues(string(models.StatusTimedOut)).Inc()
			return nil, fmt.Errorf("%w after %s", ErrTimeout, o.cfg.TotalTimeout)
		}
		o.log.Error().Err(err).Str("job_id", job.ID).Msg("job failed")
		o.registry.MarkFailed(job.ID, err.Error())
		metrics.JobsTotal.WithLabelValues(string(models.StatusFailed)).Inc()
		return nil, err
	}

	o.registry.MarkSucceeded(job.ID, len(pdf))
	metrics.JobsTotal.WithLabelValues(string(models.StatusSucceeded)).Inc()
	metrics.PDFBytes.Add(float64(len(pdf)))
	o.log.Info().Str("job_id", job.ID).Int("pdf_bytes", len(pdf)).Msg("job succeeded")
	return pdf, nil
}

func (o *Orchestrator) convert(ctx context.Context, job *models.ConversionJob, report pipeline.Progress) ([]byte, error) {
	jsonURL, err := validate.ExtractJSONURL(job.SourceReference)
	if err != nil {
		return nil, err
	}
	if err := validate.Host(jsonURL, o.cfg.AllowedHosts); err != nil {
		return nil, err
	}

	report(models.StageFetching, 0, 0)
	var doc document.Display
	if err := o.client.FetchJSON(ctx, jsonURL, &doc); err != nil {
		return nil, err
	}

	refs, err := document.BuildIndex(&doc, o.cfg)
	if err != nil {
		return nil, err
	}

	report(models.StageDownloading, 0, len(refs))
	images, err := o.fetcher.FetchAll(ctx, refs, report)
	if err != nil {
		return nil, err
	}

	report(models.StageConverting, len(refs), len(refs))

	// Encoding is CPU-bound; run it aside so the deadline still applies
	// and the caller's relay keeps draining progress.
	type encoded struct {
		pdf []byte
		err error
	}
	ch := make(chan encoded, 1)
	go func() {
		pdf, err := pdfgen.Encode(images)
		ch <- encoded{pdf: pdf, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		report(models.StageDone, len(refs), len(refs))
		return res.pdf, nil
	}
}

// StoreArtifact caches a finished PDF for later retrieval by task id.
func (o *Orchestrator) StoreArtifact(jobID string, pdf []byte) {
	o.artifacts.Put(jobID, pdf)
}

// Artifact fetches a cached PDF; ok is false when it is unknown or has
// expired.
func (o *Orchestrator) Artifact(jobID string) ([]byte, bool) {
	return o.artifacts.Get(jobID)
}
