package task

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jupark12/go-display-pdf/models"
)

// Registry tracks every conversion job for its lifetime. Jobs are held in
// memory only; a terminal job is pruned after the retention window. Readers
// always receive value copies taken under the lock, never the tracked
// pointer, so they can be marshaled while transitions rewrite the job.
type Registry struct {
	mu        sync.RWMutex
	jobs      map[string]*models.ConversionJob
	updates   chan models.ConversionJob
	retention time.Duration
	log       zerolog.Logger
}

// NewRegistry creates an empty job registry.
func NewRegistry(retention time.Duration, logger zerolog.Logger) *Registry {
	return &Registry{
		jobs:      make(map[string]*models.ConversionJob),
		updates:   make(chan models.ConversionJob, 100),
		retention: retention,
		log:       logger.With().Str("component", "registry").Logger(),
	}
}

// Create registers a new queued job and returns it.
func (r *Registry) Create(sourceReference, outputName string) *models.ConversionJob {
	job := &models.ConversionJob{
		ID:              uuid.New().String(),
		SourceReference: sourceReference,
		OutputName:      outputName,
		Status:          models.StatusQueued,
		CreatedAt:       time.Now(),
	}

	r.mu.Lock()
	r.jobs[job.ID] = job
	snapshot := *job
	r.mu.Unlock()

	r.log.Info().Str("job_id", job.ID).Str("reference", sourceReference).Msg("job created")
	r.notify(snapshot)
	return job
}

// MarkRunning transitions a job to running.
func (r *Registry) MarkRunning(jobID string) {
	r.transition(jobID, func(job *models.ConversionJob) {
		now := time.Now()
		job.Status = models.StatusRunning
		job.StartedAt = &now
	})
}

// MarkSucceeded records a successful conversion and its output size.
func (r *Registry) MarkSucceeded(jobID string, pdfSize int) {
	r.transition(jobID, func(job *models.ConversionJob) {
		now := time.Now()
		job.Status = models.StatusSucceeded
		job.CompletedAt = &now
		job.PDFSize = pdfSize
	})
}

// MarkFailed records a failed conversion with its originating error.
func (r *Registry) MarkFailed(jobID, errMsg string) {
	r.transition(jobID, func(job *models.ConversionJob) {
		now := time.Now()
		job.Status = models.StatusFailed
		job.CompletedAt = &now
		job.ErrorMessage = errMsg
	})
}

// MarkTimedOut records a conversion that exceeded the total deadline.
func (r *Registry) MarkTimedOut(jobID, errMsg string) {
	r.transition(jobID, func(job *models.ConversionJob) {
		now := time.Now()
		job.Status = models.StatusTimedOut
		job.CompletedAt = &now
		job.ErrorMessage = errMsg
	})
}

// Get retrieves a copy of a job by ID.
func (r *Registry) Get(jobID string) (models.ConversionJob, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return models.ConversionJob{}, false
	}
	return *job, true
}

// Jobs returns a snapshot of every tracked job.
func (r *Registry) Jobs() []models.ConversionJob {
	r.mu.RLock()
	defer r.mu.RUnlock()

	jobs := make([]models.ConversionJob, 0, len(r.jobs))
	for _, job := range r.jobs {
		jobs = append(jobs, *job)
	}
	return jobs
}

// Updates returns the stream of job state changes.
func (r *Registry) Updates() <-chan models.ConversionJob {
	return r.updates
}

func (r *Registry) transition(jobID string, apply func(*models.ConversionJob)) {
	r.mu.Lock()
	job, ok := r.jobs[jobID]
	if !ok {
		r.mu.Unlock()
		r.log.Warn().Str("job_id", jobID).Msg("transition for unknown job")
		return
	}
	// Terminal states are final.
	if job.Status.Terminal() {
		r.mu.Unlock()
		return
	}
	apply(job)
	terminal := job.Status.Terminal()
	snapshot := *job
	r.mu.Unlock()

	r.notify(snapshot)

	if terminal {
		time.AfterFunc(r.retention, func() {
			r.prune(jobID)
		})
	}
}

func (r *Registry) prune(jobID string) {
	r.mu.Lock()
	delete(r.jobs, jobID)
	r.mu.Unlock()
}

// notify pushes an update for the websocket hub without ever blocking a
// state transition.
func (r *Registry) notify(job models.ConversionJob) {
	select {
	case r.updates <- job:
	default:
	}
}
