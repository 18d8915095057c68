package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jupark12/go-display-pdf/models"
	"github.com/jupark12/go-display-pdf/validate"
)

// heartbeatInterval keeps the event stream alive while nothing is
// happening (slow queue wait, long downloads).
const heartbeatInterval = 500 * time.Millisecond

// handleGenerateWithProgress runs a conversion while pushing progress to
// the client as a server-sent event stream. The final PDF is parked in
// the artifact cache and announced via a complete event carrying the
// task id.
func (s *Server) handleGenerateWithProgress(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		s.writeJSONError(w, http.StatusBadRequest, "request body must carry a url")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeJSONError(w, http.StatusInternalServerError, "streaming is not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	outputName := validate.SafeFilename(req.OutputName)
	job := s.registry.Create(req.URL, outputName)

	// The orchestrator's callback runs on fetch completions; buffer the
	// events and let this handler goroutine do the writing.
	events := make(chan models.ProgressEvent, 64)
	progress := func(stage string, current, total int) {
		select {
		case events <- models.ProgressEvent{Stage: stage, Current: current, Total: total}:
		default:
		}
	}

	type outcome struct {
		pdf []byte
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		pdf, err := s.orch.Run(r.Context(), job, progress)
		done <- outcome{pdf: pdf, err: err}
	}()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case ev := <-events:
			s.writeEvent(w, flusher, translateProgress(ev))

		case <-ticker.C:
			s.writeEvent(w, flusher, models.ProgressEvent{Stage: models.StageHeartbeat})

		case res := <-done:
			// Flush progress that raced with completion.
			for {
				select {
				case ev := <-events:
					s.writeEvent(w, flusher, translateProgress(ev))
					continue
				default:
				}
				break
			}

			if res.err != nil {
				s.writeEvent(w, flusher, models.ProgressEvent{
					Stage:   models.StageError,
					Message: res.err.Error(),
				})
				return
			}

			s.orch.StoreArtifact(job.ID, res.pdf)
			s.writeEvent(w, flusher, models.ProgressEvent{
				Stage:    models.StageComplete,
				TaskID:   job.ID,
				Filename: outputName,
				Size:     len(res.pdf),
				Percent:  100,
			})
			return
		}
	}
}

// translateProgress attaches percentages and messages the way the front
// end expects: downloads span 0-90, conversion sits at 95, done is 100.
func translateProgress(ev models.ProgressEvent) models.ProgressEvent {
	switch ev.Stage {
	case models.StageWaiting:
		ev.Message = "waiting for a free slot"
	case models.StageStarted:
		ev.Message = "processing started"
	case models.StageFetching:
		ev.Message = "fetching document"
	case models.StageDownloading:
		if ev.Total > 0 {
			ev.Percent = ev.Current * 90 / ev.Total
		}
		ev.Message = fmt.Sprintf("downloading %d/%d", ev.Current, ev.Total)
	case models.StageConverting:
		ev.Percent = 95
		ev.Message = "generating pdf"
	case models.StageDone:
		ev.Percent = 100
		ev.Message = "generation finished"
	}
	return ev
}

func (s *Server) writeEvent(w http.ResponseWriter, flusher http.Flusher, ev models.ProgressEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to marshal progress event")
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}
