package task

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jupark12/go-display-pdf/cache"
	"github.com/jupark12/go-display-pdf/config"
	"github.com/jupark12/go-display-pdf/httpclient"
	"github.com/jupark12/go-display-pdf/models"
	"github.com/jupark12/go-display-pdf/pipeline"
	"github.com/jupark12/go-display-pdf/validate"
)

func testPNG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))))
	return buf.Bytes()
}

// upstream serves both the display document and its images from one host
// so the test allow-list is just the httptest address.
func upstream(t *testing.T, doc func(host string) string, imageDelay time.Duration) *httptest.Server {
	t.Helper()
	img := testPNG(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/doc.json":
			fmt.Fprint(w, doc(r.Host))
		default:
			if imageDelay > 0 {
				time.Sleep(imageDelay)
			}
			w.Write(img)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testOrchestrator(t *testing.T, cfg *config.Settings) (*Orchestrator, *Registry) {
	t.Helper()
	logger := zerolog.Nop()
	client := httpclient.New(cfg, logger)
	t.Cleanup(client.Close)

	fetcher := pipeline.NewFetcher(client, cfg.DownloadConcurrency, logger)
	registry := NewRegistry(cfg.JobRetention, logger)
	artifacts := cache.New(cfg.CacheTTL, logger)
	return New(cfg, client, fetcher, registry, artifacts, logger), registry
}

func baseConfig() *config.Settings {
	return &config.Settings{
		AllowedHosts:        map[string]struct{}{"127.0.0.1": {}},
		AllowedImageHosts:   map[string]struct{}{"127.0.0.1": {}},
		MaxPages:            2000,
		MaxImages:           2000,
		RequestTimeout:      5 * time.Second,
		TotalTimeout:        30 * time.Second,
		DownloadConcurrency: 10,
		MaxTasks:            4,
		MaxIdleConns:        50,
		MaxIdleConnsPerHost: 20,
		CacheTTL:            time.Minute,
		JobRetention:        time.Minute,
		UserAgent:           "display-pdf-test",
	}
}

func TestRunHappyPath(t *testing.T) {
	srv := upstream(t, func(host string) string {
		return fmt.Sprintf(`{"pages":[
			{"_idx":2,"coverImg":"http://%s/b.png"},
			{"_idx":1,"coverImg":"http://%s/a.png"}
		]}`, host, host)
	}, 0)

	o, registry := testOrchestrator(t, baseConfig())
	job := registry.Create(srv.URL+"/doc.json", "out.pdf")

	var mu sync.Mutex
	var stages []string
	progress := func(stage string, current, total int) {
		mu.Lock()
		stages = append(stages, stage)
		mu.Unlock()
	}

	pdf, err := o.Run(context.Background(), job, progress)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(pdf, []byte("%PDF-")))

	got, ok := registry.Get(job.ID)
	require.True(t, ok)
	assert.Equal(t, models.StatusSucceeded, got.Status)
	assert.Equal(t, len(pdf), got.PDFSize)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, stages)
	assert.Equal(t, models.StageWaiting, stages[0])
	assert.Contains(t, stages, models.StageStarted)
	assert.Contains(t, stages, models.StageFetching)
	assert.Contains(t, stages, models.StageDownloading)
	assert.Contains(t, stages, models.StageConverting)
	assert.Equal(t, models.StageDone, stages[len(stages)-1])
}

func TestRunViewerReference(t *testing.T) {
	srv := upstream(t, func(host string) string {
		return fmt.Sprintf(`{"pages":[{"_idx":1,"coverImg":"http://%s/a.png"}]}`, host)
	}, 0)

	o, registry := testOrchestrator(t, baseConfig())
	viewer := fmt.Sprintf("http://viewer.example/display.html?jsonUrl=%s", srv.URL+"/doc.json")
	job := registry.Create(viewer, "out.pdf")

	pdf, err := o.Run(context.Background(), job, nil)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(pdf, []byte("%PDF-")))
}

func TestRunForbiddenDocumentHost(t *testing.T) {
	requests := int64(0)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&requests, 1)
	}))
	defer srv.Close()

	cfg := baseConfig()
	cfg.AllowedHosts = map[string]struct{}{"doc.example": {}}

	o, registry := testOrchestrator(t, cfg)
	job := registry.Create(srv.URL+"/doc.json", "out.pdf")

	_, err := o.Run(context.Background(), job, nil)
	require.ErrorIs(t, err, validate.ErrForbiddenHost)
	assert.Equal(t, int64(0), atomic.LoadInt64(&requests))

	got, _ := registry.Get(job.ID)
	assert.Equal(t, models.StatusFailed, got.Status)
}

func TestRunBadReference(t *testing.T) {
	o, registry := testOrchestrator(t, baseConfig())
	job := registry.Create("http://viewer.example/display.html?nothing=here", "out.pdf")

	_, err := o.Run(context.Background(), job, nil)
	assert.ErrorIs(t, err, validate.ErrBadReference)
}

func TestRunAllDownloadsFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/doc.json" {
			fmt.Fprintf(w, `{"pages":[{"_idx":1,"coverImg":"http://%s/a.png"}]}`, r.Host)
			return
		}
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	o, registry := testOrchestrator(t, baseConfig())
	job := registry.Create(srv.URL+"/doc.json", "out.pdf")

	_, err := o.Run(context.Background(), job, nil)
	require.ErrorIs(t, err, pipeline.ErrAllDownloadsFailed)

	got, _ := registry.Get(job.ID)
	assert.Equal(t, models.StatusFailed, got.Status)
}

func TestRunTimesOutWithBoundedOvershoot(t *testing.T) {
	srv := upstream(t, func(host string) string {
		return fmt.Sprintf(`{"pages":[{"_idx":1,"coverImg":"http://%s/a.png"}]}`, host)
	}, 2*time.Second)

	cfg := baseConfig()
	cfg.TotalTimeout = 100 * time.Millisecond

	o, registry := testOrchestrator(t, cfg)
	job := registry.Create(srv.URL+"/doc.json", "out.pdf")

	start := time.Now()
	_, err := o.Run(context.Background(), job, nil)
	elapsed := time.Since(start)

	require.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, elapsed, 1500*time.Millisecond, "timeout must surface promptly")

	got, _ := registry.Get(job.ID)
	assert.Equal(t, models.StatusTimedOut, got.Status)
}

func TestRunSlowDocumentFetchFailsWithoutTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		fmt.Fprintf(w, `{"pages":[{"_idx":1,"coverImg":"http://%s/a.png"}]}`, r.Host)
	}))
	defer srv.Close()

	// The per-request timeout trips long before the job deadline does, so
	// this is an upstream failure, not a job timeout.
	cfg := baseConfig()
	cfg.RequestTimeout = 50 * time.Millisecond

	o, registry := testOrchestrator(t, cfg)
	job := registry.Create(srv.URL+"/doc.json", "out.pdf")

	_, err := o.Run(context.Background(), job, nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrTimeout)

	got, _ := registry.Get(job.ID)
	assert.Equal(t, models.StatusFailed, got.Status)
}

func TestRunAdmissionPermits(t *testing.T) {
	img := testPNG(t)
	var inFlight, peak int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/doc.json" {
			n := atomic.AddInt64(&inFlight, 1)
			for {
				p := atomic.LoadInt64(&peak)
				if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
					break
				}
			}
			time.Sleep(60 * time.Millisecond)
			atomic.AddInt64(&inFlight, -1)
			fmt.Fprintf(w, `{"pages":[{"_idx":1,"coverImg":"http://%s/a.png"}]}`, r.Host)
			return
		}
		w.Write(img)
	}))
	defer srv.Close()

	cfg := baseConfig()
	cfg.MaxTasks = 1

	o, registry := testOrchestrator(t, cfg)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			job := registry.Create(srv.URL+"/doc.json", "out.pdf")
			_, err := o.Run(context.Background(), job, nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), atomic.LoadInt64(&peak), "only one job may fetch at a time")
}

func TestArtifactRoundTrip(t *testing.T) {
	o, _ := testOrchestrator(t, baseConfig())

	o.StoreArtifact("task-1", []byte("pdf"))
	got, ok := o.Artifact("task-1")
	require.True(t, ok)
	assert.Equal(t, "pdf", string(got))

	_, ok = o.Artifact("unknown")
	assert.False(t, ok)
}
