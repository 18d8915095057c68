package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Settings holds every runtime knob for the service. Values come from the
// environment with fixed defaults, optionally seeded from a .env file.
type Settings struct {
	HTTPAddr string

	// SSRF allow-lists. The document URL and the image URLs are checked
	// against separate sets.
	AllowedHosts      map[string]struct{}
	AllowedImageHosts map[string]struct{}

	MaxPages  int
	MaxImages int

	RequestTimeout time.Duration
	TotalTimeout   time.Duration

	DownloadConcurrency int
	MaxTasks            int

	MaxIdleConns        int
	MaxIdleConnsPerHost int

	CacheTTL     time.Duration
	JobRetention time.Duration

	UserAgent string
	LogPretty bool
}

// Load reads settings from the environment. A missing or malformed value
// falls back to its default.
func Load() *Settings {
	// Best effort: a .env file is optional.
	_ = godotenv.Load()

	return &Settings{
		HTTPAddr:            envString("HTTP_ADDR", ":8080"),
		AllowedHosts:        envHosts("ALLOWED_HOSTS", "iteach-cloudedit.xdf.cn,iteachcdn.xdf.cn"),
		AllowedImageHosts:   envHosts("ALLOWED_IMAGE_HOSTS", "iteachcdn.xdf.cn"),
		MaxPages:            envInt("MAX_PAGES", 2000),
		MaxImages:           envInt("MAX_IMAGES", 2000),
		RequestTimeout:      envSeconds("REQUEST_TIMEOUT", 30),
		TotalTimeout:        envSeconds("TOTAL_TIMEOUT", 180),
		DownloadConcurrency: envInt("DOWNLOAD_CONCURRENCY", 20),
		MaxTasks:            envInt("MAX_TASKS", 4),
		MaxIdleConns:        envInt("MAX_IDLE_CONNS", 50),
		MaxIdleConnsPerHost: envInt("MAX_IDLE_CONNS_PER_HOST", 20),
		CacheTTL:            envSeconds("CACHE_TTL", 300),
		JobRetention:        envSeconds("JOB_RETENTION", 300),
		UserAgent: envString("USER_AGENT",
			"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120 Safari/537.36"),
		LogPretty: envBool("LOG_PRETTY", false),
	}
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envSeconds(key string, def float64) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return time.Duration(def * float64(time.Second))
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return time.Duration(def * float64(time.Second))
	}
	return time.Duration(f * float64(time.Second))
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envHosts(key, def string) map[string]struct{} {
	v := os.Getenv(key)
	if v == "" {
		v = def
	}
	hosts := make(map[string]struct{})
	for _, h := range strings.Split(v, ",") {
		h = strings.TrimSpace(h)
		if h != "" {
			hosts[h] = struct{}{}
		}
	}
	return hosts
}
