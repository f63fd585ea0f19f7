package server

import (
	"errors"
	"image"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MeKo-Tech/toraxia/internal/pipeline"
	"github.com/MeKo-Tech/toraxia/internal/ranking"
	"github.com/MeKo-Tech/toraxia/internal/session"
	"github.com/MeKo-Tech/toraxia/internal/utils"
)

// analyzerInterface defines the methods needed by the server from an analyzer.
type analyzerInterface interface {
	Analyze(img image.Image) (*pipeline.Analysis, error)
	ExplainName(an *pipeline.Analysis, name string) (*pipeline.Explanation, error)
	Info() pipeline.ModelInfo
	Thresholds() ranking.ThresholdTable
	Close() error
}

// Server holds the HTTP server state and dependencies.
type Server struct {
	analyzer    analyzerInterface
	sessions    *session.Store[*pipeline.Analysis]
	rateLimiter *RateLimiter
	constraints utils.ImageConstraints
	corsOrigin  string
	maxUploadMB int64
	timeout     time.Duration
	language    string
	started     time.Time
	stop        chan struct{}
}

// Config holds server configuration.
type Config struct {
	Host           string
	Port           int
	CORSOrigin     string
	MaxUploadMB    int64
	TimeoutSec     int
	SessionTTL     time.Duration
	MaxSessions    int
	RateLimit      int // requests per minute per client, 0 disables
	Language       string
	PipelineConfig pipeline.Config
}

// DefaultConfig returns a local development configuration.
func DefaultConfig() Config {
	return Config{
		Host:           "localhost",
		Port:           8080,
		CORSOrigin:     "*",
		MaxUploadMB:    50,
		TimeoutSec:     60,
		SessionTTL:     30 * time.Minute,
		MaxSessions:    256,
		Language:       "en",
		PipelineConfig: pipeline.DefaultConfig(),
	}
}

// Response types for API endpoints.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version,omitempty"`
	Time     string `json:"time"`
	Uptime   string `json:"uptime"`
	Sessions int    `json:"sessions"`
}

type ModelResponse struct {
	Model      pipeline.ModelInfo `json:"model"`
	Thresholds map[string]float64 `json:"thresholds"`
}

type AnalyzeResponse struct {
	Success bool             `json:"success"`
	Result  *pipeline.Result `json:"result,omitempty"`
	// Overlay is the base64 PNG of the top class overlay.
	Overlay string `json:"overlay,omitempty"`
	Error   string `json:"error,omitempty"`
}

type ExplainRequest struct {
	Class    string `json:"class"`
	Language string `json:"lang,omitempty"`
}

type ExplainResponse struct {
	Success     bool                        `json:"success"`
	AnalysisID  string                      `json:"analysis_id,omitempty"`
	Explanation *pipeline.ExplanationResult `json:"explanation,omitempty"`
	Overlay     string                      `json:"overlay,omitempty"`
	Error       string                      `json:"error,omitempty"`
}

// NewServer loads the analyzer described by config.PipelineConfig.
func NewServer(config Config) (*Server, error) {
	a, err := pipeline.NewBuilder().WithConfig(config.PipelineConfig).Build()
	if err != nil {
		return nil, err
	}
	s, err := NewServerWithAnalyzer(config, a)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	return s, nil
}

// NewServerWithAnalyzer creates a server around an existing analyzer, which
// the server closes on Close.
func NewServerWithAnalyzer(config Config, a analyzerInterface) (*Server, error) {
	if a == nil {
		return nil, errors.New("server: analyzer is nil")
	}
	def := DefaultConfig()
	if config.MaxUploadMB <= 0 {
		config.MaxUploadMB = def.MaxUploadMB
	}
	if config.TimeoutSec <= 0 {
		config.TimeoutSec = def.TimeoutSec
	}
	if config.MaxSessions <= 0 {
		config.MaxSessions = def.MaxSessions
	}
	if config.CORSOrigin == "" {
		config.CORSOrigin = def.CORSOrigin
	}
	store, err := session.NewStore[*pipeline.Analysis](config.MaxSessions, config.SessionTTL,
		session.WithEvictCallback(func(string) { activeSessions.Dec() }))
	if err != nil {
		return nil, err
	}
	s := &Server{
		analyzer:    a,
		sessions:    store,
		constraints: utils.DefaultImageConstraints(),
		corsOrigin:  config.CORSOrigin,
		maxUploadMB: config.MaxUploadMB,
		timeout:     time.Duration(config.TimeoutSec) * time.Second,
		language:    config.Language,
		started:     time.Now(),
		stop:        make(chan struct{}),
	}
	if config.RateLimit > 0 {
		s.rateLimiter = NewRateLimiter(config.RateLimit, time.Minute)
	}
	if config.SessionTTL > 0 {
		go store.Run(config.SessionTTL/4, s.stop)
	}
	return s, nil
}

// Close stops background sweeping and releases the analyzer.
func (s *Server) Close() error {
	if s.stop != nil {
		select {
		case <-s.stop:
		default:
			close(s.stop)
		}
	}
	if s.analyzer != nil {
		return s.analyzer.Close()
	}
	return nil
}

// SetupRoutes configures the HTTP routes.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.corsMiddleware(s.healthHandler))
	mux.HandleFunc("/model", s.corsMiddleware(s.modelHandler))
	mux.HandleFunc("/analyze", s.corsMiddleware(s.rateLimitMiddleware(s.timeoutMiddleware(s.analyzeHandler))))
	mux.HandleFunc("/analyses/{id}", s.corsMiddleware(s.analysisHandler))
	mux.HandleFunc("/analyses/{id}/explain", s.corsMiddleware(s.rateLimitMiddleware(s.timeoutMiddleware(s.explainHandler))))
	mux.HandleFunc("/analyses/{id}/report", s.corsMiddleware(s.rateLimitMiddleware(s.timeoutMiddleware(s.reportHandler))))
	mux.HandleFunc("/ws/explain", s.rateLimitMiddleware(s.explainWebSocketHandler))
	mux.Handle("/metrics", promhttp.Handler())
}
