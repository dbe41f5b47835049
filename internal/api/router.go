package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/roman-kulish/signal-logger/internal/measurement"
	"github.com/roman-kulish/signal-logger/internal/pipeline"
	"github.com/roman-kulish/signal-logger/internal/storage"
	"github.com/roman-kulish/signal-logger/internal/upload"
)

const (
	defaultLiveInterval = time.Second
	defaultLiveTail     = 20
)

// Controller starts and stops logging sessions
type Controller interface {
	Start(ctx context.Context, filename string) (*storage.Session, error)
	Stop(ctx context.Context) (*storage.Session, error)
	Status() pipeline.Status
	Log() *measurement.Log
}

// Syncer runs the sync task on demand
type Syncer interface {
	TriggerNow(ctx context.Context) (upload.Result, error)
	Last() (upload.Result, time.Time, bool)
}

// WithLogger sets the logger for the server
func WithLogger(logger *slog.Logger) func(*Server) {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithSyncer enables the sync endpoint
func WithSyncer(syncer Syncer) func(*Server) {
	return func(s *Server) {
		s.syncer = syncer
	}
}

// WithLiveFeed sets how often the live feed is refreshed and how many of the
// latest records each update carries.
func WithLiveFeed(interval time.Duration, tail int) func(*Server) {
	return func(s *Server) {
		if interval > 0 {
			s.liveInterval = interval
		}
		if tail > 0 {
			s.liveTail = tail
		}
	}
}

// Server exposes the manual controls over HTTP
type Server struct {
	deviceID   string
	controller Controller
	store      storage.Store
	syncer     Syncer

	liveInterval time.Duration
	liveTail     int
	upgrader     websocket.Upgrader
	logger       *slog.Logger
}

// NewServer creates a Server. Sync is unavailable unless WithSyncer is given.
func NewServer(deviceID string, controller Controller, store storage.Store, options ...func(*Server)) *Server {
	s := Server{
		deviceID:     deviceID,
		controller:   controller,
		store:        store,
		liveInterval: defaultLiveInterval,
		liveTail:     defaultLiveTail,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 16384,
		},
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&s)
	}

	return &s
}

// Router builds the gin engine serving the API
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger(), corsMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := r.Group("/api/v1")
	{
		v1.GET("/status", s.status)

		sessions := v1.Group("/sessions")
		sessions.POST("", s.startSession)
		sessions.POST("/stop", s.stopSession)
		sessions.GET("", s.listSessions)
		sessions.GET("/:id", s.getSession)
		sessions.GET("/:id/export", s.exportSession)
		sessions.GET("/:id/coverage", s.sessionCoverage)

		v1.POST("/sync", s.sync)
		v1.POST("/import", s.importCSV)
		v1.GET("/live", s.live)
	}

	return r
}

// Serve runs the HTTP server on addr until ctx is done
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		s.logger.Debug("request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("latency", time.Since(start)),
		)
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
