package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/johnwmail/quickbin/config"
	"github.com/johnwmail/quickbin/handlers"
	"github.com/johnwmail/quickbin/internal/idgen"
	"github.com/johnwmail/quickbin/internal/metrics"
	"github.com/johnwmail/quickbin/internal/reaper"
	"github.com/johnwmail/quickbin/internal/services"
	"github.com/johnwmail/quickbin/models"
	"github.com/johnwmail/quickbin/storage"
	"github.com/johnwmail/quickbin/utils"

	// Lambda imports (only used when in Lambda mode)
	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
)

// Version/build info (set via -ldflags at build time)
var (
	Version    = "dev"
	BuildTime  = "unknown"
	CommitHash = "none"
)

const (
	shutdownTimeout    = 30 * time.Second
	limiterPrunePeriod = time.Minute
)

// Lambda-specific variables
var (
	ginLambdaV1   *ginadapter.GinLambda
	ginLambdaV2   *ginadapter.GinLambdaV2
	lambdaReaper  *reaper.Reaper
	ginLambdaOnce sync.Once
)

// isLambdaEnvironment detects if running in AWS Lambda
func isLambdaEnvironment() bool {
	return os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != ""
}

// app holds everything built from the configuration.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   storage.SnippetStore
	metrics *metrics.Metrics
	service *services.SnippetService
	limiter *handlers.RateLimiter
	reaper  *reaper.Reaper
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(2)
	}
	cfg.Version = Version
	cfg.BuildTime = BuildTime
	cfg.CommitHash = CommitHash

	inLambda := isLambdaEnvironment()
	logger := setupLogging(os.Stderr, cfg.LogLevel, cfg.LogFormat, inLambda)
	slog.SetDefault(logger)
	logger.Info("starting quickbin", "version", Version, "build_time", BuildTime, "commit", CommitHash)

	if utils.IsDebugEnabled(cfg.LogLevel) {
		logger.Debug("loaded config", "config", fmt.Sprintf("%+v", redacted(cfg)))
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	if inLambda && cfg.StorageType == "memory" && cfg.S3Bucket != "" {
		// a Lambda instance's memory does not outlive it
		logger.Info("lambda mode: switching memory storage to s3", "bucket", cfg.S3Bucket)
		cfg.StorageType = "s3"
	}

	ctx := context.Background()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	router := setupRouter(a)

	if inLambda {
		logger.Info("starting in AWS Lambda mode", "storage", cfg.StorageType)
		ginLambdaOnce.Do(func() {
			ginLambdaV1 = ginadapter.New(router)
			ginLambdaV2 = ginadapter.NewV2(router)
			lambdaReaper = a.reaper
		})
		lambda.Start(lambdaHandler)
		return
	}

	logger.Info("starting in HTTP server mode")
	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := runHTTPServer(sigCtx, router, a); err != nil {
		logger.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
}

// setupLogging builds the process logger. Lambda always logs JSON so
// CloudWatch can index the fields.
func setupLogging(w io.Writer, level, format string, inLambda bool) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	if inLambda || strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// redacted hides connection strings from debug output.
func redacted(cfg *config.Config) config.Config {
	c := *cfg
	if c.PostgresDSN != "" {
		c.PostgresDSN = "[redacted]"
	}
	if c.MongoDBURI != "" {
		c.MongoDBURI = "[redacted]"
	}
	return c
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	store, err := storage.NewStore(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}

	var m *metrics.Metrics
	if cfg.EnableMetrics {
		m = metrics.New()
	}

	clock := services.RealClock{}
	return &app{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		metrics: m,
		service: services.NewSnippetService(store, idgen.New(), clock, services.Options{
			RetryAttempts: cfg.RetryAttempts,
			RetryBackoff:  cfg.RetryBackoff,
			Logger:        logger,
			Metrics:       m,
		}),
		limiter: handlers.NewRateLimiter(cfg.RateLimit, cfg.RateBurst, m),
		reaper: reaper.New(store, clock, reaper.Config{
			Interval:  cfg.ReapInterval,
			BatchSize: cfg.ReapBatchSize,
		}, logger, m),
	}, nil
}

// lambdaHandler handles API Gateway v1/v2 requests and scheduled
// EventBridge events, which trigger one reaper pass.
func lambdaHandler(ctx context.Context, event json.RawMessage) (any, error) {
	if ginLambdaV1 == nil || ginLambdaV2 == nil {
		return nil, errors.New("lambda adapters are not initialized")
	}

	// Try to parse as APIGatewayV2HTTPRequest first (for Lambda Function URLs and HTTP API)
	var reqV2 events.APIGatewayV2HTTPRequest
	if err := json.Unmarshal(event, &reqV2); err == nil && reqV2.RequestContext.HTTP.Method != "" {
		slog.Debug("handling APIGatewayV2HTTPRequest", "method", reqV2.RequestContext.HTTP.Method, "path", reqV2.RawPath)
		return ginLambdaV2.ProxyWithContext(ctx, reqV2)
	}

	// Try to parse as APIGatewayProxyRequest (for REST API and ALB)
	var reqV1 events.APIGatewayProxyRequest
	if err := json.Unmarshal(event, &reqV1); err == nil && reqV1.HTTPMethod != "" {
		slog.Debug("handling APIGatewayProxyRequest", "method", reqV1.HTTPMethod, "path", reqV1.Path)
		return ginLambdaV1.ProxyWithContext(ctx, reqV1)
	}

	var scheduled events.CloudWatchEvent
	if err := json.Unmarshal(event, &scheduled); err == nil && scheduled.Source == "aws.events" {
		if lambdaReaper == nil {
			return nil, errors.New("reaper is not initialized")
		}
		res, err := lambdaReaper.Tick(ctx)
		if err != nil {
			return nil, err
		}
		return res, nil
	}

	slog.Warn("unsupported lambda event", "event", string(event))
	return events.APIGatewayV2HTTPResponse{
		StatusCode: http.StatusBadRequest,
		Body:       "Unsupported event type - this function expects API Gateway, Lambda Function URL or scheduled events",
		Headers: map[string]string{
			"Content-Type": "text/plain",
		},
	}, nil
}

// setupRouter creates and configures the Gin router
func setupRouter(a *app) *gin.Engine {
	snippetHandler := handlers.NewSnippetHandler(a.service, a.cfg.MaxBodyBytes)
	metaHandler := handlers.NewMetaHandler(a.service)
	systemHandler := handlers.NewSystemHandler(a.store, a.cfg.StorageType, a.cfg.Version)

	router := gin.New()
	router.HandleMethodNotAllowed = true

	// JSON recovery and canonicalErrors keep every error response in the
	// same envelope, including gin's own 404/405 replies.
	router.Use(requestLogger(a.logger))
	router.Use(canonicalErrors(a.logger))
	router.Use(jsonRecovery(a.logger))
	router.Use(a.metrics.Middleware())
	router.Use(handlers.CORS(a.cfg.CORSOrigins))

	router.GET("/", systemHandler.Index)
	router.GET("/health", systemHandler.Health)
	if a.metrics != nil {
		router.GET("/metrics", gin.WrapH(a.metrics.Handler()))
	}

	router.POST("/snippets", a.limiter.Middleware(), snippetHandler.Create)
	router.GET("/snippets/:id", snippetHandler.Get)

	api := router.Group("/api/v1")
	api.GET("/meta/:id", metaHandler.GetMetadata)
	api.GET("/expiry-options", systemHandler.ExpiryOptions)

	// Global 404 handler
	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, models.Fail(handlers.MsgResourceNotFound))
	})

	return router
}

// requestLogger logs one line per request.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		c.Next()

		attrs := []any{
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"client", c.ClientIP(),
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, "error", c.Errors.Last().Error())
		}
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			logger.Error("HTTP request", attrs...)
		case c.Request.URL.Path == "/health" || c.Request.URL.Path == "/metrics":
			logger.Debug("HTTP request", attrs...)
		default:
			logger.Info("HTTP request", attrs...)
		}
	}
}

// jsonRecovery returns a middleware that recovers from panics and answers
// with the JSON error envelope.
func jsonRecovery(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("panic in handler", "panic", r, "path", c.Request.URL.Path)
				c.Header("Content-Type", "application/json; charset=utf-8")
				c.AbortWithStatusJSON(http.StatusInternalServerError, models.Fail(handlers.MsgInternal))
			}
		}()
		c.Next()
	}
}

// canonicalErrors makes sure every response with status >= 400 carries the
// JSON error envelope. Bodies that already are JSON pass through untouched.
func canonicalErrors(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		origWriter := c.Writer
		bcw := &bodyCaptureWriter{ResponseWriter: origWriter}
		c.Writer = bcw

		c.Next()
		c.Writer = origWriter

		status := bcw.Status()
		buf := bcw.body.Bytes()
		ct := bcw.Header().Get("Content-Type")

		if status >= http.StatusBadRequest && !(len(buf) > 0 && strings.Contains(ct, "application/json")) {
			msg := string(bytes.TrimSpace(buf))
			if msg == "" || strings.HasPrefix(msg, "<") {
				msg = http.StatusText(status)
			}
			if status == http.StatusNotFound {
				msg = handlers.MsgResourceNotFound
			}
			out, _ := json.Marshal(models.Fail(msg))
			origWriter.Header().Set("Content-Type", "application/json; charset=utf-8")
			origWriter.WriteHeader(status)
			if _, err := origWriter.Write(out); err != nil {
				logger.Error("canonicalErrors: failed to write error response", "error", err)
			}
			return
		}

		origWriter.WriteHeader(status)
		if len(buf) > 0 {
			if _, err := origWriter.Write(buf); err != nil {
				logger.Error("canonicalErrors: failed to write response body", "error", err)
			}
		}
	}
}

// bodyCaptureWriter buffers response body writes so middleware can inspect
// and optionally rewrite the output before sending to the client.
type bodyCaptureWriter struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *bodyCaptureWriter) Write(b []byte) (int, error) {
	return w.body.Write(b)
}

func (w *bodyCaptureWriter) WriteString(s string) (int, error) {
	return w.body.WriteString(s)
}

// runHTTPServer serves until ctx is cancelled, running the reaper and the
// rate limiter janitor alongside. The store is closed last.
func runHTTPServer(ctx context.Context, router *gin.Engine, a *app) error {
	defer func() {
		if err := a.store.Close(); err != nil {
			a.logger.Error("error closing storage", "error", err)
		}
	}()

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("starting quickbin server", "port", a.cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return a.reaper.Run(gctx)
	})

	g.Go(func() error {
		ticker := time.NewTicker(limiterPrunePeriod)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if n := a.limiter.Prune(); n > 0 {
					a.logger.Debug("pruned idle rate limiters", "count", n)
				}
			}
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		a.logger.Info("server shutdown complete")
		return nil
	})

	return g.Wait()
}
