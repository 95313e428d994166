package webserver

import (
	"context"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/bigpicture/pujo-pictures/src/api/ingest"
	"github.com/bigpicture/pujo-pictures/src/api/moderation"
	"github.com/bigpicture/pujo-pictures/src/api/types"
	"github.com/bigpicture/pujo-pictures/src/logging"
)

type Submitter interface {
	Submit(ctx context.Context, req ingest.Request) (string, error)
}

type Moderator interface {
	Approve(ctx context.Context, token string) (moderation.Result, error)
	Reject(ctx context.Context, token string) (moderation.Result, error)
}

type Gallery interface {
	ApprovedIDs(ctx context.Context, locationID string) ([]string, error)
	GetMany(ctx context.Context, ids []string) ([]types.Submission, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Options struct {
	Submitter Submitter
	Moderator Moderator
	Gallery   Gallery
	Health    Pinger
	// Gatherer backs /metrics; nil leaves the route off.
	Gatherer prometheus.Gatherer

	Origins []string
	// TrustedProxies feeds gin's client IP resolution; nil trusts none.
	TrustedProxies []string
	RateLimit  int
	RateWindow time.Duration
	Log        *zap.Logger
}

// New builds the engine. The returned limiter must be closed on shutdown.
func New(opts Options) (*gin.Engine, *RateLimiter) {
	log := logging.OrNop(opts.Log).Named("http")

	r := gin.New()
	if err := r.SetTrustedProxies(opts.TrustedProxies); err != nil {
		log.Warn("invalid trusted proxies, trusting none", zap.Error(err))
		_ = r.SetTrustedProxies(nil)
	}
	r.Use(gin.Logger(), gin.Recovery())
	r.Use(cors.New(corsConfig(opts.Origins)))

	if opts.RateLimit <= 0 {
		opts.RateLimit = 10
	}
	if opts.RateWindow <= 0 {
		opts.RateWindow = time.Minute
	}
	limiter := NewRateLimiter(opts.RateLimit, opts.RateWindow)

	subH := NewSubmissions(opts.Submitter, log)
	modH := NewModeration(opts.Moderator, log)
	galH := NewGalleryHandler(opts.Gallery, log)

	r.POST("/submit", RateLimitMiddleware(limiter), subH.Create)
	r.GET("/approve/:token", modH.Approve)
	r.GET("/disapprove/:token", modH.Disapprove)
	r.GET("/pandals/:pandalId/photos", galH.List)

	// same routes under /api, where the web client calls them
	api := r.Group("/api")
	{
		api.POST("/submit", RateLimitMiddleware(limiter), subH.Create)
		api.GET("/approve/:token", modH.Approve)
		api.GET("/disapprove/:token", modH.Disapprove)
		api.GET("/pandals/:pandalId/photos", galH.List)
	}

	r.GET("/healthz", healthz(opts.Health))
	if opts.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}
	return r, limiter
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}
