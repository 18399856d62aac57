package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"saytruth/internal/domain"
	"saytruth/internal/metrics"
	"saytruth/internal/service"
)

// Server exposes the link and message services over HTTP.
type Server struct {
	registry *service.Registry
	messages *service.Messages
	identity IdentityResolver
	metrics  *metrics.Metrics
	timeout  time.Duration
	proxies  []string
	log      logrus.FieldLogger
}

// Options configure a Server. Metrics may be nil.
type Options struct {
	Identity IdentityResolver
	Metrics  *metrics.Metrics
	Timeout  time.Duration

	// TrustedProxies lists the IPs or CIDRs whose X-Forwarded-For and
	// X-Real-IP headers are honoured. Empty trusts no proxy, so the
	// client IP is always the connection's remote address.
	TrustedProxies []string
}

// NewServer creates the HTTP front-end.
func NewServer(registry *service.Registry, messages *service.Messages, opts Options, logger logrus.FieldLogger) *Server {
	if opts.Identity == nil {
		opts.Identity = NewHeaderResolver("X-Authenticated-User")
	}
	return &Server{
		registry: registry,
		messages: messages,
		identity: opts.Identity,
		metrics:  opts.Metrics,
		timeout:  opts.Timeout,
		proxies:  opts.TrustedProxies,
		log:      logger.WithField("component", "httpapi"),
	}
}

// Router builds the gin engine with every route.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	if err := r.SetTrustedProxies(s.proxies); err != nil {
		s.log.WithError(err).Warn("Invalid trusted proxies, trusting none")
		_ = r.SetTrustedProxies(nil)
	}
	r.Use(gin.Recovery(), NewResponse(), s.accessLog(), s.withTimeout(), resolveIdentity(s.identity))

	r.GET("/health", func(c *gin.Context) {
		APISuccess(c, http.StatusOK, gin.H{"status": "ok"})
	})
	if s.metrics != nil {
		r.GET("/metrics", s.metrics.Handler())
	}

	api := r.Group("/api")
	links := api.Group("/links")
	{
		links.POST("", s.CreateLink)
		links.GET("/mine", requireIdentity, s.ListOwnedLinks)
		links.DELETE("/:id", s.DeleteLink)
		links.GET("/public/:token", s.GetLinkInfo)
		links.POST("/public/:token/messages", s.SubmitMessage)
		links.GET("/private/:token/messages", s.ListInbox)
		links.PATCH("/private/:token/messages/:id/public", s.PromoteMessage)
		links.PATCH("/private/:token/messages/:id/inbox", s.DemoteMessage)
		links.DELETE("/private/:token/messages/:id", s.DeleteMessage)
	}
	direct := api.Group("/direct")
	{
		direct.POST("", s.SendDirect)
		direct.GET("", requireIdentity, s.ListDirect)
		direct.GET("/section/:section", requireIdentity, s.ListDirectSection)
		direct.DELETE("/section/:section/all", requireIdentity, s.ClearDirectSection)
		direct.PATCH("/:id/inbox", requireIdentity, s.MoveDirect(domain.MessageInbox))
		direct.PATCH("/:id/public", requireIdentity, s.MoveDirect(domain.MessagePublic))
		direct.PATCH("/:id/favorite", requireIdentity, s.MoveDirect(domain.MessageFavorite))
		direct.DELETE("/:id", requireIdentity, s.DeleteDirect)
	}
	return r
}

// accessLog logs every request by route template, so tokens in paths never
// reach the log, and feeds the API metrics.
func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		if s.metrics != nil {
			timer := s.metrics.ApiResponseTimer(route)
			defer timer.ObserveDuration()
		}

		c.Next()

		status := c.Writer.Status()
		entry := s.log.WithFields(logrus.Fields{
			"method":     c.Request.Method,
			"route":      route,
			"status":     status,
			"latency":    time.Since(start).String(),
			"request_id": c.GetString(RequestIDKey),
		})
		if len(c.Errors) > 0 {
			entry = entry.WithError(c.Errors.Last())
		}
		switch {
		case status >= http.StatusInternalServerError:
			entry.Error("Request failed")
		case status >= http.StatusBadRequest:
			entry.Info("Request rejected")
		default:
			entry.Debug("Request served")
		}
		if status >= http.StatusBadRequest && s.metrics != nil {
			s.metrics.ApiErrorInc(c.Request.Method, route, status)
		}
	}
}

// withTimeout bounds every request by the configured deadline.
func (s *Server) withTimeout() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.timeout <= 0 {
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), s.timeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
