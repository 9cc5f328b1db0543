package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/proofmind/internal/auth"
	"github.com/MarcoPoloResearchLab/proofmind/internal/certificates"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const (
	callerIDContextKey       = "proofmind_caller_id"
	accessTokenQueryKey      = "access_token"
	defaultHeartbeatInterval = 15 * time.Second
)

var (
	errMissingTokenManager        = errors.New("token manager dependency required")
	errMissingCertificatesService = errors.New("certificates service dependency required")
	errInvalidAuthorization       = errors.New("authorization header missing or invalid")
)

// TokenValidator resolves a bearer token into the caller identity.
type TokenValidator interface {
	ValidateToken(token string) (string, error)
}

type Dependencies struct {
	TokenManager        TokenValidator
	CertificatesService *certificates.Service
	Realtime            *RealtimeDispatcher
	MetricsHandler      http.Handler
	HeartbeatInterval   time.Duration
	Logger              *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.CertificatesService == nil {
		return nil, errMissingCertificatesService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	realtime := deps.Realtime
	if realtime == nil {
		realtime = NewRealtimeDispatcher()
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler := &httpHandler{
		tokens:            deps.TokenManager,
		certificates:      deps.CertificatesService,
		realtime:          realtime,
		heartbeatInterval: heartbeat,
		logger:            logger,
	}

	router.GET("/healthz", handler.handleHealth)
	if deps.MetricsHandler != nil {
		router.GET("/metrics", gin.WrapH(deps.MetricsHandler))
	}
	router.GET("/certificates/:owner/:proof_id", handler.handleGetCertificate)
	router.GET("/certificates/:owner/:proof_id/analysis", handler.handleGetAnalysis)
	router.GET("/owners/:owner/certificates", handler.handleListOwnerCertificates)
	router.GET("/categories/:category/certificates", handler.handleListCategoryCertificates)
	router.GET("/stats", handler.handleStats)
	router.GET("/stats/categories/:category", handler.handleCategoryStats)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/certificates", handler.handleSubmitCertificate)
	protected.PATCH("/certificates/:proof_id", handler.handleUpdateCertificate)
	protected.POST("/certificates/:owner/:proof_id/verification", handler.handleVerifyCertificate)

	router.GET("/events/stream", handler.authorizeStreamRequest, handler.handleEventStream)

	return router, nil
}

type httpHandler struct {
	tokens            TokenValidator
	certificates      *certificates.Service
	realtime          *RealtimeDispatcher
	heartbeatInterval time.Duration
	logger            *zap.Logger
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowHeaders:    []string{"Authorization", "Content-Type", "Last-Event-ID"},
		ExposeHeaders:   []string{"Content-Type"},
		MaxAge:          12 * time.Hour,
	})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token, ok := bearerToken(c.GetHeader("Authorization"))
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	h.authenticate(c, token)
}

// authorizeStreamRequest also accepts the token as a query parameter because
// EventSource clients cannot set request headers.
func (h *httpHandler) authorizeStreamRequest(c *gin.Context) {
	token, ok := bearerToken(c.GetHeader("Authorization"))
	if !ok {
		token = strings.TrimSpace(c.Query(accessTokenQueryKey))
	}
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	h.authenticate(c, token)
}

func (h *httpHandler) authenticate(c *gin.Context, token string) {
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, jwt.ErrTokenExpired) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(callerIDContextKey, subject)
	c.Next()
}

func bearerToken(header string) (string, bool) {
	if !strings.HasPrefix(header, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}

func callerFromContext(c *gin.Context) (certificates.OwnerID, bool) {
	caller := c.GetString(callerIDContextKey)
	if caller == "" {
		return "", false
	}
	return certificates.OwnerID(caller), true
}
