package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"streamcart/internal/core/domain"
	"streamcart/internal/core/services"
	"streamcart/internal/infrastructure/middleware"
	"streamcart/internal/infrastructure/monitoring"
	apperrors "streamcart/pkg/errors"
	"streamcart/pkg/validation"
)

// ControlHandler exposes the local control plane of a running broadcaster:
// lifecycle, pinned products, chat and session introspection.
type ControlHandler struct {
	broadcast *services.BroadcastService
	capture   *services.CaptureService
	health    *monitoring.HealthChecker
	logger    *zap.SugaredLogger
}

func NewControlHandler(
	broadcast *services.BroadcastService,
	capture *services.CaptureService,
	health *monitoring.HealthChecker,
	logger *zap.SugaredLogger,
) *ControlHandler {
	return &ControlHandler{
		broadcast: broadcast,
		capture:   capture,
		health:    health,
		logger:    logger,
	}
}

// Router builds the control API with the standard middleware stack.
func (h *ControlHandler) Router(requestsPerSecond float64, burst int, metrics bool) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(h.logger),
		middleware.ErrorHandlerMiddleware(h.logger),
		middleware.TracingMiddleware(),
		middleware.RateLimitMiddleware(requestsPerSecond, burst),
	)

	router.GET("/healthz", h.Health)
	if metrics {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	api := router.Group("/api/v1")
	{
		api.GET("/status", h.Status)
		api.GET("/sessions", h.Sessions)
		api.POST("/broadcast/start", h.StartBroadcast)
		api.POST("/broadcast/stop", h.StopBroadcast)
		api.GET("/pins", h.PinnedProducts)
		api.POST("/pins/:id", h.Pin)
		api.DELETE("/pins/:id", h.Unpin)
		api.GET("/chat", h.ChatHistory)
		api.POST("/chat", h.SendChat)
		api.GET("/detections", h.Detections)
	}
	return router
}

func (h *ControlHandler) Health(c *gin.Context) {
	if h.health == nil {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
		return
	}
	status := h.health.CheckAll(c.Request.Context())
	code := http.StatusOK
	if status.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}

func (h *ControlHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"live":      h.broadcast.Live(),
		"viewers":   h.broadcast.Viewers(),
		"signaling": h.broadcast.Signaling(),
	})
}

func (h *ControlHandler) Sessions(c *gin.Context) {
	sessions := h.broadcast.Sessions()
	if sessions == nil {
		sessions = []domain.SessionInfo{}
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (h *ControlHandler) StartBroadcast(c *gin.Context) {
	var req struct {
		Title string `json:"title" binding:"required,min=1,max=200"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidInput(err.Error()))
		return
	}

	if err := h.broadcast.Start(c.Request.Context(), req.Title); err != nil {
		c.Error(apperrors.Wrap(err, apperrors.ErrCodeSession, "start broadcast"))
		return
	}
	c.JSON(http.StatusCreated, gin.H{"live": true})
}

func (h *ControlHandler) StopBroadcast(c *gin.Context) {
	if err := h.broadcast.Stop(c.Request.Context()); err != nil {
		c.Error(apperrors.Wrap(err, apperrors.ErrCodeSession, "stop broadcast"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"live": false})
}

func (h *ControlHandler) PinnedProducts(c *gin.Context) {
	pins, err := h.broadcast.PinnedProducts(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	if pins == nil {
		pins = []domain.PinnedProduct{}
	}
	c.JSON(http.StatusOK, gin.H{"pinned": pins})
}

func (h *ControlHandler) Pin(c *gin.Context) {
	id := domain.ProductID(c.Param("id"))
	if id == "" {
		c.Error(apperrors.NewInvalidInput("product id is required"))
		return
	}
	if err := h.broadcast.Pin(c.Request.Context(), id); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pinned": id})
}

func (h *ControlHandler) Unpin(c *gin.Context) {
	id := domain.ProductID(c.Param("id"))
	if err := h.broadcast.Unpin(c.Request.Context(), id); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unpinned": id})
}

func (h *ControlHandler) ChatHistory(c *gin.Context) {
	history := h.broadcast.Chat.History()
	if history == nil {
		history = []domain.ChatPayload{}
	}
	c.JSON(http.StatusOK, gin.H{
		"messages":  history,
		"reactions": h.broadcast.Chat.ReactionCounts(),
	})
}

func (h *ControlHandler) SendChat(c *gin.Context) {
	var req struct {
		Message string `json:"message" binding:"required"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidInput(err.Error()))
		return
	}
	if err := validation.ValidateChatMessage(req.Message); err != nil {
		c.Error(apperrors.NewInvalidInput(err.Error()))
		return
	}

	if err := h.broadcast.Chat.Send(req.Message); err != nil {
		c.Error(apperrors.Wrap(err, apperrors.ErrCodeSignaling, "send chat"))
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"sent": true})
}

func (h *ControlHandler) Detections(c *gin.Context) {
	if h.capture == nil {
		c.JSON(http.StatusOK, domain.FrameResult{})
		return
	}
	c.JSON(http.StatusOK, h.capture.Latest())
}
