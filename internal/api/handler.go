package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/airfi/unifi-hotspot-gateway/internal/portal"
)

// Handler contains all HTTP handlers for the API.
type Handler struct {
	orchestrator *portal.Orchestrator
	logger       *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(orchestrator *portal.Orchestrator, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Handler{
		orchestrator: orchestrator,
		logger:       logger,
	}
}

// AuthRequest is the splash page's login request.
type AuthRequest struct {
	ClientMAC    string `json:"clientMac" binding:"required"`
	Duration     *int   `json:"duration"`
	Data         *int64 `json:"data"`
	ExpireNumber *int   `json:"expire_number"`
	ExpireUnit   *int   `json:"expire_unit"`

	APMAC       string `json:"apMac"`
	SSID        string `json:"ssid"`
	Timestamp   int64  `json:"timestamp"`
	RedirectURL string `json:"redirectUrl"`
}

// Index returns the liveness message.
func (h *Handler) Index(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "UniFi Hotspot Server Running"})
}

// HealthCheck returns the service health status.
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Authorize handles guest authorization.
func (h *Handler) Authorize(c *gin.Context) {
	var req AuthRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		message := "Invalid request body"
		if req.ClientMAC == "" {
			message = "Client MAC address is required"
		}
		h.logger.Warn("rejected auth request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": message})
		return
	}

	if req.Timestamp > 0 {
		h.logger.Info("auth request from splash page",
			zap.String("client_mac", req.ClientMAC),
			zap.Time("timestamp", time.Unix(req.Timestamp, 0).UTC()),
		)
	}

	out := h.orchestrator.Handle(c.Request.Context(), portal.Request{
		ClientMAC:    req.ClientMAC,
		Duration:     req.Duration,
		Data:         req.Data,
		ExpireNumber: req.ExpireNumber,
		ExpireUnit:   req.ExpireUnit,
		APMAC:        req.APMAC,
		SSID:         req.SSID,
		Timestamp:    req.Timestamp,
		RedirectURL:  req.RedirectURL,
	})

	status, body := renderOutcome(out)
	c.JSON(status, body)

	if err := out.Respond(); err != nil {
		h.logger.Error("outcome state", zap.Error(err))
	}
}

func renderOutcome(out *portal.Outcome) (int, gin.H) {
	if !out.Success {
		status := http.StatusInternalServerError
		if out.Kind == portal.KindValidation {
			status = http.StatusBadRequest
		}
		return status, gin.H{"success": false, "message": out.Reason}
	}

	body := gin.H{
		"success":        true,
		"mac":            out.MAC,
		"internetAccess": out.InternetAccess != nil && *out.InternetAccess,
		"redirectUrl":    nil,
	}
	if out.RedirectURL != "" {
		body["redirectUrl"] = out.RedirectURL
	}
	if d := out.Policy.Duration; d != nil {
		body["duration"] = d.Minutes
	}
	if d := out.Policy.Data; d != nil {
		body["data"] = d.Bytes
	}
	return http.StatusOK, body
}
