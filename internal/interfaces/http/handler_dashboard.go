package http

import (
	"commercebot/internal/entities"
	"commercebot/internal/logger"
	"commercebot/internal/usecases"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// ChatbotAccess rejects requests for chatbots outside the caller's team.
// Must follow AuthRequired.
func (h *Handler) ChatbotAccess() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if !ValidID(id) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid chatbot id"})
			return
		}
		if err := h.dashboard.Authorize(c.Request.Context(), getTeamID(c), id); err != nil {
			abortWithError(c, err)
			return
		}
		c.Next()
	}
}

// Flow
func (h *Handler) GetFlow(c *gin.Context) {
	flow, err := h.dashboard.GetFlow(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, flow)
}

func (h *Handler) SaveFlow(c *gin.Context) {
	var req struct {
		Graph    *entities.FlowGraph   `json:"graph"`
		Settings entities.FlowSettings `json:"settings"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	sanitizeGraph(req.Graph)

	flow := entities.Flow{ChatbotID: c.Param("id"), Graph: req.Graph, Settings: req.Settings}
	if err := h.dashboard.SaveFlow(c.Request.Context(), flow); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "saved"})
}

func sanitizeGraph(g *entities.FlowGraph) {
	if g == nil {
		return
	}
	for i := range g.Nodes {
		d := &g.Nodes[i].Data
		d.Message = SanitizeString(d.Message)
		d.Question = SanitizeString(d.Question)
		for j := range d.Options {
			d.Options[j] = SanitizeString(d.Options[j])
		}
	}
}

// AI settings
func (h *Handler) GetAISettings(c *gin.Context) {
	settings, err := h.dashboard.GetAISettings(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

func (h *Handler) SaveAISettings(c *gin.Context) {
	var req entities.AISettings
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	req.SystemPrompt = SanitizeString(req.SystemPrompt)
	if !ValidateLength(req.SystemPrompt, 0, MaxPromptLength) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "System prompt too long"})
		return
	}

	saved, err := h.dashboard.SaveAISettings(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, saved)
}

// Playground
func (h *Handler) Playground(c *gin.Context) {
	var req struct {
		Messages []entities.Message   `json:"messages"`
		Settings *entities.AISettings `json:"settings"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	for i := range req.Messages {
		req.Messages[i].Content = SanitizeString(req.Messages[i].Content)
	}

	out, err := h.dashboard.Playground(c.Request.Context(), usecases.PlaygroundInput{
		ChatbotID: c.Param("id"),
		TeamID:    getTeamID(c),
		Messages:  req.Messages,
		Overrides: req.Settings,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}
	if out.Gated {
		c.JSON(http.StatusPaymentRequired, gin.H{"error": out.Text})
		return
	}
	c.JSON(http.StatusOK, presentReply(out))
}

// Credits
func (h *Handler) GetCredits(c *gin.Context) {
	status, err := h.dashboard.CreditStatus(c.Request.Context(), getTeamID(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func statusOf(code usecases.ErrorCode) int {
	switch code {
	case usecases.ErrorInvalidInput:
		return http.StatusBadRequest
	case usecases.ErrorNotFound:
		return http.StatusNotFound
	case usecases.ErrorQuotaExceeded:
		return http.StatusPaymentRequired
	case usecases.ErrorRateLimited:
		return http.StatusTooManyRequests
	case usecases.ErrorUpstream, usecases.ErrorRetrieval:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// abortWithError writes a usecase error. Internal causes are logged, not
// returned.
func abortWithError(c *gin.Context, err error) {
	code := usecases.CodeOf(err)
	status := statusOf(code)
	body := gin.H{"error": string(code)}

	var ue *usecases.Error
	if errors.As(err, &ue) && status < http.StatusInternalServerError {
		body["reason"] = ue.Reason
	}
	if status >= http.StatusInternalServerError {
		logger.WithModule("dashboard").WithError(err).WithField("path", c.FullPath()).Error("request failed")
	}
	c.AbortWithStatusJSON(status, body)
}
