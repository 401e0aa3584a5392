package main

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/quillnotes/quill/internal/ai"
	"github.com/quillnotes/quill/internal/metrics"
	"github.com/quillnotes/quill/internal/middleware"
	"github.com/quillnotes/quill/pkg/models"
)

const (
	maxPromptChars   = 8000
	suggestMaxTokens = 300
)

type generateRequest struct {
	Prompt string `json:"prompt"`
}

type enhanceRequest struct {
	Text   string `json:"text"`
	Action string `json:"action"`
}

type suggestRequest struct {
	Content     string `json:"content"`
	ContentType string `json:"contentType"`
}

type suggestion struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Generate note endpoint
func (api *API) generateNote(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)

	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Prompt) == "" {
		respondError(c, models.NewAPIError(models.ErrInvalidRequest, "prompt is required"))
		return
	}
	if len(req.Prompt) > maxPromptChars {
		respondError(c, models.NewAPIError(models.ErrInvalidRequest, "prompt is too long"))
		return
	}

	completion := ai.BuildGeneratePrompt(req.Prompt, api.cfg.AI.MaxOutputTokens)
	text, tokens, ok := api.complete(c, userID, models.FeatureGenerate, req.Prompt, completion)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"result":     text,
		"tokensUsed": tokens,
	})
}

// Enhance text endpoint: improve, answer questions about, or summarize text
func (api *API) enhanceText(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)

	var req enhanceRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Text) == "" {
		respondError(c, models.NewAPIError(models.ErrInvalidRequest, "text is required"))
		return
	}
	if len(req.Text) > maxPromptChars {
		respondError(c, models.NewAPIError(models.ErrInvalidRequest, "text is too long"))
		return
	}

	var feature models.Feature
	switch req.Action {
	case "enhance":
		feature = models.FeatureEnhance
	case "ask":
		feature = models.FeatureQuestion
	case "extract":
		feature = models.FeatureExtract
	default:
		respondError(c, models.NewAPIError(models.ErrInvalidRequest, "action must be one of: enhance, ask, extract"))
		return
	}

	completion, err := ai.BuildTextPrompt(feature, req.Text, api.cfg.AI.MaxOutputTokens)
	if err != nil {
		respondError(c, models.NewAPIError(models.ErrInvalidRequest, err.Error()))
		return
	}

	text, tokens, ok := api.complete(c, userID, feature, req.Text, completion)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"result":     text,
		"tokensUsed": tokens,
	})
}

// Suggest content endpoint
func (api *API) suggestContent(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)

	var req suggestRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Content) == "" {
		respondError(c, models.NewAPIError(models.ErrInvalidRequest, "content is required"))
		return
	}

	completion := ai.BuildSuggestPrompt(req.Content, req.ContentType, suggestMaxTokens)
	text, tokens, ok := api.complete(c, userID, models.FeatureSuggest, req.Content, completion)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"suggestions": parseSuggestions(text),
		"tokensUsed":  tokens,
	})
}

// Get monthly usage endpoint
func (api *API) getUsage(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)

	usage, err := api.usage.GetMonthlyUsage(c.Request.Context(), userID)
	if err != nil {
		api.logger.WithUserID(userID).ErrorWithErr("Failed to read usage", err)
		respondError(c, models.AsAPIError(err))
		return
	}

	c.JSON(http.StatusOK, usage)
}

// Get usage event history endpoint
func (api *API) getUsageEvents(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 200 {
			respondError(c, models.NewAPIError(models.ErrInvalidRequest, "limit must be between 1 and 200"))
			return
		}
		limit = parsed
	}

	events, err := api.events.GetUsageEventsByUser(c.Request.Context(), userID, limit)
	if err != nil {
		api.logger.WithUserID(userID).ErrorWithErr("Failed to read usage events", err)
		respondError(c, models.AsAPIError(err))
		return
	}
	if events == nil {
		events = []*models.UsageEvent{}
	}

	c.JSON(http.StatusOK, gin.H{"events": events})
}

// complete runs the provider call and commits its token cost. Returns
// ok=false after writing the error response itself.
func (api *API) complete(c *gin.Context, userID string, feature models.Feature, input string, req ai.CompletionRequest) (string, int64, bool) {
	start := time.Now()

	resp, err := api.provider.Complete(c.Request.Context(), req)
	if err != nil {
		metrics.RecordAIRequest(string(feature), "error", time.Since(start).Seconds())
		api.logger.WithUserID(userID).WithFeature(string(feature)).ErrorWithErr("AI completion failed", err)
		respondError(c, models.NewAPIError(models.ErrUpstreamError, "AI provider request failed"))
		return "", 0, false
	}
	metrics.RecordAIRequest(string(feature), "success", time.Since(start).Seconds())

	tokens := ai.EstimateTokens(len(input), len(resp.Text))

	committed, err := api.usage.RecordUsage(c.Request.Context(), userID, tokens, resp.Model, feature)
	if err != nil {
		api.logger.WithUserID(userID).WithFeature(string(feature)).ErrorWithErr("Failed to record usage", err)
		respondError(c, models.AsAPIError(err))
		return "", 0, false
	}
	if !committed {
		metrics.RecordQuotaDenial()
		respondError(c, models.QuotaExceededError())
		return "", 0, false
	}

	metrics.RecordTokensCommitted(string(feature), tokens)
	return resp.Text, tokens, true
}

// parseSuggestions decodes the provider's JSON reply, tolerating markdown
// code fences. A reply that isn't valid JSON yields no suggestions rather
// than an error: the tokens are already spent.
func parseSuggestions(text string) []suggestion {
	cleaned := strings.TrimSpace(text)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var suggestions []suggestion
	if err := json.Unmarshal([]byte(cleaned), &suggestions); err != nil {
		return []suggestion{}
	}
	return suggestions
}

func respondError(c *gin.Context, apiErr *models.APIError) {
	c.JSON(apiErr.HTTPStatus(), gin.H{"error": apiErr.Message, "code": apiErr.Kind})
	c.Abort()
}
