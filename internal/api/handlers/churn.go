package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"github.com/voyagehq/crm-ai-go/internal/middleware"
	"github.com/voyagehq/crm-ai-go/internal/models"
	"github.com/voyagehq/crm-ai-go/internal/services"
)

// ActivitySource provides the stored behavioral snapshots churn scoring
// falls back to when the request carries no inline activity.
type ActivitySource interface {
	ActivitySnapshot(ctx context.Context, tenantID, customerID string) (*models.CustomerActivity, error)
	ActivitySnapshots(ctx context.Context, tenantID string, limit int) ([]models.CustomerActivity, error)
}

// ChurnHandler serves the churn risk scoring endpoints.
type ChurnHandler struct {
	churn     *services.ChurnService
	customers ActivitySource
	logger    *logrus.Logger
}

// ChurnBatchResponse wraps batch scoring output for API responses.
type ChurnBatchResponse struct {
	TenantID string               `json:"tenant_id"`
	Scores   []*models.ChurnScore `json:"scores"`
	Count    int                  `json:"count"`
}

// NewChurnHandler creates a new churn handler.
func NewChurnHandler(churn *services.ChurnService, customers ActivitySource, logger *logrus.Logger) *ChurnHandler {
	return &ChurnHandler{
		churn:     churn,
		customers: customers,
		logger:    logger,
	}
}

// ScoreCustomer scores churn risk for one customer from an inline activity
// snapshot or, given a customer_id, from the stored snapshot.
func (h *ChurnHandler) ScoreCustomer(c *gin.Context) {
	var req models.ChurnScoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	if req.Activity == nil && req.CustomerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Either activity or customer_id is required"})
		return
	}

	tenantID := middleware.TenantID(c)
	ctx := c.Request.Context()

	activity := req.Activity
	if activity == nil {
		loaded, err := h.customers.ActivitySnapshot(ctx, tenantID, req.CustomerID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				c.JSON(http.StatusNotFound, gin.H{"error": "Customer activity not found"})
				return
			}
			middleware.RecordError(c, err, "activity snapshot load failed")
			h.logger.WithError(err).WithFields(logrus.Fields{
				"tenant_id":   tenantID,
				"customer_id": req.CustomerID,
			}).Error("Failed to load activity snapshot")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load customer activity"})
			return
		}
		activity = loaded
	}
	if activity.TenantID == "" {
		activity.TenantID = tenantID
	}

	score, err := h.churn.Score(ctx, activity)
	if err != nil {
		respondEngineError(c, h.logger, err, "Churn scoring failed")
		return
	}

	middleware.AddSpanAttribute(c, "churn.risk_tier", score.RiskTier)
	c.JSON(http.StatusOK, score)
}

// ScoreBatch scores a cohort. An empty activities slice scores the stored
// cohort for the tenant instead, highest spenders first.
func (h *ChurnHandler) ScoreBatch(c *gin.Context) {
	var req models.ChurnBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	tenantID := middleware.TenantID(c)
	ctx := c.Request.Context()

	activities := req.Activities
	if len(activities) == 0 {
		loaded, err := h.customers.ActivitySnapshots(ctx, tenantID, req.Limit)
		if err != nil {
			middleware.RecordError(c, err, "activity cohort load failed")
			h.logger.WithError(err).WithField("tenant_id", tenantID).Error("Failed to load activity cohort")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load customer activity"})
			return
		}
		activities = loaded
	}

	batch := make([]*models.CustomerActivity, 0, len(activities))
	for i := range activities {
		if activities[i].TenantID == "" {
			activities[i].TenantID = tenantID
		}
		batch = append(batch, &activities[i])
	}

	scores, err := h.churn.ScoreBatch(ctx, batch, req.Options)
	if err != nil {
		respondEngineError(c, h.logger, err, "Batch churn scoring failed")
		return
	}

	middleware.AddSpanAttribute(c, "churn.batch_size", len(scores))
	c.JSON(http.StatusOK, ChurnBatchResponse{
		TenantID: tenantID,
		Scores:   scores,
		Count:    len(scores),
	})
}

// GetInsights aggregates previously computed scores into cohort-level
// retention insights.
func (h *ChurnHandler) GetInsights(c *gin.Context) {
	var req models.ChurnInsightsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	scores := make([]*models.ChurnScore, 0, len(req.Scores))
	for i := range req.Scores {
		scores = append(scores, &req.Scores[i])
	}

	insights, err := h.churn.Insights(scores)
	if err != nil {
		respondEngineError(c, h.logger, err, "Churn insights failed")
		return
	}

	c.JSON(http.StatusOK, insights)
}
