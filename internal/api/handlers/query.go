package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/voyagehq/crm-ai-go/internal/middleware"
	"github.com/voyagehq/crm-ai-go/internal/models"
	"github.com/voyagehq/crm-ai-go/internal/nlquery"
)

// QueryRunner executes a generated statement against the CRM schema.
type QueryRunner interface {
	Execute(ctx context.Context, tenantID, rawQuery string, generated *models.GeneratedSQL) ([]map[string]any, error)
}

// QueryHandler serves the natural-language query endpoint.
type QueryHandler struct {
	parser  *nlquery.Parser
	builder *nlquery.Builder
	runner  QueryRunner
	logger  *logrus.Logger
}

// NewQueryHandler creates a new query handler.
func NewQueryHandler(parser *nlquery.Parser, builder *nlquery.Builder, runner QueryRunner, logger *logrus.Logger) *QueryHandler {
	return &QueryHandler{
		parser:  parser,
		builder: builder,
		runner:  runner,
		logger:  logger,
	}
}

// RunQuery parses a natural-language CRM question, builds the tenant-scoped
// SQL for it and, when asked to, executes it.
func (h *QueryHandler) RunQuery(c *gin.Context) {
	var req models.QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	tenantID := middleware.TenantID(c)
	ctx := c.Request.Context()

	parsed := h.parser.Parse(req.Query)
	middleware.AddSpanAttribute(c, "query.type", string(parsed.Type))
	middleware.AddSpanAttribute(c, "query.confidence", parsed.Confidence)

	generated, err := h.builder.BuildSQL(parsed, tenantID)
	if err != nil {
		respondEngineError(c, h.logger, err, "Query generation failed")
		return
	}

	resp := models.QueryResponse{
		Parsed:    parsed,
		Generated: generated,
	}

	if req.Execute {
		rows, err := h.runner.Execute(ctx, tenantID, req.Query, generated)
		if err != nil {
			respondEngineError(c, h.logger, err, "Query execution failed")
			return
		}
		resp.Rows = rows
		resp.RowCount = len(rows)
		resp.Executed = true
	}

	h.logger.WithFields(logrus.Fields{
		"tenant_id":  tenantID,
		"query_type": parsed.Type,
		"executed":   resp.Executed,
		"row_count":  resp.RowCount,
	}).Info("Natural-language query processed")

	c.JSON(http.StatusOK, resp)
}
