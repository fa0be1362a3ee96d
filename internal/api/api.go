package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/hypernova-labs/anaf-service/internal/database"
	"github.com/hypernova-labs/anaf-service/internal/models"
	"github.com/hypernova-labs/anaf-service/internal/services"
	"github.com/hypernova-labs/anaf-service/internal/workflows"
	"github.com/sirupsen/logrus"
)

// API holds the HTTP handlers.
type API struct {
	documents *database.DocumentRepository
	companies *database.CompanyRepository
	inbox     *database.InboxRepository
	apiKeys   *database.APIKeyRepository
	inngest   *workflows.InngestClient
	db        *database.DB
	redis     *database.Redis
	logger    *logrus.Logger
}

// NewAPI creates a new instance of the API.
func NewAPI(
	documents *database.DocumentRepository,
	companies *database.CompanyRepository,
	inbox *database.InboxRepository,
	apiKeys *database.APIKeyRepository,
	inngest *workflows.InngestClient,
	db *database.DB,
	redis *database.Redis,
	logger *logrus.Logger,
) *API {
	return &API{
		documents: documents,
		companies: companies,
		inbox:     inbox,
		apiKeys:   apiKeys,
		inngest:   inngest,
		db:        db,
		redis:     redis,
		logger:    logger,
	}
}

// AuthMiddleware validates the X-API-Key header and stores the caller's
// organization on the request context.
func (api *API) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := c.GetHeader("X-API-Key")
		if apiKey == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, models.NewUnauthorizedError("API key required"))
			return
		}

		key, err := api.apiKeys.GetByHash(database.HashAPIKey(apiKey))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, models.NewUnauthorizedError("Invalid API key"))
			return
		}

		if err := api.apiKeys.UpdateLastUsed(key.ID); err != nil {
			api.logger.Warnf("Error updating API key last used: %v", err)
		}

		c.Set("organization_id", key.OrganizationID)
		c.Next()
	}
}

func (api *API) organizationID(c *gin.Context) uuid.UUID {
	if v, ok := c.Get("organization_id"); ok {
		if id, ok := v.(uuid.UUID); ok {
			return id
		}
	}
	return uuid.Nil
}

// ownedCompany fetches a company and enforces that it belongs to the
// caller's organization. Writes the response itself on failure.
func (api *API) ownedCompany(c *gin.Context, companyID uuid.UUID) *models.Company {
	company, err := api.companies.GetByID(companyID)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			c.JSON(http.StatusNotFound, models.NewNotFoundError("Company not found"))
			return nil
		}
		api.logger.WithError(err).Error("Error loading company")
		c.JSON(http.StatusInternalServerError, models.NewInternalError("Error loading company"))
		return nil
	}

	if company.OrganizationID != api.organizationID(c) {
		c.JSON(http.StatusForbidden, models.NewForbiddenError("Access denied to this company"))
		return nil
	}

	return company
}

func parseIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.NewValidationError("Invalid identifier", []models.ErrorDetail{
			{Field: name, Issue: "Must be a valid UUID"},
		}))
		return uuid.Nil, false
	}
	return id, true
}

// SubmitDocument queues a document for submission to the authority.
func (api *API) SubmitDocument(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	doc, err := api.documents.GetByID(id)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			c.JSON(http.StatusNotFound, models.NewNotFoundError("Document not found"))
			return
		}
		api.logger.WithError(err).Error("Error loading document")
		c.JSON(http.StatusInternalServerError, models.NewInternalError("Error loading document"))
		return
	}

	if api.ownedCompany(c, doc.CompanyID) == nil {
		return
	}

	if doc.Direction != models.DirectionOutgoing {
		c.JSON(http.StatusBadRequest, models.NewValidationError("Only outgoing documents can be submitted", []models.ErrorDetail{
			{Field: "direction", Issue: "must be outgoing"},
		}))
		return
	}

	switch doc.AnafStatus {
	case models.AnafStatusUploaded:
		c.JSON(http.StatusConflict, models.NewConflictError("Document already has a submission in progress"))
		return
	case models.AnafStatusOK:
		c.JSON(http.StatusConflict, models.NewConflictError("Document is already confirmed"))
		return
	}

	if api.inngest == nil {
		c.JSON(http.StatusServiceUnavailable, models.NewInternalError("Workflow engine unavailable"))
		return
	}

	err = api.inngest.Publish(c.Request.Context(), services.EventDocumentSubmitRequested, map[string]interface{}{
		"document_id": doc.ID.String(),
	})
	if err != nil {
		api.logger.WithError(err).Error("Error queueing submission")
		c.JSON(http.StatusInternalServerError, models.NewInternalError("Error queueing submission"))
		return
	}

	c.JSON(http.StatusAccepted, models.SubmitResponse{ID: doc.ID, Status: doc.AnafStatus})
}

// GetDocument returns one document with its lines and parties.
func (api *API) GetDocument(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	doc, err := api.documents.GetByID(id)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			c.JSON(http.StatusNotFound, models.NewNotFoundError("Document not found"))
			return
		}
		api.logger.WithError(err).Error("Error loading document")
		c.JSON(http.StatusInternalServerError, models.NewInternalError("Error loading document"))
		return
	}

	if api.ownedCompany(c, doc.CompanyID) == nil {
		return
	}

	c.JSON(http.StatusOK, doc)
}

// ListDocuments returns a company's documents, filtered and paginated.
func (api *API) ListDocuments(c *gin.Context) {
	companyID, err := uuid.Parse(c.Query("company_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.NewValidationError("Invalid company id", []models.ErrorDetail{
			{Field: "company_id", Issue: "Must be a valid UUID"},
		}))
		return
	}

	if api.ownedCompany(c, companyID) == nil {
		return
	}

	filters := map[string]interface{}{}
	for _, key := range []string{"doc_type", "direction", "status", "anaf_status", "date_from", "date_to"} {
		if v := c.Query(key); v != "" {
			filters[key] = v
		}
	}

	page, pageSize := pagination(c)
	docs, total, err := api.documents.List(companyID, filters, page, pageSize)
	if err != nil {
		api.logger.WithError(err).Error("Error listing documents")
		c.JSON(http.StatusInternalServerError, models.NewInternalError("Error listing documents"))
		return
	}

	c.JSON(http.StatusOK, models.DocumentListResponse{
		Items:    docs,
		Page:     page,
		PageSize: pageSize,
		Total:    total,
	})
}

// SyncCompany queues an inbox reconciliation run for a company.
func (api *API) SyncCompany(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	company := api.ownedCompany(c, id)
	if company == nil {
		return
	}

	if api.inngest == nil {
		c.JSON(http.StatusServiceUnavailable, models.NewInternalError("Workflow engine unavailable"))
		return
	}

	err := api.inngest.Publish(c.Request.Context(), services.EventCompanySyncRequested, map[string]interface{}{
		"company_id": company.ID.String(),
	})
	if err != nil {
		api.logger.WithError(err).Error("Error queueing sync")
		c.JSON(http.StatusInternalServerError, models.NewInternalError("Error queueing sync"))
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"company_id": company.ID,
		"status":     "queued",
	})
}

// ListMessages returns a company's recorded inbox messages.
func (api *API) ListMessages(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	if api.ownedCompany(c, id) == nil {
		return
	}

	page, pageSize := pagination(c)
	messages, total, err := api.inbox.ListByCompany(id, page, pageSize)
	if err != nil {
		api.logger.WithError(err).Error("Error listing messages")
		c.JSON(http.StatusInternalServerError, models.NewInternalError("Error listing messages"))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"items":     messages,
		"page":      page,
		"page_size": pageSize,
		"total":     total,
	})
}

// Health reports service and dependency status.
func (api *API) Health(c *gin.Context) {
	status := http.StatusOK
	checks := gin.H{}

	if err := api.db.HealthCheck(); err != nil {
		checks["database"] = err.Error()
		status = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	if api.redis != nil {
		if err := api.redis.HealthCheck(); err != nil {
			checks["redis"] = err.Error()
		} else {
			checks["redis"] = "ok"
		}
	}

	c.JSON(status, gin.H{
		"status":    http.StatusText(status),
		"timestamp": time.Now().UTC(),
		"service":   "anaf-service",
		"checks":    checks,
	})
}

func pagination(c *gin.Context) (int, int) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		page = 1
	}
	pageSize, err := strconv.Atoi(c.DefaultQuery("page_size", "25"))
	if err != nil || pageSize < 1 || pageSize > 100 {
		pageSize = 25
	}
	return page, pageSize
}
