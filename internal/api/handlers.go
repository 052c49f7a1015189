package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"docpipe/internal/apperr"
	"docpipe/internal/documents"
	"docpipe/internal/eventbus"
	"docpipe/internal/plugin"
	"docpipe/internal/scheduler"
	"docpipe/internal/workflow"
	"docpipe/pkg/models"
)

// handlers groups every route handler and its core dependencies in a
// single struct, one route-registering method per concern.
type handlers struct {
	workflows       *workflow.Store
	resolver        *workflow.Resolver
	bus             *eventbus.Bus
	dispatcher      *scheduler.Dispatcher
	graph           *documents.Graph
	registry        *plugin.Registry
	heartbeat       time.Duration
}

func (h *handlers) registerRoutes(router *gin.Engine) {
	sources := router.Group("/sources/:sourceID/workflows/:type")
	sources.POST("/steps", h.appendStep(models.ScopeSource))
	sources.GET("", h.listSteps(models.ScopeSource))
	sources.GET("/available-plugins", h.availablePlugins(models.ScopeSource))
	sources.DELETE("/steps/:stepID", h.deleteStep(models.ScopeSource))
	sources.PUT("/reorder", h.reorder(models.ScopeSource))

	userDefaults := router.Group("/workflows/:type")
	userDefaults.POST("/steps", h.appendStep(models.ScopeUser))
	userDefaults.GET("", h.listSteps(models.ScopeUser))
	userDefaults.GET("/available-plugins", h.availablePlugins(models.ScopeUser))
	userDefaults.DELETE("/steps/:stepID", h.deleteStep(models.ScopeUser))
	userDefaults.PUT("/reorder", h.reorder(models.ScopeUser))

	router.GET("/events/stream", h.streamEvents)
	router.GET("/events/recent", h.recentEvents)

	router.POST("/jobs/:id/cancel", h.cancelJob)

	router.POST("/documents", h.createDocument)
	router.GET("/documents/:id", h.getDocument)
}

// scopeID resolves the scope key from the route: the path parameter for
// source-scoped routes, or the X-User-Id header for user-scoped defaults
// (authentication itself is an external collaborator — this adapter
// trusts whatever identity the upstream auth layer attached).
func (h *handlers) scopeID(c *gin.Context, scope models.WorkflowScope) (string, bool) {
	if scope == models.ScopeSource {
		id := c.Param("sourceID")
		return id, id != ""
	}
	id := c.GetHeader("X-User-Id")
	return id, id != ""
}

type appendStepRequest struct {
	PluginName     string         `json:"plugin_name" binding:"required"`
	SequenceNumber int            `json:"sequence_number" binding:"required"`
	Settings       map[string]any `json:"settings"`
}

func (h *handlers) appendStep(scope models.WorkflowScope) gin.HandlerFunc {
	return func(c *gin.Context) {
		scopeID, ok := h.scopeID(c, scope)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing scope identity"})
			return
		}
		docType := c.Param("type")

		var req appendStepRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid step payload"})
			return
		}

		step, result, err := h.workflows.Append(c.Request.Context(), scope, scopeID, docType, req.PluginName, req.SequenceNumber, req.Settings)
		if err != nil {
			if apperr.Is(err, apperr.Validation) {
				c.JSON(http.StatusBadRequest, gin.H{"validation": result, "error": err.Error()})
				return
			}
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"step": step, "validation": result})
	}
}

func (h *handlers) listSteps(scope models.WorkflowScope) gin.HandlerFunc {
	return func(c *gin.Context) {
		scopeID, ok := h.scopeID(c, scope)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing scope identity"})
			return
		}
		docType := c.Param("type")

		steps, err := h.workflows.Read(c.Request.Context(), scope, scopeID, docType)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"steps": steps})
	}
}

func (h *handlers) availablePlugins(scope models.WorkflowScope) gin.HandlerFunc {
	return func(c *gin.Context) {
		scopeID, ok := h.scopeID(c, scope)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing scope identity"})
			return
		}
		docType := c.Param("type")

		currentStep, err := strconv.Atoi(c.Query("current_step"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "current_step must be an integer"})
			return
		}

		names, result, err := h.workflows.ListCompatiblePlugins(c.Request.Context(), scope, scopeID, docType, currentStep)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"plugins": names, "validation": result})
	}
}

func (h *handlers) deleteStep(scope models.WorkflowScope) gin.HandlerFunc {
	return func(c *gin.Context) {
		scopeID, ok := h.scopeID(c, scope)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing scope identity"})
			return
		}
		docType := c.Param("type")
		stepID := c.Param("stepID")

		if err := h.workflows.Delete(c.Request.Context(), scope, scopeID, docType, stepID); err != nil {
			writeError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

type reorderEntry struct {
	ID             string `json:"id" binding:"required"`
	SequenceNumber int    `json:"sequence_number" binding:"required"`
}

func (h *handlers) reorder(scope models.WorkflowScope) gin.HandlerFunc {
	return func(c *gin.Context) {
		scopeID, ok := h.scopeID(c, scope)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing scope identity"})
			return
		}
		docType := c.Param("type")

		var entries []reorderEntry
		if err := c.ShouldBindJSON(&entries); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid reorder payload"})
			return
		}

		changes := make([]workflow.SequenceChange, 0, len(entries))
		for _, e := range entries {
			changes = append(changes, workflow.SequenceChange{StepID: e.ID, NewSequence: e.SequenceNumber})
		}

		result, err := h.workflows.Reorder(c.Request.Context(), scope, scopeID, docType, changes)
		if err != nil {
			if apperr.Is(err, apperr.Validation) {
				c.JSON(http.StatusBadRequest, gin.H{"validation": result, "error": err.Error()})
				return
			}
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"validation": result})
	}
}

func (h *handlers) recentEvents(c *gin.Context) {
	minutes := 5
	if v := c.Query("minutes"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			minutes = n
		}
	}
	var types []string
	if v := c.Query("types"); v != "" {
		types = strings.Split(v, ",")
	}
	origin := c.Query("source")

	c.JSON(http.StatusOK, h.bus.Recent(minutes, types, origin))
}

// createDocumentRequest is the metadata-only shape a source or an
// interactive upload client submits; the stored bytes themselves live
// behind whatever storage plugin StorageDescriptor.PluginName names.
type createDocumentRequest struct {
	TypeName   string                    `json:"type_name" binding:"required"`
	OwnerID    string                    `json:"owner_id" binding:"required"`
	SourceID   *string                   `json:"source_id"`
	ParentID   *string                   `json:"parent_id"`
	Storage    models.StorageDescriptor  `json:"storage" binding:"required"`
	Properties map[string]any           `json:"properties"`
}

func (h *handlers) createDocument(c *gin.Context) {
	var req createDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid document payload"})
		return
	}

	doc, err := h.graph.Create(c.Request.Context(), documents.CreateInput{
		TypeName:   req.TypeName,
		OwnerID:    req.OwnerID,
		SourceID:   req.SourceID,
		ParentID:   req.ParentID,
		Storage:    req.Storage,
		Properties: req.Properties,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"document": doc})
}

func (h *handlers) getDocument(c *gin.Context) {
	doc, err := h.graph.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if doc == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"document": doc})
}

func (h *handlers) cancelJob(c *gin.Context) {
	id := c.Param("id")
	job, err := h.dispatcher.Cancel(c.Request.Context(), id, "cancelled via API")
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": job})
}
