package evaluations

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"compliance-backend/internal/documents"
	"compliance-backend/internal/shared/server/middleware"
	"compliance-backend/internal/shared/server/respond"
)

// Handler wires HTTP handlers to the evaluations service.
type Handler struct {
	Svc    *Service
	DocSvc *documents.Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service, docSvc *documents.Service) *Handler {
	return &Handler{Svc: svc, DocSvc: docSvc}
}

// RegisterRoutes attaches evaluation routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/evaluations", h.create)
	rg.GET("/evaluations", h.list)
	rg.GET("/evaluations/:id", h.get)
}

type createRequest struct {
	DocumentID       string   `json:"documentId"`
	SchemeID         string   `json:"schemeId"`
	DocumentTypeID   string   `json:"documentTypeId"`
	ChecklistItemIDs []string `json:"checklistItemIds"`
}

// create starts an evaluation for an existing document, or ingests an
// uploaded file first when the request is multipart.
func (h *Handler) create(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	ctx := WithRequestID(c.Request.Context(), middleware.RequestIDFromContext(c))

	var req createRequest
	contentType := c.GetHeader("Content-Type")
	if strings.HasPrefix(contentType, "multipart/form-data") {
		fileHeader, err := c.FormFile("file")
		if err != nil {
			respond.Error(c, http.StatusBadRequest, "validation_error", "file is required", nil)
			return
		}
		file, err := fileHeader.Open()
		if err != nil {
			respond.Error(c, http.StatusBadRequest, "validation_error", "unable to read file", nil)
			return
		}
		data, err := io.ReadAll(file)
		file.Close()
		if err != nil {
			respond.Error(c, http.StatusBadRequest, "validation_error", "unable to read file", nil)
			return
		}

		docCtx := documents.WithRequestID(c.Request.Context(), middleware.RequestIDFromContext(c))
		doc, err := h.DocSvc.Create(docCtx, userID, fileHeader.Filename, data)
		if err != nil {
			var dup *documents.DuplicateDocumentError
			switch {
			case errors.As(err, &dup):
				doc = dup.Existing
			case errors.Is(err, documents.ErrTooLarge):
				respond.Error(c, http.StatusRequestEntityTooLarge, "file_too_large", err.Error(), nil)
				return
			case errors.Is(err, documents.ErrInvalidInput):
				respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
				return
			default:
				respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to ingest document", nil)
				return
			}
		}
		req.DocumentID = doc.ID
		req.SchemeID = c.PostForm("schemeId")
		req.DocumentTypeID = c.PostForm("documentTypeId")
		req.ChecklistItemIDs = splitIDs(c.PostForm("checklistItemIds"))
	} else {
		if err := c.ShouldBindJSON(&req); err != nil {
			respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
			return
		}
	}

	eval, err := h.Svc.Create(ctx, userID, req.DocumentID, req.SchemeID, req.DocumentTypeID, req.ChecklistItemIDs)
	if err != nil {
		switch {
		case errors.Is(err, documents.ErrNotFound):
			respond.Error(c, http.StatusNotFound, "not_found", "document not found", nil)
		case errors.Is(err, ErrDocumentNotReady):
			respond.Error(c, http.StatusConflict, "document_not_ready", err.Error(), nil)
		case errors.Is(err, ErrInvalidInput):
			respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to start evaluation", nil)
		}
		return
	}

	c.Set("evaluationId", eval.ID)
	c.Set("documentId", eval.DocumentID)
	respond.JSON(c, http.StatusAccepted, gin.H{
		"evaluationId": eval.ID,
		"documentId":   eval.DocumentID,
		"status":       eval.Status,
	})
}

func (h *Handler) get(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	evaluationID := c.Param("id")
	if evaluationID == "" {
		respond.Error(c, http.StatusBadRequest, "validation_error", "evaluation id is required", nil)
		return
	}

	eval, results, err := h.Svc.Get(c.Request.Context(), userID, evaluationID)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			respond.Error(c, http.StatusNotFound, "not_found", "evaluation not found", nil)
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to fetch evaluation", nil)
		}
		return
	}

	c.Set("evaluationId", eval.ID)
	resp := gin.H{
		"evaluationId": eval.ID,
		"documentId":   eval.DocumentID,
		"status":       eval.Status,
		"createdAt":    eval.CreatedAt,
	}
	if eval.Status == StatusCompleted {
		resp["summaryStats"] = eval.Stats
		resp["processingTimeMs"] = eval.ProcessingTimeMs
		resp["results"] = toResultResponses(results)
	}
	if eval.Status == StatusFailed {
		resp["errorCode"] = eval.ErrorCode
		resp["errorMessage"] = eval.ErrorMessage
	}

	respond.JSON(c, http.StatusOK, resp)
}

func (h *Handler) list(c *gin.Context) {
	if isGuest, ok := c.Get("isGuest"); ok {
		if guest, ok2 := isGuest.(bool); ok2 && guest {
			respond.Error(c, http.StatusUnauthorized, "login_required", "Login required to view history", nil)
			return
		}
	}

	userID := middleware.UserIDFromContext(c)

	limit := 20
	offset := 0

	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}
	if limit < 0 {
		limit = 0
	}

	if v := c.Query("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			offset = parsed
		}
	}
	if offset < 0 {
		offset = 0
	}

	evals, err := h.Svc.List(c.Request.Context(), userID, limit, offset)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to list evaluations", nil)
		return
	}

	resp := make([]gin.H, 0, len(evals))
	for _, eval := range evals {
		item := gin.H{
			"evaluationId": eval.ID,
			"documentId":   eval.DocumentID,
			"status":       eval.Status,
			"createdAt":    eval.CreatedAt,
		}
		if eval.Status == StatusCompleted {
			item["summaryStats"] = eval.Stats
		}
		resp = append(resp, item)
	}

	respond.JSON(c, http.StatusOK, resp)
}

type resultResponse struct {
	ChecklistItemID string    `json:"checklistItemId"`
	ItemText        string    `json:"itemText"`
	Status          string    `json:"status"`
	Remarks         string    `json:"remarks"`
	CreatedAt       time.Time `json:"createdAt"`
}

func toResultResponses(results []ItemResult) []resultResponse {
	out := make([]resultResponse, 0, len(results))
	for _, r := range results {
		out = append(out, resultResponse{
			ChecklistItemID: r.ChecklistItemID,
			ItemText:        r.ItemText,
			Status:          r.Status,
			Remarks:         r.Remarks,
			CreatedAt:       r.CreatedAt,
		})
	}
	return out
}

func splitIDs(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
