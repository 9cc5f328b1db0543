package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/MarcoPoloResearchLab/proofmind/internal/certificates"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const missingConfidenceScore int64 = -1

type submitRequestPayload struct {
	ProofText string   `json:"proof_text"`
	ProofID   string   `json:"proof_id"`
	Category  *string  `json:"category"`
	Metadata  *string  `json:"metadata"`
	AITags    []string `json:"ai_tags"`
}

type updateRequestPayload struct {
	ProofText *string   `json:"proof_text"`
	Category  *string   `json:"category"`
	Metadata  *string   `json:"metadata"`
	AITags    *[]string `json:"ai_tags"`
}

type verifyRequestPayload struct {
	ConfidenceScore    *int64 `json:"confidence_score"`
	VerificationStatus string `json:"verification_status"`
	Analysis           string `json:"ai_analysis"`
}

type certificateListPayload struct {
	Certificates []certificates.Certificate `json:"certificates"`
}

type analysisPayload struct {
	Owner    string `json:"owner"`
	ProofID  string `json:"proof_id"`
	Analysis string `json:"ai_analysis"`
}

type statsPayload struct {
	Version    string                       `json:"version"`
	Total      int64                        `json:"total"`
	Categories []certificates.CategoryCount `json:"categories"`
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": certificates.RegistryVersion})
}

func (h *httpHandler) handleSubmitCertificate(c *gin.Context) {
	caller, ok := callerFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var request submitRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	created, err := h.certificates.Submit(c.Request.Context(), certificates.SubmitRequest{
		Caller:    caller,
		ProofText: request.ProofText,
		ProofID:   request.ProofID,
		Category:  request.Category,
		Metadata:  request.Metadata,
		AITags:    request.AITags,
	})
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *httpHandler) handleUpdateCertificate(c *gin.Context) {
	caller, ok := callerFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var request updateRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	updated, err := h.certificates.Update(c.Request.Context(), certificates.UpdateRequest{
		Caller:    caller,
		Owner:     certificates.OwnerID(c.Query("owner")),
		ProofID:   c.Param("proof_id"),
		ProofText: request.ProofText,
		Category:  request.Category,
		Metadata:  request.Metadata,
		AITags:    request.AITags,
	})
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (h *httpHandler) handleVerifyCertificate(c *gin.Context) {
	caller, ok := callerFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var request verifyRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	// A missing score reaches the service out of range so the verifier check still runs first.
	score := missingConfidenceScore
	if request.ConfidenceScore != nil {
		score = *request.ConfidenceScore
	}

	// Unknown labels pass through so the service reports them after the authorization check.
	status, parseErr := certificates.ParseVerificationStatus(request.VerificationStatus)
	if parseErr != nil {
		status = certificates.VerificationStatus(request.VerificationStatus)
	}

	verified, err := h.certificates.Verify(c.Request.Context(), certificates.VerifyRequest{
		Caller:          caller,
		Owner:           certificates.OwnerID(c.Param("owner")),
		ProofID:         c.Param("proof_id"),
		ConfidenceScore: score,
		Status:          status,
		Analysis:        request.Analysis,
	})
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, verified)
}

func (h *httpHandler) handleGetCertificate(c *gin.Context) {
	certificate, found, err := h.certificates.Lookup(c.Request.Context(), certificates.OwnerID(c.Param("owner")), c.Param("proof_id"))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	c.JSON(http.StatusOK, certificate)
}

func (h *httpHandler) handleGetAnalysis(c *gin.Context) {
	owner := c.Param("owner")
	proofID := c.Param("proof_id")
	analysis, err := h.certificates.GetAnalysis(c.Request.Context(), certificates.OwnerID(owner), proofID)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, analysisPayload{Owner: owner, ProofID: proofID, Analysis: analysis})
}

func (h *httpHandler) handleListOwnerCertificates(c *gin.Context) {
	owned, err := h.certificates.ListForOwner(c.Request.Context(), certificates.OwnerID(c.Param("owner")))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, newCertificateListPayload(owned))
}

func (h *httpHandler) handleListCategoryCertificates(c *gin.Context) {
	limit := 0
	if rawLimit := c.Query("limit"); rawLimit != "" {
		parsed, err := strconv.Atoi(rawLimit)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_limit"})
			return
		}
		limit = parsed
	}
	listed, err := h.certificates.ListByCategory(c.Request.Context(), c.Param("category"), limit)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, newCertificateListPayload(listed))
}

func (h *httpHandler) handleStats(c *gin.Context) {
	total, err := h.certificates.TotalCertificates(c.Request.Context())
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	counts, err := h.certificates.CategoryCounts(c.Request.Context())
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	if counts == nil {
		counts = []certificates.CategoryCount{}
	}
	c.JSON(http.StatusOK, statsPayload{
		Version:    certificates.RegistryVersion,
		Total:      total,
		Categories: counts,
	})
}

func (h *httpHandler) handleCategoryStats(c *gin.Context) {
	category := c.Param("category")
	count, err := h.certificates.CategoryCount(c.Request.Context(), category)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, certificates.CategoryCount{Category: category, Count: count})
}

func (h *httpHandler) writeServiceError(c *gin.Context, err error) {
	status := statusForError(err)
	code := "internal_error"
	var serviceErr *certificates.ServiceError
	if errors.As(err, &serviceErr) {
		code = serviceErr.Code()
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("certificate request failed",
			zap.String("path", c.FullPath()),
			zap.String("code", code),
			zap.Error(err))
	}
	c.JSON(status, gin.H{"error": code})
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, certificates.ErrInvalidProofText),
		errors.Is(err, certificates.ErrInvalidProofID),
		errors.Is(err, certificates.ErrInvalidOwnerID),
		errors.Is(err, certificates.ErrInvalidConfidenceScore),
		errors.Is(err, certificates.ErrInvalidVerificationStatus):
		return http.StatusBadRequest
	case errors.Is(err, certificates.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, certificates.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, certificates.ErrDuplicateProofID):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func newCertificateListPayload(list []certificates.Certificate) certificateListPayload {
	if list == nil {
		list = []certificates.Certificate{}
	}
	return certificateListPayload{Certificates: list}
}
