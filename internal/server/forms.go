package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/tiluckdave/prempushp/internal/forms"
)

const (
	formContact     = "contact"
	formDistributor = "distributor"
)

type codedError interface {
	Code() string
}

func (h *httpHandler) handleContactSubmit(c *gin.Context) {
	var submission forms.ContactSubmission
	if err := c.ShouldBindJSON(&submission); err != nil {
		h.metrics.FormSubmitted(formContact, false)
		if isValidationFailure(err) {
			h.respondFormError(c, formContact, forms.InvalidContact(err))
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidRequest.Error()})
		return
	}
	response, err := h.forms.SubmitContact(c.Request.Context(), submission)
	if err != nil {
		h.metrics.FormSubmitted(formContact, false)
		h.respondFormError(c, formContact, err)
		return
	}
	h.metrics.FormSubmitted(formContact, true)
	c.JSON(http.StatusCreated, gin.H{"id": response.ID})
}

func (h *httpHandler) handleDistributorSubmit(c *gin.Context) {
	var submission forms.DistributorSubmission
	if err := c.ShouldBindJSON(&submission); err != nil {
		h.metrics.FormSubmitted(formDistributor, false)
		if isValidationFailure(err) {
			h.respondFormError(c, formDistributor, forms.InvalidDistributorApplication(err))
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidRequest.Error()})
		return
	}
	application, err := h.forms.SubmitDistributorApplication(c.Request.Context(), submission)
	if err != nil {
		h.metrics.FormSubmitted(formDistributor, false)
		h.respondFormError(c, formDistributor, err)
		return
	}
	h.metrics.FormSubmitted(formDistributor, true)
	c.JSON(http.StatusCreated, gin.H{"id": application.ID})
}

func (h *httpHandler) respondFormError(c *gin.Context, form string, err error) {
	body := gin.H{}
	var coded codedError
	if errors.As(err, &coded) {
		body["code"] = coded.Code()
	}
	if isInvalidSubmission(err) {
		body["error"] = "invalid_submission"
		c.JSON(http.StatusBadRequest, body)
		return
	}
	h.logger.Error("failed to store form submission", zap.String("form", form), zap.Error(err))
	body["error"] = "submission_failed"
	c.JSON(http.StatusInternalServerError, body)
}

func isInvalidSubmission(err error) bool {
	return errors.Is(err, forms.ErrInvalidSubmission)
}

func isValidationFailure(err error) bool {
	var fieldErrors validator.ValidationErrors
	return errors.As(err, &fieldErrors)
}

func (h *httpHandler) handleListContacts(c *gin.Context) {
	limit, ok := limitParam(c)
	if !ok {
		return
	}
	responses, err := h.forms.ListContactResponses(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list contact responses", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}
	if responses == nil {
		responses = []forms.ContactResponse{}
	}
	c.JSON(http.StatusOK, gin.H{"responses": responses})
}

func (h *httpHandler) handleListDistributors(c *gin.Context) {
	limit, ok := limitParam(c)
	if !ok {
		return
	}
	applications, err := h.forms.ListDistributorApplications(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list distributor applications", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}
	if applications == nil {
		applications = []forms.DistributorApplication{}
	}
	c.JSON(http.StatusOK, gin.H{"applications": applications})
}

func limitParam(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_limit"})
		return 0, false
	}
	return limit, true
}
