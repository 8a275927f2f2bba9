package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"taskboard/internal/dto"
	"taskboard/internal/service"

	"github.com/gin-gonic/gin"
)

type errorStatus struct {
	err    error
	status int
	field  string
}

var errorStatuses = []errorStatus{
	{service.ErrMissingFields, http.StatusBadRequest, ""},
	{service.ErrInvalidEmail, http.StatusBadRequest, "email"},
	{service.ErrPasswordTooShort, http.StatusBadRequest, "password"},
	{service.ErrPasswordTooLong, http.StatusBadRequest, "password"},
	{service.ErrTitleRequired, http.StatusBadRequest, "title"},
	{service.ErrResetTokenRequired, http.StatusBadRequest, ""},
	{service.ErrInvalidResetToken, http.StatusBadRequest, "token"},
	{service.ErrUsernameTaken, http.StatusConflict, "username"},
	{service.ErrEmailTaken, http.StatusConflict, "email"},
	{service.ErrUserNotFound, http.StatusUnauthorized, ""},
	{service.ErrInvalidCredentials, http.StatusUnauthorized, ""},
	{service.ErrTooManyAttempts, http.StatusTooManyRequests, ""},
}

// writeError maps service errors to a status and JSON body. Anything unrecognised is logged and
// reported as a generic 500.
func writeError(c *gin.Context, log *slog.Logger, err error) {
	for _, e := range errorStatuses {
		if errors.Is(err, e.err) {
			c.JSON(e.status, dto.ErrorResponse{Error: e.err.Error(), Field: e.field})
			return
		}
	}
	_ = c.Error(err)
	log.ErrorContext(c.Request.Context(), "request failed",
		slog.String("path", c.FullPath()),
		slog.String("error", err.Error()),
	)
	c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "internal server error"})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: msg})
}
