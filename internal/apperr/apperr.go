// Package apperr defines the error kinds services return and maps them onto HTTP responses.
package apperr

import (
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mariantrack/backend/pkg/database"
	"github.com/mariantrack/backend/pkg/response"
	"github.com/mariantrack/backend/pkg/storage"
)

// Error kinds. Match with errors.Is.
var (
	ErrNotFound     = errors.New("not found")
	ErrForbidden    = errors.New("forbidden")
	ErrConflict     = errors.New("conflict")
	ErrInvalid      = errors.New("invalid input")
	ErrUnauthorized = errors.New("unauthorized")
)

// Error carries a user-facing message and a kind.
type Error struct {
	Kind error
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func (e *Error) Unwrap() error { return e.Kind }

// NotFound returns an ErrNotFound with msg.
func NotFound(msg string) error { return &Error{Kind: ErrNotFound, Msg: msg} }

// Forbidden returns an ErrForbidden with msg.
func Forbidden(msg string) error { return &Error{Kind: ErrForbidden, Msg: msg} }

// Conflict returns an ErrConflict with msg.
func Conflict(msg string) error { return &Error{Kind: ErrConflict, Msg: msg} }

// Invalid returns an ErrInvalid with msg.
func Invalid(msg string) error { return &Error{Kind: ErrInvalid, Msg: msg} }

// Unauthorized returns an ErrUnauthorized with msg.
func Unauthorized(msg string) error { return &Error{Kind: ErrUnauthorized, Msg: msg} }

// Respond writes the response for err. Unclassified errors are logged and answered with 500 and fallback.
func Respond(c *gin.Context, logger *zap.Logger, err error, fallback string) {
	msg := fallback
	var ae *Error
	if errors.As(err, &ae) {
		msg = ae.Msg
	}
	switch {
	case errors.Is(err, ErrInvalid):
		response.BadRequest(c, msg)
	case errors.Is(err, ErrUnauthorized):
		response.Unauthorized(c, msg)
	case errors.Is(err, ErrForbidden):
		response.Forbidden(c, msg)
	case errors.Is(err, ErrNotFound), errors.Is(err, database.ErrNotFound):
		if ae == nil {
			msg = "not found"
		}
		response.NotFound(c, msg)
	case errors.Is(err, ErrConflict):
		response.Conflict(c, msg)
	case errors.Is(err, storage.ErrUnavailable):
		response.ServiceUnavailable(c, "file storage is temporarily unavailable")
	default:
		if logger != nil {
			logger.Error(fallback, zap.Error(err), zap.String("path", c.FullPath()))
		}
		response.Internal(c, fallback)
	}
}
