// Maps storage and domain errors to API errors.

package handlers

import (
	"errors"
	"net/http"

	"github.com/maruel/arena/internal/clans"
	"github.com/maruel/arena/internal/recordstore"
	"github.com/maruel/arena/internal/server/dto"
)

// toAPIError classifies err for the client. Errors already carrying a status
// are returned as is; unknown errors become 500.
func toAPIError(err error) error {
	if err == nil {
		return nil
	}
	var ews dto.ErrorWithStatus
	if errors.As(err, &ews) {
		return err
	}
	var ce *recordstore.CascadeError
	switch {
	case errors.Is(err, recordstore.ErrNotFound):
		return dto.NotFound("resource").Wrap(err)
	case errors.Is(err, recordstore.ErrDuplicateID), errors.Is(err, clans.ErrConflict):
		return dto.Conflict("conflict").Wrap(err)
	case errors.Is(err, clans.ErrInvalidInput),
		errors.Is(err, recordstore.ErrInvalidRecord),
		errors.Is(err, recordstore.ErrInvalidFilter),
		errors.Is(err, recordstore.ErrInvalidCollection):
		return dto.BadRequest("invalid request").Wrap(err)
	case errors.Is(err, recordstore.ErrLockTimeout):
		return dto.LockTimeout().Wrap(err)
	case errors.As(err, &ce):
		// Checked before ErrStorageUnavailable: a rolled back commit wraps both.
		return dto.CascadeFailed(ce.Step, ce.Collection).Wrap(err)
	case errors.Is(err, recordstore.ErrStorageUnavailable):
		return dto.StorageUnavailable().Wrap(err)
	default:
		return dto.NewAPIError(http.StatusInternalServerError, dto.ErrorCodeInternal, "internal error").Wrap(err)
	}
}
