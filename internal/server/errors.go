package server

import (
	"net/http"

	apperrors "github.com/apilens/apilens/internal/errors"
)

// HandleError is the single funnel for server-side errors. Handlers and the
// router's not-found/method-not-allowed hooks all route through here so every
// response carries the same envelope shape.
func HandleError(w http.ResponseWriter, r *http.Request, err error) {
	apperrors.RespondWithError(w, r, err)
}
