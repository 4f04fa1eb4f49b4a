package server

import (
	"net/http"

	"github.com/YuminosukeSato/equipml/pkg/errors"
	"github.com/go-chi/render"
)

// ErrorResponse はエラー時の応答
type ErrorResponse struct {
	Error string `json:"error"`
}

// statusOf はエラーの種類を HTTP ステータスに対応させる
func statusOf(err error) int {
	var (
		validation *errors.ValidationError
		value      *errors.ValueError
		dimension  *errors.DimensionError
	)
	switch {
	case errors.IsInsufficientData(err),
		errors.As(err, &validation),
		errors.As(err, &value),
		errors.As(err, &dimension):
		return http.StatusBadRequest
	case errors.IsNotFitted(err), errors.IsNotFound(err):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", err, "path", r.URL.Path)
	}
	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Error: err.Error()})
}
