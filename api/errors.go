package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/castleridge-io/clawdeck-sub003/domain"
)

// writeDomainError maps service errors onto the HTTP surface. Absent
// resources are reported identically whether they do not exist or sit outside
// the principal's scope.
func writeDomainError(c echo.Context, err error) error {
	var (
		forbidden    domain.ForbiddenError
		transition   domain.InvalidTransitionError
		claimed      domain.AlreadyClaimedError
		invalidAgent domain.InvalidAgentError
		badToken     InvalidContinuationTokenError
	)
	switch {
	case errors.As(err, &forbidden):
		return c.JSON(http.StatusForbidden, errorResponse{Error: forbidden.Error()})
	case errors.As(err, &transition):
		return c.JSON(http.StatusUnprocessableEntity, errorResponse{Error: transition.Error()})
	case errors.As(err, &claimed):
		return c.JSON(http.StatusConflict, errorResponse{Error: claimed.Error()})
	case errors.As(err, &invalidAgent):
		return c.JSON(http.StatusUnprocessableEntity, errorResponse{Error: invalidAgent.Error()})
	case errors.As(err, &badToken):
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid page token"})
	case errors.Is(err, domain.ErrNotFound):
		return c.JSON(http.StatusNotFound, errorResponse{Error: "not found"})
	case errors.Is(err, domain.ErrBoardNotEmpty):
		return c.JSON(http.StatusConflict, errorResponse{Error: err.Error()})
	default:
		c.Logger().Error(err)
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "storage unavailable"})
	}
}
