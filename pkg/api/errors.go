package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/louannemur/agent-orchestrator-sub000/pkg/fleeterr"
)

// statusForCategory maps a fleeterr.Category to the HTTP status spec.md
// §6.1 assigns it.
func statusForCategory(cat fleeterr.Category) int {
	switch cat {
	case fleeterr.CategoryValidation:
		return http.StatusBadRequest
	case fleeterr.CategoryOwnership:
		return http.StatusForbidden
	case fleeterr.CategoryNotFound:
		return http.StatusNotFound
	case fleeterr.CategoryConflict, fleeterr.CategoryTerminal:
		return http.StatusConflict
	case fleeterr.CategoryTransient, fleeterr.CategoryTool, fleeterr.CategorySupervisor:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps err to a status code and {error, message} body, logging
// unexpected (uncategorized) errors the way tarsy's mapServiceError does.
func writeError(c *gin.Context, err error) {
	cat, ok := fleeterr.CategoryOf(err)
	if !ok {
		slog.Error("unexpected service error", "error", err)
		c.JSON(http.StatusInternalServerError, errorEnvelope{Error: "internal", Message: "internal server error"})
		return
	}
	c.JSON(statusForCategory(cat), errorEnvelope{Error: string(cat), Message: err.Error()})
}
