package api

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/MrWong99/serene/internal/incident"
	"github.com/MrWong99/serene/internal/observe"
)

// maxIncidentLimit caps the page size of GET /incidents.
const maxIncidentLimit = 500

// RequireBearer rejects requests whose Authorization header does not carry
// token as a bearer credential.
func RequireBearer(token string) gin.HandlerFunc {
	want := []byte(token)
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		got, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
			return
		}
		c.Next()
	}
}

type incidentHandler struct {
	store incident.Store
}

// List handles GET /incidents.
func (h *incidentHandler) List(c *gin.Context) {
	limit := incident.DefaultLimit
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = min(n, maxIncidentLimit)
	}

	incs, err := h.store.Recent(c.Request.Context(), limit)
	if err != nil {
		observe.Logger(c.Request.Context()).Error("api: list incidents", "err", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Error: genericError})
		return
	}
	if incs == nil {
		incs = []incident.Incident{}
	}
	c.JSON(http.StatusOK, gin.H{"incidents": incs})
}
