package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"medcoder/pkg/database"
)

// HistoryRoutes builds the case-history router: persisted cases and
// their event logs, read-only.
func HistoryRoutes(store database.Store) http.Handler {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	api := router.Group("/api/history")
	{
		api.GET("/cases", listCases(store))
		api.GET("/cases/:case_id", getCase(store))
		api.GET("/cases/:case_id/events", getCaseEvents(store))
	}
	return router
}

// listCases returns recent cases, newest first. limit defaults to 50.
func listCases(store database.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
		if err != nil || limit < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit parameter"})
			return
		}

		cases, err := store.ListCases(c.Request.Context(), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"cases": cases, "count": len(cases)})
	}
}

func getCase(store database.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		rec, err := store.GetCase(c.Request.Context(), c.Param("case_id"))
		if err == database.ErrCaseNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "case not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, rec)
	}
}

func getCaseEvents(store database.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		caseID := c.Param("case_id")
		if _, err := store.GetCase(c.Request.Context(), caseID); err == database.ErrCaseNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "case not found"})
			return
		}

		eventList, err := store.GetCaseEvents(c.Request.Context(), caseID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"case_id": caseID, "events": eventList, "count": len(eventList)})
	}
}
