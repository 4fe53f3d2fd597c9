package api

import (
	"errors"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/beacon-House/counselling-portal-sub000/review"
)

// Config carries the collaborators the handlers need.
type Config struct {
	Store     Storage
	Objects   Objects
	Auth      Authenticator
	Deduper   Deduper
	Reviews   *review.Manager
	Extractor Extractor
	Summaries Summarizer
	Assistant Summarizer
	Broker    *UpdateBroker
	Logger    *log.Logger
}

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, cfg Config) {
	e.GET("/healthz", healthz())

	e.GET("/api/students", getStudents(cfg))
	e.POST("/api/students", postStudent(cfg))
	e.GET("/api/students/:id", getStudent(cfg))
	e.PATCH("/api/students/:id", patchStudent(cfg))

	e.GET("/api/roadmap", getTaxonomy(cfg))
	e.GET("/api/students/:id/roadmap", getRoadmap(cfg))
	e.PATCH("/api/students/:id/subtasks/:subtaskId", patchSubtask(cfg))

	e.GET("/api/students/:id/notes", getNotes(cfg))
	e.POST("/api/students/:id/notes", postNote(cfg))

	e.GET("/api/students/:id/files", getFiles(cfg))
	e.POST("/api/students/:id/files", postFile(cfg))

	e.GET("/api/students/:id/calendar", getCalendar(cfg))

	e.POST("/api/chat", postChat(cfg, newInflightSummaries()))

	if cfg.Broker != nil {
		e.GET("/api/students/:id/stream", streamUpdates(cfg))
	}

	registerReview(e, cfg)
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func jsonError(c echo.Context, status int, msg string) error {
	return c.JSON(status, errorResponse{Error: msg})
}

// isNotFound reports whether the storage error is a missing-row response.
func isNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound
}

func authHeader(c echo.Context) string {
	return c.Request().Header.Get(echo.HeaderAuthorization)
}
