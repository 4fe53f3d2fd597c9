package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/beacon-House/counselling-portal-sub000/domain"
)

type createNoteRequest struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Type  string `json:"type"`
}

func getNotes(cfg Config) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		if _, err := cfg.Auth.CounsellorIDFromAuthHeader(authHeader(c)); err != nil {
			return jsonError(c, http.StatusUnauthorized, err.Error())
		}
		notes, err := cfg.Store.FetchNotes(ctx, c.Param("id"))
		if err != nil {
			c.Logger().Error(err)
			return jsonError(c, http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, notes)
	}
}

func postNote(cfg Config) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		if _, err := cfg.Auth.CounsellorIDFromAuthHeader(authHeader(c)); err != nil {
			return jsonError(c, http.StatusUnauthorized, err.Error())
		}

		var req createNoteRequest
		if err := decodeBody(c, &req); err != nil {
			return jsonError(c, http.StatusBadRequest, "invalid body")
		}
		if strings.TrimSpace(req.Body) == "" {
			return jsonError(c, http.StatusBadRequest, "note body is required")
		}
		switch req.Type {
		case domain.NoteTypeNote, domain.NoteTypeTranscript:
		case "":
			req.Type = domain.NoteTypeNote
		default:
			return jsonError(c, http.StatusBadRequest, "invalid note type")
		}

		n := domain.Note{
			ID:        uuid.NewString(),
			StudentID: c.Param("id"),
			Title:     req.Title,
			Body:      req.Body,
			Type:      req.Type,
			CreatedAt: time.Now().UTC(),
		}
		if err := cfg.Store.CreateNote(ctx, n); err != nil {
			c.Logger().Error(err)
			return jsonError(c, http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusCreated, n)
	}
}
