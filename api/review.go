package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/beacon-House/counselling-portal-sub000/domain"
	"github.com/beacon-House/counselling-portal-sub000/extract"
	"github.com/beacon-House/counselling-portal-sub000/review"
)

func registerReview(e *echo.Echo, cfg Config) {
	base := "/api/students/:id/notes/:noteId/review"
	e.POST(base, openReview(cfg))
	e.GET(base, getReview(cfg))
	e.POST(base+"/proposals", addProposal(cfg))
	e.POST(base+"/proposals/:proposalId/edit", editProposal(cfg))
	e.PATCH(base+"/proposals/:proposalId", saveProposal(cfg))
	e.DELETE(base+"/proposals/:proposalId", deleteProposal(cfg))
	e.POST(base+"/proposals/:proposalId/restore", restoreProposal(cfg))
	e.POST(base+"/commit", commitReview(cfg))
	e.DELETE(base, cancelReview(cfg))
}

type reviewResponse struct {
	Proposals   []domain.Proposal `json:"proposals"`
	ActiveCount int               `json:"activeCount"`
	Resumed     bool              `json:"resumed"`
	Warning     string            `json:"warning,omitempty"`
}

func reviewBody(s *review.Session, resumed bool, warning string) reviewResponse {
	return reviewResponse{
		Proposals:   s.Proposals(),
		ActiveCount: s.ActiveCount(),
		Resumed:     resumed,
		Warning:     warning,
	}
}

// openReview opens a review session for a transcript. A snapshot left by a
// crashed or abandoned session is resumed as-is; otherwise the transcript is
// sent to the extraction service and a fresh working set is seeded. An
// extraction failure still opens a usable session with one blank proposal so
// the counsellor can proceed by hand.
func openReview(cfg Config) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics, spanCtx := newRequestMetrics(ctx, cfg.Logger, "/api/students/:id/notes/:noteId/review")
		if spanCtx != nil {
			c.SetRequest(c.Request().WithContext(spanCtx))
			ctx = spanCtx
		}
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		authStart := time.Now()
		counsellorID, authErr := cfg.Auth.CounsellorIDFromAuthHeader(authHeader(c))
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			metrics.SetErrorStage("auth")
			err = jsonError(c, http.StatusUnauthorized, authErr.Error())
			return err
		}

		studentID := c.Param("id")
		noteID := c.Param("noteId")
		key := review.Key{StudentID: studentID, NoteID: noteID}

		fetchStart := time.Now()
		student, ferr := cfg.Store.FetchStudent(ctx, counsellorID, studentID)
		if ferr != nil {
			if isNotFound(ferr) {
				metrics.SetErrorStage("unknown_student")
				err = jsonError(c, http.StatusNotFound, "student not found")
				return err
			}
			metrics.SetErrorStage("storage")
			c.Logger().Error(ferr)
			err = jsonError(c, http.StatusInternalServerError, ferr.Error())
			return err
		}
		counsellor, ferr := cfg.Store.FetchCounsellor(ctx, counsellorID)
		if ferr != nil {
			metrics.SetErrorStage("storage")
			c.Logger().Error(ferr)
			err = jsonError(c, http.StatusInternalServerError, ferr.Error())
			return err
		}
		note, ferr := cfg.Store.FetchNote(ctx, studentID, noteID)
		if ferr != nil {
			if isNotFound(ferr) {
				metrics.SetErrorStage("unknown_note")
				err = jsonError(c, http.StatusNotFound, "note not found")
				return err
			}
			metrics.SetErrorStage("storage")
			c.Logger().Error(ferr)
			err = jsonError(c, http.StatusInternalServerError, ferr.Error())
			return err
		}
		if note.Type != domain.NoteTypeTranscript {
			metrics.SetErrorStage("not_transcript")
			err = jsonError(c, http.StatusBadRequest, "note is not a transcript")
			return err
		}
		if note.Processed {
			metrics.SetErrorStage("already_processed")
			err = jsonError(c, http.StatusConflict, "transcript already processed")
			return err
		}
		phases, tasks, ferr := cfg.Store.FetchTaxonomy(ctx)
		metrics.ObserveFetch(time.Since(fetchStart))
		if ferr != nil {
			metrics.SetErrorStage("storage")
			c.Logger().Error(ferr)
			err = jsonError(c, http.StatusInternalServerError, ferr.Error())
			return err
		}

		// A surviving snapshot wins over re-extraction.
		if s, ok, rerr := cfg.Reviews.Resume(ctx, key, student, counsellor, phases); rerr != nil {
			metrics.SetErrorStage("snapshot")
			c.Logger().Error(rerr)
			err = jsonError(c, http.StatusInternalServerError, rerr.Error())
			return err
		} else if ok {
			metrics.SetRowsReturned(len(s.Proposals()))
			err = c.JSON(http.StatusOK, reviewBody(s, true, ""))
			return err
		}

		warning := ""
		proposals, xerr := cfg.Extractor.ExtractTasks(ctx, note.Body, phases, tasks, studentID)
		if xerr != nil {
			var svcErr *extract.ServiceError
			if !errors.As(xerr, &svcErr) && !errors.Is(xerr, extract.ErrEmptyTranscript) {
				cfg.Logger.WithError(xerr).Warn("review.extract.transport_failed")
			}
			metrics.SetErrorStage("extract")
			warning = "task extraction failed; starting with a blank proposal"
			proposals = nil
		}

		s, serr := cfg.Reviews.Start(ctx, key, student, counsellor, phases, proposals)
		if serr != nil {
			metrics.SetErrorStage("session")
			c.Logger().Error(serr)
			err = jsonError(c, http.StatusInternalServerError, serr.Error())
			return err
		}
		metrics.SetRowsReturned(len(s.Proposals()))
		err = c.JSON(http.StatusOK, reviewBody(s, false, warning))
		return err
	}
}

// sessionFromRequest resolves the live or snapshotted session for the request
// key. It writes the error response itself and returns a nil session when the
// request cannot proceed.
func sessionFromRequest(c echo.Context, cfg Config) (*review.Session, error) {
	ctx := c.Request().Context()
	counsellorID, err := cfg.Auth.CounsellorIDFromAuthHeader(authHeader(c))
	if err != nil {
		return nil, jsonError(c, http.StatusUnauthorized, err.Error())
	}
	studentID := c.Param("id")
	student, err := cfg.Store.FetchStudent(ctx, counsellorID, studentID)
	if err != nil {
		if isNotFound(err) {
			return nil, jsonError(c, http.StatusNotFound, "student not found")
		}
		c.Logger().Error(err)
		return nil, jsonError(c, http.StatusInternalServerError, err.Error())
	}
	counsellor, err := cfg.Store.FetchCounsellor(ctx, counsellorID)
	if err != nil {
		c.Logger().Error(err)
		return nil, jsonError(c, http.StatusInternalServerError, err.Error())
	}
	phases, _, err := cfg.Store.FetchTaxonomy(ctx)
	if err != nil {
		c.Logger().Error(err)
		return nil, jsonError(c, http.StatusInternalServerError, err.Error())
	}

	key := review.Key{StudentID: studentID, NoteID: c.Param("noteId")}
	s, ok, err := cfg.Reviews.Resume(ctx, key, student, counsellor, phases)
	if err != nil {
		c.Logger().Error(err)
		return nil, jsonError(c, http.StatusInternalServerError, err.Error())
	}
	if !ok {
		return nil, jsonError(c, http.StatusNotFound, "no active review session")
	}
	return s, nil
}

func reviewError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, review.ErrProposalNotFound):
		return jsonError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, review.ErrSessionBusy), errors.Is(err, review.ErrSessionClosed), errors.Is(err, review.ErrProposalEditing):
		return jsonError(c, http.StatusConflict, err.Error())
	}
	c.Logger().Error(err)
	return jsonError(c, http.StatusInternalServerError, err.Error())
}

func getReview(cfg Config) echo.HandlerFunc {
	return func(c echo.Context) error {
		s, err := sessionFromRequest(c, cfg)
		if s == nil {
			return err
		}
		return c.JSON(http.StatusOK, reviewBody(s, true, ""))
	}
}

func addProposal(cfg Config) echo.HandlerFunc {
	return func(c echo.Context) error {
		s, err := sessionFromRequest(c, cfg)
		if s == nil {
			return err
		}
		p, err := s.Add(c.Request().Context())
		if err != nil {
			return reviewError(c, err)
		}
		return c.JSON(http.StatusCreated, p)
	}
}

func editProposal(cfg Config) echo.HandlerFunc {
	return func(c echo.Context) error {
		s, err := sessionFromRequest(c, cfg)
		if s == nil {
			return err
		}
		if err := s.Edit(domain.ProposalID(c.Param("proposalId"))); err != nil {
			return reviewError(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func saveProposal(cfg Config) echo.HandlerFunc {
	return func(c echo.Context) error {
		s, err := sessionFromRequest(c, cfg)
		if s == nil {
			return err
		}
		var patch domain.ProposalPatch
		if err := decodeBody(c, &patch); err != nil {
			return jsonError(c, http.StatusBadRequest, "invalid body")
		}
		p, err := s.Save(c.Request().Context(), domain.ProposalID(c.Param("proposalId")), patch)
		if err != nil {
			return reviewError(c, err)
		}
		return c.JSON(http.StatusOK, p)
	}
}

func deleteProposal(cfg Config) echo.HandlerFunc {
	return func(c echo.Context) error {
		s, err := sessionFromRequest(c, cfg)
		if s == nil {
			return err
		}
		if err := s.SoftDelete(c.Request().Context(), domain.ProposalID(c.Param("proposalId"))); err != nil {
			return reviewError(c, err)
		}
		return c.JSON(http.StatusOK, reviewBody(s, true, ""))
	}
}

func restoreProposal(cfg Config) echo.HandlerFunc {
	return func(c echo.Context) error {
		s, err := sessionFromRequest(c, cfg)
		if s == nil {
			return err
		}
		if err := s.Restore(c.Request().Context(), domain.ProposalID(c.Param("proposalId"))); err != nil {
			return reviewError(c, err)
		}
		return c.JSON(http.StatusOK, reviewBody(s, true, ""))
	}
}

func commitReview(cfg Config) echo.HandlerFunc {
	return func(c echo.Context) error {
		s, err := sessionFromRequest(c, cfg)
		if s == nil {
			return err
		}
		res, err := s.Commit(c.Request().Context(), cfg.Store, cfg.Deduper)
		if err != nil {
			var ce *review.CommitError
			if errors.As(err, &ce) {
				c.Logger().Error(err)
				return jsonError(c, http.StatusBadGateway, err.Error())
			}
			return reviewError(c, err)
		}
		return c.JSON(http.StatusOK, res)
	}
}

func cancelReview(cfg Config) echo.HandlerFunc {
	return func(c echo.Context) error {
		s, err := sessionFromRequest(c, cfg)
		if s == nil {
			return err
		}
		if err := s.Cancel(c.Request().Context()); err != nil {
			return reviewError(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}
