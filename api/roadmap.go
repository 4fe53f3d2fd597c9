package api

import (
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/beacon-House/counselling-portal-sub000/domain"
)

type taxonomyResponse struct {
	Phases []domain.Phase `json:"phases"`
	Tasks  []domain.Task  `json:"tasks"`
}

type patchSubtaskRequest struct {
	Status *string `json:"status"`
	Remark *string `json:"remark"`
	ETA    *string `json:"eta"`
	Owner  *string `json:"owner"`
}

func getTaxonomy(cfg Config) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		if _, err := cfg.Auth.CounsellorIDFromAuthHeader(authHeader(c)); err != nil {
			return jsonError(c, http.StatusUnauthorized, err.Error())
		}
		phases, tasks, err := cfg.Store.FetchTaxonomy(ctx)
		if err != nil {
			c.Logger().Error(err)
			return jsonError(c, http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, taxonomyResponse{Phases: phases, Tasks: tasks})
	}
}

func getRoadmap(cfg Config) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics, spanCtx := newRequestMetrics(ctx, cfg.Logger, "/api/students/:id/roadmap")
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
		fetchStart := time.Now()
		if _, ferr := cfg.Store.FetchStudent(ctx, counsellorID, studentID); ferr != nil {
			metrics.ObserveFetch(time.Since(fetchStart))
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

		phases, tasks, terr := cfg.Store.FetchTaxonomy(ctx)
		if terr != nil {
			metrics.SetErrorStage("storage")
			c.Logger().Error(terr)
			err = jsonError(c, http.StatusInternalServerError, terr.Error())
			return err
		}
		subtasks, serr := cfg.Store.FetchSubtasks(ctx, studentID)
		metrics.ObserveFetch(time.Since(fetchStart))
		if serr != nil {
			metrics.SetErrorStage("storage")
			c.Logger().Error(serr)
			err = jsonError(c, http.StatusInternalServerError, serr.Error())
			return err
		}
		metrics.SetRowsReturned(len(subtasks))

		grouped := make(map[string][]domain.Subtask, len(tasks))
		for _, sub := range subtasks {
			grouped[sub.TaskID] = append(grouped[sub.TaskID], sub)
		}

		encodeStart := time.Now()
		err = c.JSON(http.StatusOK, domain.Roadmap{Phases: phases, Tasks: tasks, Subtasks: grouped})
		metrics.ObserveEncode(time.Since(encodeStart))
		if err != nil {
			metrics.SetErrorStage("encode_response")
		}
		return err
	}
}

func patchSubtask(cfg Config) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		counsellorID, err := cfg.Auth.CounsellorIDFromAuthHeader(authHeader(c))
		if err != nil {
			return jsonError(c, http.StatusUnauthorized, err.Error())
		}

		var req patchSubtaskRequest
		if err := decodeBody(c, &req); err != nil {
			return jsonError(c, http.StatusBadRequest, "invalid body")
		}

		changes := map[string]any{}
		if req.Status != nil {
			switch *req.Status {
			case domain.StatusYetToStart, domain.StatusInProgress, domain.StatusDone:
			default:
				return jsonError(c, http.StatusBadRequest, "invalid status")
			}
			changes["Status"] = *req.Status
		}
		if req.Remark != nil {
			changes["Remark"] = *req.Remark
		}
		if req.ETA != nil {
			changes["Eta"] = *req.ETA
		}
		if req.Owner != nil {
			changes["Owner"] = *req.Owner
		}
		if len(changes) == 0 {
			return jsonError(c, http.StatusBadRequest, "empty patch")
		}

		studentID := c.Param("id")
		subtaskID := domain.SubtaskID(c.Param("subtaskId"))
		if err := cfg.Store.UpdateSubtask(ctx, studentID, subtaskID, changes); err != nil {
			if isNotFound(err) {
				return jsonError(c, http.StatusNotFound, "subtask not found")
			}
			c.Logger().Error(err)
			return jsonError(c, http.StatusInternalServerError, err.Error())
		}

		data, _ := sonic.Marshal(changes)
		ev := domain.UpdateEvent{
			ID:         uuid.NewString(),
			StudentID:  studentID,
			EntityID:   string(subtaskID),
			EntityType: "subtask",
			Type:       domain.EventSubtaskUpdated,
			Data:       data,
			Time:       time.Now().UnixMilli(),
		}
		if err := cfg.Store.PublishEvents(ctx, []domain.UpdateEvent{ev}); err != nil {
			cfg.Logger.WithError(err).WithField("counsellor_id", counsellorID).Warn("roadmap.publish_failed")
		}
		return c.NoContent(http.StatusNoContent)
	}
}
