package api

import (
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	validate "github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/beacon-House/counselling-portal-sub000/domain"
)

const postBodyMaxSize = 64 * 1024 // 64 KiB

var validator = validate.New(validate.WithRequiredStructEnabled())

type createStudentRequest struct {
	Name   string `json:"name" validate:"required,min=1,max=200"`
	Email  string `json:"email" validate:"required,email"`
	Grade  string `json:"grade" validate:"max=50"`
	Target string `json:"target" validate:"max=500"`
}

type updateStudentRequest struct {
	Name   *string `json:"name"`
	Email  *string `json:"email" validate:"omitempty,email"`
	Grade  *string `json:"grade"`
	Target *string `json:"target"`
}

func getStudents(cfg Config) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		counsellorID, err := cfg.Auth.CounsellorIDFromAuthHeader(authHeader(c))
		if err != nil {
			return jsonError(c, http.StatusUnauthorized, err.Error())
		}
		students, err := cfg.Store.FetchStudents(ctx, counsellorID)
		if err != nil {
			c.Logger().Error(err)
			return jsonError(c, http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, students)
	}
}

func getStudent(cfg Config) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		counsellorID, err := cfg.Auth.CounsellorIDFromAuthHeader(authHeader(c))
		if err != nil {
			return jsonError(c, http.StatusUnauthorized, err.Error())
		}
		st, err := cfg.Store.FetchStudent(ctx, counsellorID, c.Param("id"))
		if err != nil {
			if isNotFound(err) {
				return jsonError(c, http.StatusNotFound, "student not found")
			}
			c.Logger().Error(err)
			return jsonError(c, http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, st)
	}
}

func postStudent(cfg Config) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		counsellorID, err := cfg.Auth.CounsellorIDFromAuthHeader(authHeader(c))
		if err != nil {
			return jsonError(c, http.StatusUnauthorized, err.Error())
		}

		var req createStudentRequest
		if err := decodeBody(c, &req); err != nil {
			return jsonError(c, http.StatusBadRequest, "invalid body")
		}
		if err := validator.Struct(&req); err != nil {
			return jsonError(c, http.StatusBadRequest, err.Error())
		}

		st := domain.Student{
			ID:           uuid.NewString(),
			Name:         req.Name,
			Email:        req.Email,
			Grade:        req.Grade,
			Target:       req.Target,
			CounsellorID: counsellorID,
			CreatedAt:    time.Now().UTC(),
		}
		if err := cfg.Store.CreateStudent(ctx, st); err != nil {
			c.Logger().Error(err)
			return jsonError(c, http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusCreated, st)
	}
}

func patchStudent(cfg Config) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		counsellorID, err := cfg.Auth.CounsellorIDFromAuthHeader(authHeader(c))
		if err != nil {
			return jsonError(c, http.StatusUnauthorized, err.Error())
		}

		var req updateStudentRequest
		if err := decodeBody(c, &req); err != nil {
			return jsonError(c, http.StatusBadRequest, "invalid body")
		}
		if err := validator.Struct(&req); err != nil {
			return jsonError(c, http.StatusBadRequest, err.Error())
		}

		changes := map[string]any{}
		if req.Name != nil {
			changes["Name"] = *req.Name
		}
		if req.Email != nil {
			changes["Email"] = *req.Email
		}
		if req.Grade != nil {
			changes["Grade"] = *req.Grade
		}
		if req.Target != nil {
			changes["Target"] = *req.Target
		}
		if len(changes) == 0 {
			return jsonError(c, http.StatusBadRequest, "empty patch")
		}

		studentID := c.Param("id")
		if err := cfg.Store.UpdateStudent(ctx, counsellorID, studentID, changes); err != nil {
			if isNotFound(err) {
				return jsonError(c, http.StatusNotFound, "student not found")
			}
			c.Logger().Error(err)
			return jsonError(c, http.StatusInternalServerError, err.Error())
		}

		st, err := cfg.Store.FetchStudent(ctx, counsellorID, studentID)
		if err != nil {
			c.Logger().Error(err)
			return jsonError(c, http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, st)
	}
}

// decodeBody decodes a JSON request body with a hard size cap, rejecting
// unknown fields.
func decodeBody(c echo.Context, dst any) error {
	lr := io.LimitReader(c.Request().Body, postBodyMaxSize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
