package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/beacon-House/counselling-portal-sub000/domain"
	"github.com/beacon-House/counselling-portal-sub000/storage"
)

const uploadMaxSize = 32 << 20 // 32 MiB

func getFiles(cfg Config) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		if _, err := cfg.Auth.CounsellorIDFromAuthHeader(authHeader(c)); err != nil {
			return jsonError(c, http.StatusUnauthorized, err.Error())
		}
		files, err := cfg.Store.FetchFiles(ctx, c.Param("id"))
		if err != nil {
			c.Logger().Error(err)
			return jsonError(c, http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, files)
	}
}

func postFile(cfg Config) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		if _, err := cfg.Auth.CounsellorIDFromAuthHeader(authHeader(c)); err != nil {
			return jsonError(c, http.StatusUnauthorized, err.Error())
		}

		c.Request().Body = http.MaxBytesReader(c.Response(), c.Request().Body, uploadMaxSize)
		fh, err := c.FormFile("file")
		if err != nil {
			return jsonError(c, http.StatusBadRequest, "file field is required")
		}
		src, err := fh.Open()
		if err != nil {
			return jsonError(c, http.StatusBadRequest, "unreadable file")
		}
		defer src.Close()

		studentID := c.Param("id")
		fileID := uuid.NewString()
		key := storage.BlobKey(studentID, fileID, fh.Filename, time.Now())

		url, err := cfg.Objects.Upload(ctx, key, src)
		if err != nil {
			c.Logger().Error(err)
			return jsonError(c, http.StatusInternalServerError, "upload failed")
		}

		rec := domain.FileRecord{
			ID:         fileID,
			StudentID:  studentID,
			Name:       fh.Filename,
			BlobKey:    key,
			URL:        url,
			Size:       fh.Size,
			UploadedAt: time.Now().UTC(),
		}
		if err := cfg.Store.CreateFileRecord(ctx, rec); err != nil {
			c.Logger().Error(err)
			return jsonError(c, http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusCreated, rec)
	}
}
