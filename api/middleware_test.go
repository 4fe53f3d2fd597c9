package api

import (
	"bytes"
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestGzipRequestMiddlewareDecompresses(t *testing.T) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write([]byte(`{"title":"meeting"}`)); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	_ = gw.Close()

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", &buf)
	req.Header.Set(echo.HeaderContentEncoding, "gzip")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var seen []byte
	next := func(c echo.Context) error {
		var err error
		seen, err = io.ReadAll(c.Request().Body)
		return err
	}
	if err := GzipRequestMiddleware()(next)(c); err != nil {
		t.Fatalf("middleware: %v", err)
	}
	if string(seen) != `{"title":"meeting"}` {
		t.Fatalf("handler saw %q", string(seen))
	}
	if c.Request().Header.Get(echo.HeaderContentEncoding) != "" {
		t.Fatal("content-encoding header should be stripped")
	}
}

func TestGzipRequestMiddlewareRejectsGarbage(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("not gzip"))
	req.Header.Set(echo.HeaderContentEncoding, "gzip")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	next := func(c echo.Context) error { return nil }
	err := GzipRequestMiddleware()(next)(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestGzipRequestMiddlewarePassThrough(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("plain"))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	next := func(c echo.Context) error {
		body, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return err
		}
		if string(body) != "plain" {
			t.Fatalf("handler saw %q", string(body))
		}
		return nil
	}
	if err := GzipRequestMiddleware()(next)(c); err != nil {
		t.Fatalf("middleware: %v", err)
	}
}
