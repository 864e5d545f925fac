package main

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/sol-ai/modagent/moderation"

	"github.com/labstack/echo/v4"
)

type GenericStatus struct {
	Daemon  string `json:"daemon"`
	Status  string `json:"status"`
	Message string `json:"msg,omitempty"`
}

func (srv *Server) errorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	var errorMessage string
	if he, ok := err.(*echo.HTTPError); ok {
		code = he.Code
		errorMessage = fmt.Sprintf("%s", he.Message)
	} else {
		errorMessage = err.Error()
	}
	if code >= 500 {
		srv.logger.Warn("modagent-http-internal-error", "err", err)
	}
	c.JSON(code, GenericStatus{Status: "error", Daemon: "modagent", Message: errorMessage})
}

func (srv *Server) HandleHealthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, GenericStatus{Status: "ok", Daemon: "modagent"})
}

func (srv *Server) HandleHealth(c echo.Context) error {
	h := srv.agent.Health(c.Request().Context())
	code := http.StatusOK
	if h.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, h)
}

func (srv *Server) HandleStats(c echo.Context) error {
	return c.JSON(http.StatusOK, srv.agent.Stats(c.Request().Context()))
}

func (srv *Server) HandleRecentFlags(c echo.Context) error {
	limit := 50
	if q := c.QueryParam("limit"); q != "" {
		v, err := strconv.Atoi(q)
		if err != nil || v <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = v
	}
	recs, err := srv.agent.RecentFlags(c.Request().Context(), limit)
	if errors.Is(err, moderation.ErrNoFlagLog) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	} else if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"flags": recs})
}

func (srv *Server) HandleStart(c echo.Context) error {
	status, err := srv.agent.Start()
	if errors.Is(err, moderation.ErrNotConfigured) {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	} else if errors.Is(err, moderation.ErrStopInProgress) {
		return c.JSON(http.StatusConflict, GenericStatus{Status: status, Daemon: "modagent", Message: err.Error()})
	} else if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, GenericStatus{Status: status, Daemon: "modagent"})
}

func (srv *Server) HandleStop(c echo.Context) error {
	return c.JSON(http.StatusOK, GenericStatus{Status: srv.agent.Stop(), Daemon: "modagent"})
}

func (srv *Server) HandleResetCache(c echo.Context) error {
	n, err := srv.agent.ResetCache(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"status": "ok", "cleared": n})
}

type setCursorRequest struct {
	// omitted: skip to the current post count
	Cursor *uint64 `json:"cursor"`
}

func (srv *Server) HandleSetCursor(c echo.Context) error {
	var req setCursorRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	cursor, err := srv.agent.SetCursor(c.Request().Context(), req.Cursor)
	if errors.Is(err, moderation.ErrNotConfigured) {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	} else if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{"status": "ok", "cursor": cursor})
}

type moderateRequest struct {
	Text string `json:"text"`
}

func (srv *Server) HandleModerate(c echo.Context) error {
	var req moderateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	rep, err := srv.agent.ScoreText(c.Request().Context(), req.Text)
	if errors.Is(err, moderation.ErrEmptyText) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	} else if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rep)
}
