package server

import (
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammad-safakhou/conductor/config"
	"github.com/mohammad-safakhou/conductor/internal/retrieval"
	"github.com/mohammad-safakhou/conductor/internal/tools"
)

// Server exposes the remote tool surface over HTTP: ranked retrieval at
// /rag/search and allowlisted command execution at /shell. Responses carry
// either a result or an error field, matching the remote tool client.
type Server struct {
	cfg    config.ServerConfig
	engine *retrieval.Engine
	shell  *tools.ShellTool
	logger *log.Logger
}

// New builds a tool server around an indexed engine and a shell tool.
func New(cfg config.ServerConfig, engine *retrieval.Engine, shell *tools.ShellTool, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(log.Writer(), "[TOOLSRV] ", log.LstdFlags)
	}
	return &Server{cfg: cfg, engine: engine, shell: shell, logger: logger}
}

// Handler assembles the echo instance with routes and middleware.
func (s *Server) Handler() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		s.logger.Printf("%d %s %s: %v", code, req.Method, req.URL.Path, err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]any{"error": msg})
		}
	}

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("")
	if s.cfg.JWTSecret != "" {
		api.Use(authMiddleware([]byte(s.cfg.JWTSecret)))
	}
	api.POST("/rag/search", s.handleSearch)
	api.POST("/shell", s.handleShell)
	return e
}

// Run serves until the listener fails.
func (s *Server) Run() error {
	addr := s.cfg.Address
	if addr == "" {
		addr = ":8089"
	}
	return s.Handler().Start(addr)
}

type searchRequest struct {
	Query string `json:"query"`
	K     int    `json:"k"`
}

type searchHit struct {
	ID    string  `json:"id"`
	Text  string  `json:"text"`
	Score float64 `json:"score"`
}

func (s *Server) handleSearch(c echo.Context) error {
	var req searchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query required")
	}
	res, err := s.engine.Search(c.Request().Context(), req.Query)
	if err != nil {
		return err
	}
	hits := res.Hits
	if req.K > 0 && req.K < len(hits) {
		hits = hits[:req.K]
	}
	out := make([]searchHit, 0, len(hits))
	for _, h := range hits {
		out = append(out, searchHit{ID: h.Doc.ID, Text: h.Doc.Text, Score: h.FinalScore})
	}
	return c.JSON(http.StatusOK, map[string]any{"result": out})
}

type shellRequest struct {
	Command string `json:"command"`
}

func (s *Server) handleShell(c echo.Context) error {
	var req shellRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Command == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "command required")
	}
	out, err := s.shell.Invoke(c.Request().Context(), map[string]any{"cmd": req.Command})
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{"result": out})
}
