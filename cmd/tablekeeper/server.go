package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rzpsarthak13/tablekeeper/pkg/tablekeeper"
)

// server exposes the managed tables over HTTP.
type server struct {
	client tablekeeper.Client
	logger *slog.Logger
	now    func() time.Time
}

type tableStatus struct {
	Table         string `json:"table"`
	State         string `json:"state"`
	Ready         bool   `json:"ready"`
	Version       int    `json:"version"`
	DBVersion     int    `json:"db_version"`
	VersionOption string `json:"version_option"`
	Message       string `json:"message"`
}

type notice struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	ID      int64       `json:"id,omitempty"`
	Items   interface{} `json:"items,omitempty"`
}

func newServer(client tablekeeper.Client, logger *slog.Logger) *server {
	return &server{client: client, logger: logger.With("component", "http"), now: time.Now}
}

func (s *server) router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.accessLog())

	r.GET("/health", s.health)
	r.GET("/metrics", gin.WrapH(s.client.MetricsHandler()))

	tables := r.Group("/tables")
	tables.GET("", s.listTables)
	tables.GET("/:name", s.getTable)

	items := tables.Group("/:name/items", s.requireReady)
	items.GET("", s.listItems)
	items.POST("", s.insertItem)
	items.DELETE("/oldest", s.deleteOldest)
	return r
}

func (s *server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

// lookup accepts a physical or a short table name.
func (s *server) lookup(name string) (*tablekeeper.Handle, bool) {
	if h, err := s.client.Table(name); err == nil {
		return h, true
	}
	for _, h := range s.client.Tables() {
		if h.ShortName() == name {
			return h, true
		}
	}
	return nil, false
}

func status(h *tablekeeper.Handle) tableStatus {
	st := tableStatus{
		Table:         h.Name(),
		State:         string(h.State()),
		Ready:         h.Ready(),
		Version:       h.Version(),
		DBVersion:     h.DBVersion(),
		VersionOption: h.VersionOption(),
	}
	if st.Ready {
		st.Message = fmt.Sprintf("Table %s is ready and its current version is %d. This version number is stored in the option %q.",
			h.Name(), h.DBVersion(), h.VersionOption())
	} else {
		st.Message = h.Diagnostic()
	}
	return st
}

func (s *server) health(c *gin.Context) {
	notReady := 0
	for _, h := range s.client.Tables() {
		if !h.Ready() {
			notReady++
		}
	}
	code := http.StatusOK
	if notReady > 0 {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"status": http.StatusText(code), "tables_not_ready": notReady})
}

func (s *server) listTables(c *gin.Context) {
	handles := s.client.Tables()
	out := make([]tableStatus, 0, len(handles))
	for _, h := range handles {
		out = append(out, status(h))
	}
	c.JSON(http.StatusOK, out)
}

func (s *server) getTable(c *gin.Context) {
	h, ok := s.lookup(c.Param("name"))
	if !ok {
		c.JSON(http.StatusNotFound, notice{Message: "Unknown table."})
		return
	}
	c.JSON(http.StatusOK, status(h))
}

// requireReady refuses item routes with the diagnostic while the table is
// not ready.
func (s *server) requireReady(c *gin.Context) {
	h, ok := s.lookup(c.Param("name"))
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, notice{Message: "Unknown table."})
		return
	}
	if !h.Ready() {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, notice{Message: h.Diagnostic()})
		return
	}
	c.Set("handle", h)
	c.Next()
}

func handleOf(c *gin.Context) *tablekeeper.Handle {
	return c.MustGet("handle").(*tablekeeper.Handle)
}

func (s *server) listItems(c *gin.Context) {
	h := handleOf(c)
	rows, err := h.Get(c.Request.Context(), nil, nil)
	if err != nil {
		s.fail(c, h, "Could not read the table.", err)
		return
	}
	if len(rows) == 0 {
		c.JSON(http.StatusOK, notice{Success: true, Message: "Nothing yet.", Items: []tablekeeper.Row{}})
		return
	}
	c.JSON(http.StatusOK, notice{Success: true, Message: fmt.Sprintf("%d entries.", len(rows)), Items: rows})
}

func (s *server) insertItem(c *gin.Context) {
	h := handleOf(c)

	entry := map[string]interface{}{}
	if err := c.ShouldBindJSON(&entry); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, notice{Message: "Invalid JSON: " + err.Error()})
		return
	}
	if len(entry) == 0 {
		entry = exampleEntry(h.ShortName(), s.now())
	}

	id, err := h.Insert(c.Request.Context(), entry)
	if err != nil {
		s.fail(c, h, "Entry insertion failed.", err)
		return
	}
	c.JSON(http.StatusCreated, notice{Success: true, Message: fmt.Sprintf("Entry %d successfully added.", id), ID: id})
}

func (s *server) deleteOldest(c *gin.Context) {
	h := handleOf(c)
	n, err := h.DeleteOldestItem(c.Request.Context())
	if err != nil {
		s.fail(c, h, "Entry deletion failed.", err)
		return
	}
	if n == 0 {
		c.JSON(http.StatusNotFound, notice{Message: "Nothing to delete."})
		return
	}
	c.JSON(http.StatusOK, notice{Success: true, Message: "Oldest entry successfully deleted."})
}

func (s *server) fail(c *gin.Context, h *tablekeeper.Handle, msg string, err error) {
	s.logger.Warn(msg, "table", h.Name(), "error", err)
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, tablekeeper.ErrTableNotReady):
		code = http.StatusServiceUnavailable
	case errors.Is(err, tablekeeper.ErrDuplicateKey):
		code = http.StatusConflict
	}
	c.JSON(code, notice{Message: msg})
}
