package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/PhucNguyen204/netwatch/internal/history"
	"github.com/PhucNguyen204/netwatch/internal/scanner"
)

const (
	defaultHistoryLimit = 200
	maxHistoryLimit     = 10000
	maxRuleDocBytes     = 4 << 20
)

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"scanning": s.deps.Scanner.Running(),
		"time":     time.Now().UTC(),
	})
}

func (s *Server) startScan(c *gin.Context) {
	id, err := s.deps.Scanner.Start(s.baseCtx, c.Query("mode"))
	switch {
	case errors.Is(err, scanner.ErrScanInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case errors.Is(err, scanner.ErrUnknownMode):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"scanId": id, "status": "started"})
}

func (s *Server) currentScan(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Scanner.Status())
}

func (s *Server) cancelScan(c *gin.Context) {
	if !s.deps.Scanner.Cancel() {
		c.JSON(http.StatusNotFound, gin.H{"error": "no scan is running"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "cancelling"})
}

func parseLimit(c *gin.Context) (int, error) {
	v := c.Query("limit")
	if v == "" {
		return defaultHistoryLimit, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 || n > maxHistoryLimit {
		return 0, fmt.Errorf("limit must be between 1 and %d", maxHistoryLimit)
	}
	return n, nil
}

func (s *Server) listHistory(c *gin.Context) {
	limit, err := parseLimit(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	entries, err := s.deps.History.List(c.Request.Context(), limit)
	if err != nil {
		c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "history unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(entries), "entries": entries})
}

func (s *Server) exportHistory(c *gin.Context) {
	format := c.DefaultQuery("format", history.FormatJSON)
	if format != history.FormatJSON && format != history.FormatCSV {
		c.JSON(http.StatusBadRequest, gin.H{"error": "format must be json or csv"})
		return
	}
	entries, err := s.deps.History.List(c.Request.Context(), 0)
	if err != nil {
		c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "history unavailable"})
		return
	}
	contentType := "application/json"
	if format == history.FormatCSV {
		contentType = "text/csv"
	}
	c.Header("Content-Type", contentType)
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="netwatch-history.%s"`, format))
	c.Status(http.StatusOK)
	if err := history.Export(c.Writer, entries, format); err != nil {
		c.Error(err)
	}
}

func (s *Server) clearHistory(c *gin.Context) {
	if err := s.deps.History.Clear(c.Request.Context()); err != nil {
		c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "history unavailable"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) getConfig(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Config.Current())
}

// putConfig merges the body over the current config, so partial documents
// only change the fields they name.
func (s *Server) putConfig(c *gin.Context) {
	next := s.deps.Config.Current()
	if err := c.ShouldBindJSON(&next); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	saved, err := s.deps.Config.Replace(next)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, saved)
}

func (s *Server) listRules(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ruleSets": s.deps.Rules.Summaries()})
}

func (s *Server) replaceRules(c *gin.Context) {
	doc, err := io.ReadAll(io.LimitReader(c.Request.Body, maxRuleDocBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sum, err := s.deps.Rules.Replace(c.Param("kind"), doc)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, sum)
}

func (s *Server) reloadRules(c *gin.Context) {
	if err := s.deps.Rules.Reload(s.deps.Config.Current().Rules); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ruleSets": s.deps.Rules.Summaries()})
}

func (s *Server) recurrence(c *gin.Context) {
	limit := 100
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	c.JSON(http.StatusOK, gin.H{"paths": s.deps.Tracker.Snapshot(limit)})
}

