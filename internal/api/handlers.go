package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"faststart/internal/ingest"
	"faststart/internal/logging"
	"faststart/internal/registry"
)

func (s *Server) handleList(c *gin.Context) {
	var statuses []registry.Status
	for _, value := range c.QueryArray("status") {
		for part := range strings.SplitSeq(value, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			status, ok := registry.ParseStatus(part)
			if !ok {
				c.JSON(http.StatusBadRequest, ErrorResponse{Error: "unknown status " + part})
				return
			}
			statuses = append(statuses, status)
		}
	}
	c.JSON(http.StatusOK, FileListResponse{
		Items:      FromEntries(s.backend.List(statuses...)),
		Generation: s.backend.Generation(),
	})
}

func (s *Server) handleAdd(c *gin.Context) {
	var req AddPathsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "paths are required"})
		return
	}
	added := s.backend.AddPaths(c.Request.Context(), req.Paths)
	c.JSON(http.StatusOK, AddPathsResponse{Added: FromEntries(added)})
}

func (s *Server) handleClear(c *gin.Context) {
	removed := s.backend.ClearAll(c.Request.Context())
	c.JSON(http.StatusOK, ClearResponse{Removed: removed})
}

func (s *Server) handleScan(c *gin.Context) {
	s.trigger(c, s.backend.TriggerScan)
}

func (s *Server) handleOptimize(c *gin.Context) {
	s.trigger(c, func(path string) bool {
		if entry, ok := s.backend.Get(path); ok && entry.Status == registry.StatusOptimizing {
			return false
		}
		return s.backend.TriggerOptimize(path)
	})
}

func (s *Server) trigger(c *gin.Context, start func(path string) bool) {
	var req PathRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "path is required"})
		return
	}
	key := ingest.Normalize(req.Path)
	entry, ok := s.backend.Get(key)
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "file is not tracked"})
		return
	}
	if !start(key) {
		c.JSON(http.StatusConflict, ErrorResponse{Error: "file is " + entry.Status.Label()})
		return
	}
	c.JSON(http.StatusAccepted, TriggerResponse{Key: key, Started: true})
}

func (s *Server) handleOptimizeAll(c *gin.Context) {
	queued := s.backend.TriggerOptimizeAll()
	logging.WithContext(c.Request.Context(), s.logger).Info("optimize-all requested", logging.Int("queued", queued))
	c.JSON(http.StatusAccepted, OptimizeAllResponse{Queued: queued})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.backend.Status(c.Request.Context()))
}
