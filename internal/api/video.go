package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"faststart/internal/ingest"
	"faststart/internal/logging"
	"faststart/internal/registry"
)

// handleVideo streams a tracked file with range support. The stream runs
// under the file's playback hold: starting an optimization revokes the hold
// and the response ends early.
func (s *Server) handleVideo(c *gin.Context) {
	key := ingest.Normalize(c.Param("path"))
	entry, ok := s.backend.Get(key)
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "file is not tracked"})
		return
	}
	if entry.Status == registry.StatusOptimizing {
		c.JSON(http.StatusConflict, ErrorResponse{Error: "file is being optimized"})
		return
	}

	holdCtx, release := s.backend.Acquire(c.Request.Context(), key)
	defer release()

	file, err := os.Open(key)
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "file is not readable"})
		return
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil || info.IsDir() {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "file is not readable"})
		return
	}

	reader := &holdReader{ctx: holdCtx, file: file}
	http.ServeContent(c.Writer, c.Request, filepath.Base(key), info.ModTime(), reader)
	if errors.Is(holdCtx.Err(), context.Canceled) && c.Request.Context().Err() == nil {
		logging.WithContext(c.Request.Context(), s.logger).Debug("playback revoked", logging.FileKey(key))
	}
}

// holdReader fails reads once the playback hold is revoked.
type holdReader struct {
	ctx  context.Context
	file *os.File
}

func (r *holdReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.file.Read(p)
}

func (r *holdReader) Seek(offset int64, whence int) (int64, error) {
	return r.file.Seek(offset, whence)
}

var _ io.ReadSeeker = (*holdReader)(nil)
