package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"ytdlp-api/internal/cache"
	"ytdlp-api/internal/m3u8"
	"ytdlp-api/internal/task"
)

type submitRequest struct {
	URL        string `json:"url"`
	OutputPath string `json:"output_path"`
	Format     string `json:"format"`
	Quiet      bool   `json:"quiet"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	if req.OutputPath == "" {
		req.OutputPath = s.cfg.DefaultOutputDir
	}
	if req.Format == "" {
		req.Format = s.cfg.DefaultFormat
	}

	id := s.tasks.Submit(task.SubmitRequest{
		URL:        req.URL,
		OutputPath: req.OutputPath,
		Format:     req.Format,
		Quiet:      req.Quiet,
	})
	writeJSON(w, http.StatusOK, envelope{Status: "success", TaskID: id})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	rec, err := s.tasks.Get(r.PathValue("id"))
	if err != nil {
		writeTaskError(w, err)
		return
	}
	writeData(w, newStatusView(rec))
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	records := s.tasks.List()
	views := make([]statusView, 0, len(records))
	for _, rec := range records {
		views = append(views, newStatusView(rec))
	}
	writeData(w, views)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	status, err := s.tasks.Stop(id)
	if err != nil {
		writeTaskError(w, err)
		return
	}
	writeData(w, map[string]any{"id": id, "status": status})
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	quiet := false
	if v := r.URL.Query().Get("quiet"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "quiet must be a boolean")
			return
		}
		quiet = b
	}

	rec, err := s.tasks.Restart(r.PathValue("id"), quiet)
	if err != nil {
		writeTaskError(w, err)
		return
	}
	writeData(w, map[string]any{"id": rec.ID, "status": rec.Status})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	res, err := s.tasks.Delete(r.PathValue("id"))
	if err != nil {
		writeTaskError(w, err)
		return
	}
	writeData(w, res)
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	url := r.URL.Query().Get("url")
	if url == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	info, err := s.engine.Extract(r.Context(), url)
	if err != nil {
		log.Printf("[server] info for %s: %v", url, err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeData(w, info)
}

// handleFormats lists the formats the engine reports for url. When the
// engine cannot read an HLS playlist URL, its variants are read directly.
func (s *Server) handleFormats(w http.ResponseWriter, r *http.Request) {
	url := r.URL.Query().Get("url")
	if url == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}

	info, err := s.engine.Extract(r.Context(), url)
	if err != nil {
		log.Printf("[server] formats for %s: %v", url, err)
		if !m3u8.IsPlaylistURL(url) {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		formats, probeErr := s.prober.Probe(r.Context(), url)
		if probeErr != nil {
			log.Printf("[server] probing %s: %v", url, probeErr)
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeData(w, formats)
		return
	}

	formats, ok := info["formats"]
	if !ok || formats == nil {
		formats = []any{}
	}
	writeData(w, formats)
}

func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	rec, err := s.tasks.Get(r.PathValue("id"))
	if err != nil {
		writeTaskError(w, err)
		return
	}
	if rec.Status != task.StatusCompleted {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Task is not completed. Current status: %s", rec.Status))
		return
	}
	if rec.Result == nil {
		writeError(w, http.StatusInternalServerError, "Task completed without a result")
		return
	}

	path, err := cache.ResolveFile(rec.OutputPath, rec.Result)
	if err != nil {
		if errors.Is(err, cache.ErrFileNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	f, err := os.Open(path)
	if err != nil {
		writeError(w, http.StatusNotFound, cache.ErrFileNotFound.Error())
		return
	}
	defer f.Close()
	stat, err := f.Stat()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	name := filepath.Base(path)
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	http.ServeContent(w, r, name, stat.ModTime(), f)
}
