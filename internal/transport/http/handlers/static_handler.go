package handlers

import (
	"net/http"
	"os"
	"path/filepath"
)

// Pages lists the files StaticHandler will serve.
var Pages = []string{
	"index.html",
	"main.html",
	"register.html",
	"forgot-password-telegram.html",
	"courses.html",
	"leaderboard.html",
}

type StaticHandler struct {
	dir     string
	allowed map[string]struct{}
}

func NewStaticHandler(dir string) *StaticHandler {
	allowed := make(map[string]struct{}, len(Pages))
	for _, page := range Pages {
		allowed[page] = struct{}{}
	}
	return &StaticHandler{dir: dir, allowed: allowed}
}

// Index serves index.html for "/".
func (h *StaticHandler) Index(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, "index.html")
}

// Page serves one allow-listed page named by the last path segment.
func (h *StaticHandler) Page(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, filepath.Base(r.URL.Path))
}

func (h *StaticHandler) serve(w http.ResponseWriter, r *http.Request, name string) {
	if _, ok := h.allowed[name]; !ok || h.dir == "" {
		writeNotFound(w, "NOT_FOUND", "page not found")
		return
	}

	f, err := os.Open(filepath.Join(h.dir, name))
	if err != nil {
		writeNotFound(w, "NOT_FOUND", "page not found")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		writeNotFound(w, "NOT_FOUND", "page not found")
		return
	}
	// ServeFile would redirect /index.html to /
	http.ServeContent(w, r, name, info.ModTime(), f)
}
