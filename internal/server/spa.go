package server

import (
	"bytes"
	"io/fs"
	"net/http"
	"strings"
	"time"
)

// noncePlaceholder in index.html is replaced with the per-request CSP nonce
// so inline bootstrap scripts run under the policy.
const noncePlaceholder = "__CSP_NONCE__"

type spaFileServer struct {
	fileServer http.Handler
	fileSystem fs.FS
}

func newSPAFileServer(fsys fs.FS) *spaFileServer {
	return &spaFileServer{
		fileServer: http.FileServer(http.FS(fsys)),
		fileSystem: fsys,
	}
}

func (s *spaFileServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/")
	if path == "" || path == "index.html" {
		s.serveIndex(w, r)
		return
	}

	if _, err := fs.Stat(s.fileSystem, path); err != nil {
		s.serveIndex(w, r)
		return
	}

	s.fileServer.ServeHTTP(w, r)
}

func (s *spaFileServer) serveIndex(w http.ResponseWriter, r *http.Request) {
	page, err := fs.ReadFile(s.fileSystem, "index.html")
	if err != nil {
		http.NotFound(w, r)
		return
	}
	page = bytes.ReplaceAll(page, []byte(noncePlaceholder), []byte(nonceFromContext(r.Context())))
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeContent(w, r, "index.html", time.Time{}, bytes.NewReader(page))
}
