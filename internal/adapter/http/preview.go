package http

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Strob0t/StreamForge/internal/domain"
	"github.com/Strob0t/StreamForge/internal/domain/execution"
)

// Previews serves deployed build output under <prefix>/<graphId>/.
// It implements service.PreviewMounter.
type Previews struct {
	prefix string

	mu      sync.RWMutex
	servers map[string]http.Handler
}

// NewPreviews creates a Previews registry mounted at prefix (e.g. "/preview").
func NewPreviews(prefix string) *Previews {
	return &Previews{
		prefix:  "/" + strings.Trim(prefix, "/"),
		servers: make(map[string]http.Handler),
	}
}

// Prefix returns the mount prefix without trailing slash.
func (p *Previews) Prefix() string { return p.prefix }

// Mount serves dir for graphID, replacing any previous mount, and returns
// the preview URL path.
func (p *Previews) Mount(graphID, dir string) (string, error) {
	if err := execution.ValidateGraphID(graphID); err != nil {
		return "", err
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", dir, err)
	}
	if info, err := os.Stat(abs); err != nil || !info.IsDir() {
		return "", fmt.Errorf("%w: preview directory %s does not exist", domain.ErrValidation, abs)
	}

	base := p.prefix + "/" + graphID
	srv := http.StripPrefix(base, http.FileServer(http.Dir(abs)))

	p.mu.Lock()
	p.servers[graphID] = srv
	p.mu.Unlock()
	return base + "/", nil
}

// Mounted reports whether graphID has a preview.
func (p *Previews) Mounted(graphID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.servers[graphID]
	return ok
}

// ServePreview handles GET <prefix>/{graphId}/*.
func (p *Previews) ServePreview(w http.ResponseWriter, r *http.Request) {
	graphID := urlParam(r, "graphId")
	p.mu.RLock()
	srv, ok := p.servers[graphID]
	p.mu.RUnlock()
	if !ok {
		writeError(w, http.StatusNotFound, "preview not found")
		return
	}
	srv.ServeHTTP(w, r)
}

// RedirectPreview sends <prefix>/{graphId} to the trailing-slash form so
// relative asset paths resolve.
func (p *Previews) RedirectPreview(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, p.prefix+"/"+urlParam(r, "graphId")+"/", http.StatusMovedPermanently)
}
