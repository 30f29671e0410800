package server

import (
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/labstack/echo/v4"

	"msgrelay/internal/lock"
	"msgrelay/internal/metrics"
	"msgrelay/internal/spool"
)

// Router provides embeddable HTTP handlers for inspecting the spool daemon.
// Endpoints:
//   GET {basePath}/status        daemon lock state and per-state queue depths
//   GET {basePath}/entries       query: state=queue|sent|failed|dispatched
//   GET {basePath}/metrics       Prometheus exposition
// basePath may be empty or start with '/'; no trailing slash.

type Router struct {
	store    *spool.Store
	lockPath string
	basePath string
}

// NewRouter constructs a new Router with configurable basePath.
// Example basePath: "/api" results in /api/status, /api/entries, /api/metrics.
func NewRouter(store *spool.Store, lockPath, basePath string) *Router {
	return &Router{store: store, lockPath: lockPath, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.GET("/entries", r.handleEntries)
	group.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

// MountEcho attaches the router's handler to an echo instance under its base
// path, for callers embedding the API into an existing echo server.
func (r *Router) MountEcho(e *echo.Echo) {
	h := r.Handler()
	base := r.basePath
	if base == "" {
		e.Any("/*", echo.WrapHandler(h))
		return
	}
	e.Any(base, echo.WrapHandler(h))
	e.Any(base+"/*", echo.WrapHandler(h))
}

// NewServer starts a standalone HTTP server on addr using this router.
// Callers stop it through http.Server's Shutdown or Close.
func NewServer(addr string, r *Router) *http.Server {
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

// StatusResp reports the daemon lock owner and queue depths.
type StatusResp struct {
	Daemon string         `json:"daemon"` // running, stopped, stale
	PID    int            `json:"pid,omitempty"`
	Spool  string         `json:"spool"`
	Depths map[string]int `json:"depths"`
}

// EntryInfo describes one spool file.
type EntryInfo struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

func (r *Router) handleStatus(c *gin.Context) {
	pid, state, err := lock.Status(r.lockPath)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: "read lock: " + err.Error()})
		return
	}
	depths, err := r.store.Depths()
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: "scan spool: " + err.Error()})
		return
	}
	out := StatusResp{Daemon: string(state), Spool: r.store.Root(), Depths: make(map[string]int, len(depths))}
	if state == lock.OwnerRunning {
		out.PID = pid
	}
	for st, n := range depths {
		out.Depths[string(st)] = n
	}
	writeJSON(c, http.StatusOK, out)
}

func (r *Router) handleEntries(c *gin.Context) {
	state := spool.State(c.DefaultQuery("state", string(spool.StateQueue)))
	if !validState(state) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "unknown state: " + string(state)})
		return
	}
	names, err := r.store.List(state)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: "list entries: " + err.Error()})
		return
	}
	out := make([]EntryInfo, 0, len(names))
	for _, name := range names {
		fi, err := os.Stat(filepath.Join(r.store.Dir(state), name))
		if err != nil {
			continue // entry moved between list and stat
		}
		out = append(out, EntryInfo{Name: name, Size: fi.Size(), ModTime: fi.ModTime()})
	}
	writeJSON(c, http.StatusOK, out)
}

func validState(s spool.State) bool {
	for _, st := range spool.States {
		if st == s {
			return true
		}
	}
	return false
}
