package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	mng "github.com/loykin/warden/internal/manager"
	"github.com/loykin/warden/internal/watchdog"
)

// Router provides embeddable HTTP handlers over the supervisor and the
// watchdog.
// Endpoints:
//
//	POST {basePath}/system/start
//	POST {basePath}/system/stop
//	GET  {basePath}/system/status
//	GET  {basePath}/system/metrics
//	GET  {basePath}/processes/:id
//	GET  {basePath}/watchdog/report
//	GET  {basePath}/watchdog/alerts
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	mgr      *mng.Manager
	wd       *watchdog.Watchdog
	basePath string
}

// NewRouter constructs a Router with configurable basePath.
func NewRouter(mgr *mng.Manager, wd *watchdog.Watchdog, basePath string) *Router {
	return &Router{mgr: mgr, wd: wd, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler powered by gin that can be mounted in
// any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.POST("/system/start", r.handleStart)
	group.POST("/system/stop", r.handleStop)
	group.GET("/system/status", r.handleStatus)
	group.GET("/system/metrics", r.handleMetrics)
	group.GET("/processes/:id", r.handleProcess)
	group.GET("/watchdog/report", r.handleReport)
	group.GET("/watchdog/alerts", r.handleAlerts)
	return g
}

func (r *Router) handleStart(c *gin.Context) {
	res := r.mgr.StartSystem(c.Request.Context())
	code := http.StatusOK
	if !res.Success {
		code = http.StatusConflict
	}
	c.JSON(code, res)
}

func (r *Router) handleStop(c *gin.Context) {
	res := r.mgr.StopSystem(c.Request.Context())
	code := http.StatusOK
	if !res.Success {
		code = http.StatusConflict
	}
	c.JSON(code, res)
}

func (r *Router) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, r.mgr.Status())
}

func (r *Router) handleMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, r.mgr.Metrics())
}

func (r *Router) handleProcess(c *gin.Context) {
	id := c.Param("id")
	st, ok := r.mgr.ProcessState(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown process: " + id})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "state": st})
}

func (r *Router) handleReport(c *gin.Context) {
	if r.wd == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "watchdog not configured"})
		return
	}
	c.JSON(http.StatusOK, r.wd.GenerateReport())
}

func (r *Router) handleAlerts(c *gin.Context) {
	if r.wd == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "watchdog not configured"})
		return
	}
	c.JSON(http.StatusOK, r.wd.Alerts())
}

// NewServer starts a standalone HTTP server on addr using this router.
func NewServer(addr, basePath string, mgr *mng.Manager, wd *watchdog.Watchdog) (*http.Server, error) {
	r := NewRouter(mgr, wd, basePath)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server, nil
}

func sanitizeBase(bp string) string {
	bp = strings.TrimSpace(bp)
	if bp == "" {
		return ""
	}
	if !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	return strings.TrimSuffix(bp, "/")
}
