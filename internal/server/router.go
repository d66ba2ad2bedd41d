package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kilnhq/kiln/internal/log"
	"github.com/kilnhq/kiln/internal/model"
	"github.com/kilnhq/kiln/internal/storage"
)

// Installer is the install queue served by the router.
type Installer interface {
	RequestInstall(ctx context.Context, req model.InstallRequest) (model.InstallRequest, error)
	Queue() []model.InstallRequest
	Status() (*model.InstallStatus, bool)
}

// RouterConfig is the configuration for the router.
type RouterConfig struct {
	Installer Installer
	Instances storage.InstanceRepository
	History   storage.InstallHistoryRepository
	BasePath  string
	Logger    log.Logger
}

func (c *RouterConfig) defaults() error {
	if c.Installer == nil {
		return fmt.Errorf("installer is required")
	}
	if c.Instances == nil {
		return fmt.Errorf("instance repository is required")
	}
	if c.History == nil {
		return fmt.Errorf("history repository is required")
	}
	if c.BasePath == "" {
		c.BasePath = DefaultBasePath
	}
	c.BasePath = sanitizeBase(c.BasePath)
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "server.Router"})
	return nil
}

// Router serves the install intake API.
type Router struct {
	installer Installer
	instances storage.InstanceRepository
	history   storage.InstallHistoryRepository
	basePath  string
	logger    log.Logger
}

// NewRouter returns a new router.
func NewRouter(cfg RouterConfig) (*Router, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Router{
		installer: cfg.Installer,
		instances: cfg.Instances,
		history:   cfg.History,
		basePath:  cfg.BasePath,
		logger:    cfg.Logger,
	}, nil
}

// Handler returns the gin powered http.Handler.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery(), r.logRequests)
	group := g.Group(r.basePath)
	group.POST("/installs", r.handleRequestInstall)
	group.GET("/installs", r.handleInstalls)
	group.GET("/instances", r.handleInstances)
	group.GET("/history", r.handleHistory)
	return g
}

// NewHTTPServer returns an HTTP server for the router, the caller serves it.
func (r *Router) NewHTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

func (r *Router) logRequests(c *gin.Context) {
	start := time.Now()
	c.Next()
	r.logger.Debugf("%s %s %d (%s)", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
}

func (r *Router) handleRequestInstall(c *gin.Context) {
	var body InstallRequestJSON
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, errorJSON{Error: "invalid JSON: " + err.Error()})
		return
	}

	req, err := r.installer.RequestInstall(c.Request.Context(), body.toModel())
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, model.ErrNotValid) {
			code = http.StatusBadRequest
		}
		c.JSON(code, errorJSON{Error: err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, requestToJSON(req))
}

func (r *Router) handleInstalls(c *gin.Context) {
	queue := r.installer.Queue()
	resp := InstallsJSON{Queue: make([]InstallRequestJSON, 0, len(queue))}
	for _, req := range queue {
		resp.Queue = append(resp.Queue, requestToJSON(req))
	}
	if st, ok := r.installer.Status(); ok {
		resp.Status = statusToJSON(st)
	}

	c.JSON(http.StatusOK, resp)
}

func (r *Router) handleInstances(c *gin.Context) {
	instances, err := r.instances.ListInstances(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorJSON{Error: err.Error()})
		return
	}

	resp := make([]InstanceJSON, 0, len(instances))
	for _, inst := range instances {
		resp = append(resp, instanceToJSON(inst))
	}
	c.JSON(http.StatusOK, resp)
}

func (r *Router) handleHistory(c *gin.Context) {
	limit := 0
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, errorJSON{Error: fmt.Sprintf("invalid limit %q", s)})
			return
		}
		limit = n
	}

	outcomes, err := r.history.ListInstallOutcomes(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorJSON{Error: err.Error()})
		return
	}

	resp := make([]OutcomeJSON, 0, len(outcomes))
	for _, o := range outcomes {
		resp = append(resp, outcomeToJSON(o))
	}
	c.JSON(http.StatusOK, resp)
}

func sanitizeBase(bp string) string {
	bp = strings.TrimSpace(bp)
	if bp == "" || bp == "/" {
		return ""
	}
	if !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	return strings.TrimRight(bp, "/")
}
