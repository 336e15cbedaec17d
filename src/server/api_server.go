package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	datasource "stock-datahub/src/data_source"
	"stock-datahub/src/logger"
	"stock-datahub/src/models"

	"github.com/gin-gonic/gin"
)

// IDataService is the read surface the dashboard API serves.
type IDataService interface {
	GetDailyPrices(ctx context.Context, symbol string, start, end time.Time, opts ...datasource.Option) (models.MCacheQueryResult[models.MDailyPrice], error)
	GetNews(ctx context.Context, symbol string, days int, opts ...datasource.Option) (models.MCacheQueryResult[models.MNews], error)
	GetStockInfo(ctx context.Context, symbol string, opts ...datasource.Option) (models.MCacheQueryResult[models.MStockInfo], error)
	GetFinancialIndicator(ctx context.Context, symbol string, opts ...datasource.Option) (models.MCacheQueryResult[models.MFinancialIndicator], error)
	RefreshStockData(ctx context.Context, symbol string) (models.MRefreshResult, error)
	Stats(ctx context.Context) (models.MCacheStats, error)
}

// -----------------------------------------------------------------------------
// APIServer
// -----------------------------------------------------------------------------

type APIServer struct {
	Config *models.MConfig
	Logger *logger.Logger
	Data   IDataService
	engine *gin.Engine
	http   *http.Server

	// WebSocket clients
	clients    map[*Client]struct{}
	broadcast  chan models.MRefreshEvent
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	stopOnce   sync.Once

	// Latest event per symbol and kind, replayed to new subscribers
	latest     map[string]models.MRefreshEvent
	lastUpdate int64
	stateMutex sync.RWMutex
}

// -----------------------------------------------------------------------------
// Constructor
// -----------------------------------------------------------------------------

func NewAPIServer(cfg *models.MConfig, data IDataService, logger *logger.Logger) *APIServer {
	// Set Gin mode
	if cfg.LogLevel != "DEBUG" {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &APIServer{
		Config:  cfg,
		Logger:  logger,
		Data:    data,
		engine:  gin.New(),
		clients: make(map[*Client]struct{}),
		// Buffered so a burst of write-backs never blocks a read path
		broadcast:  make(chan models.MRefreshEvent, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		latest:     make(map[string]models.MRefreshEvent),
	}
	s.engine.Use(gin.Recovery())

	// Add CORS Middleware
	s.engine.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if strings.HasPrefix(origin, "http://127.0.0.1:") || strings.HasPrefix(origin, "http://localhost:") {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		}
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	s.setupRoutes()
	return s
}

// -----------------------------------------------------------------------------
// Route Setup
// -----------------------------------------------------------------------------

func (s *APIServer) setupRoutes() {
	api := s.engine.Group("/api")
	api.GET("/prices/:symbol", s.getPrices)
	api.GET("/news/:symbol", s.getNews)
	api.GET("/info/:symbol", s.getInfo)
	api.GET("/indicators/:symbol", s.getIndicators)
	api.POST("/refresh/:symbol", s.postRefresh)
	api.GET("/stats", s.getStats)
	api.GET("/health", s.getHealth)

	// WebSocket endpoint
	s.engine.GET("/ws", s.handleWebSocket)
}

// Handler exposes the routes, for tests and embedding.
func (s *APIServer) Handler() http.Handler {
	return s.engine
}

// -----------------------------------------------------------------------------
// Server Lifecycle
// -----------------------------------------------------------------------------

// Start runs the hub and serves HTTP until Stop is called.
func (s *APIServer) Start() error {
	addr := fmt.Sprintf("%s:%d", s.Config.Host, s.Config.Port)
	s.Logger.Info("Starting server on %s", addr)

	go s.handleWebsockets()

	s.http = &http.Server{Addr: addr, Handler: s.engine, ReadHeaderTimeout: 10 * time.Second}
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// -----------------------------------------------------------------------------

func (s *APIServer) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		close(s.done)
		if s.http != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			err = s.http.Shutdown(ctx)
		}
	})
	return err
}

// -----------------------------------------------------------------------------
// Route Handlers
// -----------------------------------------------------------------------------

func (s *APIServer) getPrices(c *gin.Context) {
	start, err := parseDay(c.Query("start"))
	if err != nil {
		writeError(c, err)
		return
	}
	end, err := parseDay(c.Query("end"))
	if err != nil {
		writeError(c, err)
		return
	}

	res, err := s.Data.GetDailyPrices(c.Request.Context(), c.Param("symbol"), start, end, datasource.WithForce(parseBool(c.Query("force"))))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *APIServer) getNews(c *gin.Context) {
	days, err := parseDays(c.Query("days"))
	if err != nil {
		writeError(c, err)
		return
	}

	res, err := s.Data.GetNews(c.Request.Context(), c.Param("symbol"), days, datasource.WithForce(parseBool(c.Query("force"))))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *APIServer) getInfo(c *gin.Context) {
	res, err := s.Data.GetStockInfo(c.Request.Context(), c.Param("symbol"), datasource.WithForce(parseBool(c.Query("force"))))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *APIServer) getIndicators(c *gin.Context) {
	res, err := s.Data.GetFinancialIndicator(c.Request.Context(), c.Param("symbol"), datasource.WithForce(parseBool(c.Query("force"))))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *APIServer) postRefresh(c *gin.Context) {
	res, err := s.Data.RefreshStockData(c.Request.Context(), c.Param("symbol"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// -----------------------------------------------------------------------------

func (s *APIServer) getStats(c *gin.Context) {
	stats, err := s.Data.Stats(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// -----------------------------------------------------------------------------

func (s *APIServer) getHealth(c *gin.Context) {
	s.stateMutex.RLock()
	connections := len(s.clients)
	timestamp := s.lastUpdate
	s.stateMutex.RUnlock()

	c.JSON(http.StatusOK, gin.H{
		"status":        "ok",
		"mode":          s.Config.DataSource.Mode,
		"connections":   connections,
		"latest_update": timestamp,
	})
}
