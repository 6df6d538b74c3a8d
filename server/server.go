// Package server exposes the optimizer over HTTP: a unified optimization
// endpoint, schedule reports, health checks and a websocket event stream.
package server

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"

	"github.com/devskill-org/fleet-optimizer/controller"
	"github.com/devskill-org/fleet-optimizer/models"
)

// Server hosts the HTTP facade over the controllers.
type Server struct {
	store   controller.Datastore
	appName string
	logger  *log.Logger

	httpServer *http.Server
	startTime  time.Time

	// schedules keeps recent run results in memory for the report endpoint,
	// keyed by schedule id.
	schedules sync.Map

	hub *eventHub
}

// New builds the server with its routes and CORS wrapping.
func New(ds controller.Datastore, appName, listenAddr string, logger *log.Logger) *Server {
	s := &Server{
		store:     ds,
		appName:   appName,
		logger:    logger,
		startTime: time.Now(),
		hub:       newEventHub(logger),
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.POST("/optimize/unified", s.handleUnifiedOptimization)
	router.GET("/report/schedule", s.handleScheduleReport)
	router.GET("/health", s.handleHealth)
	router.GET("/ws", gin.WrapF(s.hub.handleWebsocket))

	handler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(router)

	s.httpServer = &http.Server{
		Addr:         listenAddr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute, // solver runs can be long
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start runs the listener and the websocket broadcast loop.
func (s *Server) Start() error {
	s.hub.start()
	s.logger.Printf("[SERVER] listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop drains the websocket hub and shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	s.hub.stop()
	return s.httpServer.Shutdown(ctx)
}

// rememberSchedule indexes a run result for the report endpoint.
func (s *Server) rememberSchedule(result *models.ScheduleResult) {
	if result == nil || result.ScheduleID <= 0 {
		return
	}
	s.schedules.Store(result.ScheduleID, result)
}

func (s *Server) lookupSchedule(scheduleID int64) (*models.ScheduleResult, bool) {
	v, ok := s.schedules.Load(scheduleID)
	if !ok {
		return nil, false
	}
	return v.(*models.ScheduleResult), true
}
