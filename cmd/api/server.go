package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	_ "snapclaim/api/swagger" // swagger docs
	"snapclaim/internal/database"
	"snapclaim/internal/events"
	"snapclaim/internal/handler"
	"snapclaim/internal/middleware"
	"snapclaim/internal/websocket"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

const shutdownTimeout = 10 * time.Second

// routeRegistrar is implemented by every handler.
type routeRegistrar interface {
	RegisterRoutes(router *gin.RouterGroup)
}

func (a *app) serve(ctx context.Context) error {
	db, err := a.openDB()
	if err != nil {
		return err
	}
	if err := database.Migrate(db); err != nil {
		return err
	}

	hub := websocket.NewHub(a.log.Named("ws"))
	go hub.Run(ctx)

	publisher := events.Multi{hub}
	if a.cfg.Kafka.Enabled() {
		kp := events.NewKafkaPublisher(a.cfg.Kafka.Brokers, a.cfg.Kafka.Topic, a.log.Named("kafka"))
		defer kp.Close()
		publisher = append(publisher, kp)
		a.log.Info().Strs("brokers", a.cfg.Kafka.Brokers).Str("topic", a.cfg.Kafka.Topic).Msg("publishing events to kafka")
	}

	deps, err := a.build(db, publisher)
	if err != nil {
		return err
	}
	defer deps.close()

	auth := middleware.NewAuthenticator([]byte(a.cfg.JWT.Secret), deps.roleService.GetPermissionsByRoleName,
		middleware.CookieConfig{
			Secure:     a.cfg.App.Env == "production",
			AccessTTL:  a.cfg.JWT.AccessTTL(),
			RefreshTTL: a.cfg.JWT.RefreshTTL(),
		}, a.log.Named("auth"))

	router := a.newRouter(hub, auth,
		handler.NewUserHandler(deps.userService, auth),
		handler.NewRoleHandler(deps.roleService, auth),
		handler.NewClientHandler(deps.clientService, auth),
		handler.NewInvoiceHandler(deps.invoiceService, deps.verificationService, auth),
		handler.NewRouteHandler(deps.routeService, auth),
		handler.NewAuditHandler(deps.auditService, auth),
		handler.NewStatisticsHandler(deps.statisticsService, auth),
	)

	srv := &http.Server{
		Addr:              a.cfg.HTTP.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info().Str("addr", srv.Addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}

func (a *app) newRouter(hub *websocket.Hub, auth *middleware.Authenticator, handlers ...routeRegistrar) *gin.Engine {
	if a.cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger(a.log.Named("http")), middleware.Metrics())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = a.cfg.HTTP.CORSOrigins
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", "Accept"}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	router.Use(cors.New(corsConfig))

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "OK"})
	})
	router.GET("/ws", func(c *gin.Context) {
		websocket.ServeWs(hub, c, auth.Verify)
	})

	for _, h := range handlers {
		h.RegisterRoutes(router.Group(""))
	}
	return router
}
