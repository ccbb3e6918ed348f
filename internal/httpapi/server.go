package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/hutom-io/creditledger/pkg/ledger"
	"go.uber.org/zap"
)

const requestIDHeader = "X-Request-Id"

// Run serves the credit API until ctx is cancelled.
func Run(ctx context.Context, config Config, service *ledger.Service, logger *zap.Logger) error {
	config = config.Defaults()
	router := NewRouter(config, service, logger)

	server := &http.Server{
		Addr:    config.ListenAddr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("credit api listening", zap.String("addr", config.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// NewRouter assembles the gin engine with middleware and routes.
func NewRouter(config Config, service *ledger.Service, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     config.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	handler := &creditHandler{service: service, logger: logger}

	router.GET("/credits", handler.handleTotalCredit)
	router.POST("/credits/allocate", handler.handleAllocate)
	router.POST("/credits/revoke", handler.handleRevoke)
	router.POST("/credits/use", handler.handleRecordUse)
	router.POST("/credits/cancel", handler.handleRecordCancel)
	router.GET("/credit-histories", handler.handleHistories)

	return router
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		requestID := ctx.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx.Header(requestIDHeader, requestID)
		started := time.Now()
		ctx.Next()
		logger.Info("http request",
			zap.String("request_id", requestID),
			zap.String("method", ctx.Request.Method),
			zap.String("path", ctx.Request.URL.Path),
			zap.Int("status", ctx.Writer.Status()),
			zap.Duration("elapsed", time.Since(started)),
		)
	}
}
