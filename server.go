package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"bitbucket.org/stitchworks/tailor_backend/config"
	"bitbucket.org/stitchworks/tailor_backend/models"
	"bitbucket.org/stitchworks/tailor_backend/utils"
	"bitbucket.org/stitchworks/tailor_backend/workflow"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
)

const defaultPort = "8080"

var tracer = otel.Tracer("tailor-backend")

// httpStatusForError maps business errors onto HTTP semantics. Unknown
// errors fall through to 500.
func httpStatusForError(err error) int {
	switch {
	case errors.Is(err, utils.ErrorRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, utils.ErrorOrderTerminal),
		errors.Is(err, utils.ErrorNothingToSplit),
		errors.Is(err, utils.ErrorCannotSplitEverything),
		errors.Is(err, utils.ErrorInsufficientAvailableStock):
		return http.StatusConflict
	case errors.Is(err, utils.ErrorUnknownItem),
		errors.Is(err, utils.ErrorInvalidReference),
		errors.Is(err, utils.ErrorInvalidAssignment):
		return http.StatusUnprocessableEntity
	case errors.Is(err, utils.ErrorTransactionFailed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func abortWithError(c *gin.Context, err error) {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		c.JSON(http.StatusBadRequest, gin.H{"errors": utils.ProcessValidationErrors(err)})
		return
	}
	c.JSON(httpStatusForError(err), gin.H{"error": err.Error()})
}

func pathParamInt(c *gin.Context, name string) (int, bool) {
	value, err := strconv.Atoi(c.Param(name))
	if err != nil || value <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return value, true
}

func updateOrderItemHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "UpdateOrderItem")
		defer span.End()

		orderId, ok := pathParamInt(c, "id")
		if !ok {
			return
		}
		itemId, ok := pathParamInt(c, "itemId")
		if !ok {
			return
		}

		var input workflow.OrderItemUpdateInput
		if err := c.ShouldBindJSON(&input); err != nil {
			abortWithError(c, err)
			return
		}

		result, err := workflow.UpdateOrderItem(ctx, orderId, itemId, &input)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func splitOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "SplitOrder")
		defer span.End()

		orderId, ok := pathParamInt(c, "id")
		if !ok {
			return
		}

		var input workflow.OrderSplitInput
		if err := c.ShouldBindJSON(&input); err != nil {
			abortWithError(c, err)
			return
		}

		result, err := workflow.SplitOrder(ctx, utils.SystemClock(), orderId, &input)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusCreated, result)
	}
}

func updateOrderStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "UpdateOrderStatus")
		defer span.End()

		orderId, ok := pathParamInt(c, "id")
		if !ok {
			return
		}

		var input workflow.OrderStatusUpdateInput
		if err := c.ShouldBindJSON(&input); err != nil {
			abortWithError(c, err)
			return
		}

		order, err := workflow.UpdateOrderStatus(ctx, utils.SystemClock(), orderId, &input)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, order)
	}
}

func recordInstallmentPaymentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "RecordInstallmentPayment")
		defer span.End()

		installmentId, ok := pathParamInt(c, "installmentId")
		if !ok {
			return
		}
		if err := utils.ValidateResourceId[models.PaymentInstallment](ctx, installmentId); err != nil {
			abortWithError(c, err)
			return
		}

		var input models.InstallmentPaymentInput
		if err := c.ShouldBindJSON(&input); err != nil {
			abortWithError(c, err)
			return
		}

		installment, err := models.RecordInstallmentPayment(ctx, utils.SystemClock(), installmentId, &input)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, installment)
	}
}

func applyOrderDiscountHandler() gin.HandlerFunc {
	type discountInput struct {
		Amount decimal.Decimal `json:"amount" binding:"required"`
		Reason string          `json:"reason"`
	}
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "ApplyOrderDiscount")
		defer span.End()

		orderId, ok := pathParamInt(c, "id")
		if !ok {
			return
		}
		if err := utils.ValidateResourceId[models.Order](ctx, orderId); err != nil {
			abortWithError(c, err)
			return
		}

		var input discountInput
		if err := c.ShouldBindJSON(&input); err != nil {
			abortWithError(c, err)
			return
		}

		order, err := models.ApplyOrderDiscount(ctx, orderId, input.Amount, input.Reason)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, order)
	}
}

func reconcileAlertsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "ReconcileAlerts")
		defer span.End()

		result, err := workflow.ReconcileAlertsWithLock(ctx, utils.SystemClock())
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

// identityMiddleware lifts the caller identity headers into the request
// context. Authentication itself happens upstream at the gateway.
func identityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if raw := c.GetHeader("X-User-Id"); raw != "" {
			if userId, err := strconv.Atoi(raw); err == nil {
				ctx = utils.SetUserIdInContext(ctx, userId)
			}
		}
		if userName := c.GetHeader("X-User-Name"); userName != "" {
			ctx = utils.SetUserNameInContext(ctx, userName)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// customErrorLogger logs only requests that ended with gin errors.
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

func splitAndTrim(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// runAlertReconciler sweeps on an interval until the context is cancelled.
func runAlertReconciler(ctx context.Context, logger *logrus.Logger) {
	intervalSec := int64(300)
	if v := strings.TrimSpace(os.Getenv("ALERT_RECONCILE_INTERVAL_SECONDS")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			intervalSec = n
		}
	}
	ticker := time.NewTicker(time.Duration(intervalSec) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result, err := workflow.ReconcileAlertsWithLock(ctx, utils.SystemClock())
			if err != nil {
				logger.WithFields(logrus.Fields{"field": "alerts"}).Error("alert reconcile failed: " + err.Error())
				continue
			}
			if result.Created > 0 || result.Resolved > 0 {
				logger.WithFields(logrus.Fields{
					"created":  result.Created,
					"resolved": result.Resolved,
				}).Info("alert reconcile completed")
			}
			if _, err := workflow.PurgeStaleAlerts(ctx, utils.SystemClock()); err != nil {
				logger.WithFields(logrus.Fields{"field": "alerts"}).Error("stale alert purge failed: " + err.Error())
			}
		}
	}
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		// Cloud Run standard env var.
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server ASAP so the startup probe passes. Until the DB is
	// ready, app endpoints return 503.
	r := gin.New()
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	})
	r.Use(func(c *gin.Context) {
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		if config.GetDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			// Deny all if not configured in production.
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization", "X-User-Id", "X-User-Name")
	corsConfig.AddExposeHeaders("Content-Length")
	corsConfig.AllowCredentials = true
	r.Use(cors.New(corsConfig))

	r.Use(identityMiddleware())
	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	r.PATCH("/api/orders/:id/items/:itemId", updateOrderItemHandler())
	r.POST("/api/orders/:id/split", splitOrderHandler())
	r.PATCH("/api/orders/:id/status", updateOrderStatusHandler())
	r.POST("/api/orders/:id/discount", applyOrderDiscountHandler())
	r.POST("/api/installments/:installmentId/payments", recordInstallmentPaymentHandler())
	r.POST("/api/alerts/reconcile", reconcileAlertsHandler())

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// AutoMigrate can run DDL that blocks tables; allow disabling on startup
	// and running migrations as a separate job instead.
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	reconcilerCtx, cancelReconciler := context.WithCancel(context.Background())
	defer cancelReconciler()
	go runAlertReconciler(reconcilerCtx, logger)

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("listening on http://localhost:", port)
	log.Println("Server started successfully")

	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Stop the reconciler first so it doesn't start a sweep mid-drain.
	cancelReconciler()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}
