package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bsm/redislock"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/proplens/inspections_backend/config"
	"github.com/proplens/inspections_backend/models"
	"github.com/proplens/inspections_backend/utils"
	"github.com/proplens/inspections_backend/workflow"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const defaultPort = "8080"

// PubSubMessage is the push-delivery envelope. Data is base64 in the wire
// JSON; []byte unmarshalling decodes it.
type PubSubMessage struct {
	Message struct {
		Data []byte `json:"data,omitempty"`
		ID   string `json:"id"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

func eventFields(m config.ChangeEvent, messageId string) logrus.Fields {
	return logrus.Fields{
		"field":          "syncPubSubHandler",
		"property_id":    m.PropertyId,
		"reference_type": m.ReferenceType,
		"reference_id":   m.ReferenceId,
		"message_id":     messageId,
	}
}

// tryPropertyLock takes a short redis lock per property so concurrent push
// deliveries for the same property queue up cheaply instead of contending on
// the DB advisory lock. Purely an optimization: any failure here returns nil
// and processing continues, because ProcessMessage serializes on MySQL anyway.
func tryPropertyLock(ctx context.Context, logger *logrus.Logger, m config.ChangeEvent, messageId string) *redislock.Lock {
	locker := config.GetRedisLock()
	if locker == nil {
		logger.WithFields(eventFields(m, messageId)).Warn("redis lock not ready; proceeding without redis lock")
		return nil
	}
	if m.PropertyId == "" {
		return nil
	}
	lock, err := locker.Obtain(ctx, fmt.Sprintf("lock:%s", m.PropertyId), 30*time.Second, nil)
	switch {
	case err == redislock.ErrNotObtained:
		logger.WithFields(eventFields(m, messageId)).Warn("could not obtain redis lock; proceeding without redis lock")
		return nil
	case err != nil:
		logger.WithFields(eventFields(m, messageId)).Warn("error obtaining redis lock; proceeding without redis lock: " + err.Error())
		return nil
	}
	return lock
}

// syncPubSubHandler is the push-subscription endpoint. Anything unparseable
// is acked with 204 (retrying a poisoned payload forever helps nobody);
// processing failures return 500 so Pub/Sub redelivers.
func syncPubSubHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			config.LogError(logger, "server.go", "syncPubSubHandler", "io.ReadAll", nil, err)
			c.Status(http.StatusNoContent)
			return
		}

		var msg PubSubMessage
		if err := json.Unmarshal(body, &msg); err != nil {
			config.LogError(logger, "server.go", "syncPubSubHandler", "Unmarshal envelope", body, err)
			c.Status(http.StatusNoContent)
			return
		}

		var m config.ChangeEvent
		if err := json.Unmarshal(msg.Message.Data, &m); err != nil {
			config.LogError(logger, "server.go", "syncPubSubHandler", "Unmarshal change event", msg.Message.Data, err)
			c.Status(http.StatusNoContent)
			return
		}
		if err := utils.ValidateStruct(m); err != nil {
			config.LogError(logger, "server.go", "syncPubSubHandler", "Invalid change event", utils.ProcessValidationErrors(err), err)
			c.Status(http.StatusNoContent)
			return
		}

		correlationId := m.CorrelationId
		if correlationId == "" {
			correlationId = msg.Message.ID
		}

		if lock := tryPropertyLock(c.Request.Context(), logger, m, msg.Message.ID); lock != nil {
			defer func() {
				if releaseErr := lock.Release(c.Request.Context()); releaseErr != nil {
					logger.WithFields(eventFields(m, msg.Message.ID)).Warn("failed to release redis lock: " + releaseErr.Error())
				}
			}()
		}

		ctx := utils.SetUserIdInContext(c.Request.Context(), "system")
		ctx = utils.SetUserNameInContext(ctx, "System")
		ctx = utils.SetCorrelationIdInContext(ctx, correlationId)

		if err := ProcessMessage(ctx, logger, m); err != nil {
			fields := eventFields(m, msg.Message.ID)
			fields["correlation_id"] = correlationId
			logger.WithFields(fields).Error("pubsub processing failed: " + err.Error())
			c.Status(http.StatusInternalServerError)
			return
		}

		c.Status(http.StatusNoContent)
	}
}

// authorizeOps gates internal ops endpoints on a shared token. The worker has
// no user-facing auth surface; this is operator tooling only.
func authorizeOps(c *gin.Context) bool {
	expected := strings.TrimSpace(os.Getenv("OPS_TOKEN"))
	if expected == "" {
		return false
	}
	return c.GetHeader("x-ops-token") == expected
}

type outboxReplayRequest struct {
	RecordId int `json:"record_id"`
}

// outboxReplayHandler requeues a DEAD/FAILED outbox record for publishing.
func outboxReplayHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !authorizeOps(c) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var req outboxReplayRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.RecordId <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "record_id is required"})
			return
		}

		db := config.GetDB()
		if db == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "db is nil"})
			return
		}
		now := time.Now().UTC()
		err := db.WithContext(c.Request.Context()).
			Model(&models.ChangeEventRecord{}).
			Where("id = ?", req.RecordId).
			Updates(map[string]interface{}{
				"publish_status":     models.OutboxPublishStatusFailed,
				"next_attempt_at":    &now,
				"locked_at":          nil,
				"locked_by":          nil,
				"last_publish_error": nil,
			}).Error
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"record_id":       req.RecordId,
			"publish_status":  models.OutboxPublishStatusFailed,
			"next_attempt_at": now.Format(time.RFC3339Nano),
		})
	}
}

type reconcileRequest struct {
	PropertyId string `json:"property_id"`
}

// reconcileHandler enqueues a reconciliation event through the outbox so the
// pass runs under the same locking and idempotency as live traffic.
func reconcileHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !authorizeOps(c) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var req reconcileRequest
		_ = c.ShouldBindJSON(&req)

		db := config.GetDB()
		if db == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "db is nil"})
			return
		}
		err := models.PublishChange(c.Request.Context(), db.WithContext(c.Request.Context()),
			uuid.NewString(), models.ChangeReferenceTypeReconcile, req.PropertyId, nil, nil, models.ChangeEventActionUpdate)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
	}
}

func buildRouter(logger *logrus.Logger) *gin.Engine {
	r := gin.New()

	// One correlation id per request; inbound header wins.
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	})

	// The port opens before DB/Redis connect (Cloud Run probes TCP); until
	// both are ready, everything except the health probe answers 503.
	r.Use(func(c *gin.Context) {
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		if config.GetDB() == nil || config.GetRedisDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	r.Use(errorOnlyLogger(logger))
	r.Use(gin.Recovery())
	r.POST("/pubsub", syncPubSubHandler())
	r.POST("/internal/ops/outbox/replay", outboxReplayHandler())
	r.POST("/internal/ops/reconcile", reconcileHandler())
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})
	return r
}

func listenPort() string {
	for _, key := range []string{"API_PORT", "PORT"} {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return defaultPort
}

func main() {
	logger := config.GetLogger()

	// Cloud Run sends SIGTERM on revision shutdown; drain gracefully.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	srv := &http.Server{
		Addr:    ":" + listenPort(),
		Handler: buildRouter(logger),
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()

	// AutoMigrate DDL can block busy tables; SKIP_MIGRATIONS=true defers it
	// to a dedicated job.
	if strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	} else {
		models.MigrateTable()
	}

	initIntegrations(logger)

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()
	go workflow.NewOutboxDispatcher(db, logger).Run(workerCtx)
	if shouldRunDirectOutboxProcessor() {
		go NewOutboxDirectProcessor(db, logger).Run(workerCtx)
	}

	// Pull consumer; the /pubsub push endpoint covers environments without
	// a pull subscription.
	if strings.TrimSpace(os.Getenv("PUBSUB_SUBSCRIPTION")) != "" {
		if err := RunSyncWorkflow(); err != nil {
			logger.WithFields(logrus.Fields{"field": "SyncWorkflow"}).Error("failed to start subscription consumer: " + err.Error())
		}
	}

	setReadCommitted(db, logger)

	log.Println("Server started successfully")

	select {
	case <-sigCtx.Done():
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Workers first, so nothing starts new work during the HTTP drain.
	cancelWorkers()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

// setReadCommitted retries until the session isolation level is set; the
// handlers' read-recompute-write pattern depends on it.
func setReadCommitted(db *gorm.DB, logger *logrus.Logger) {
	for attempt := 1; ; attempt++ {
		err := db.Exec("SET SESSION TRANSACTION ISOLATION LEVEL READ COMMITTED").Error
		if err == nil {
			return
		}
		sleep := time.Second * time.Duration(1<<min(attempt, 5))
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
		logger.WithFields(logrus.Fields{
			"field":   "database",
			"attempt": attempt,
		}).Warn("failed to set isolation level; retrying in " + sleep.String() + ": " + err.Error())
		time.Sleep(sleep)
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// errorOnlyLogger logs request errors and nothing else; happy-path request
// logging is left to the platform.
func errorOnlyLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}
