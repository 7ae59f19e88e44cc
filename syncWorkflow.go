package main

import (
	"context"
	"encoding/json"
	"os"
	"strconv"
	"sync"

	"cloud.google.com/go/pubsub"
	"github.com/proplens/inspections_backend/config"
	"github.com/proplens/inspections_backend/messaging"
	"github.com/proplens/inspections_backend/trello"
	"github.com/proplens/inspections_backend/utils"
	"github.com/proplens/inspections_backend/workflow"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var (
	propertyMutexMap = make(map[string]*sync.Mutex)
	globalMutex      = &sync.Mutex{}
)

// Integration collaborators are optional: without credentials the workflows
// simply skip card and push side effects.
var (
	cardService      workflow.CardService
	messagingService workflow.MessagingService
)

func initIntegrations(logger *logrus.Logger) {
	if config.CardIntegrationEnabled() {
		if client, err := trello.NewClientFromEnv(); err != nil {
			logger.WithFields(logrus.Fields{"field": "integrations"}).Warn("card service disabled: " + err.Error())
		} else {
			cardService = client
		}
	}
	if config.PushNotificationsEnabled() {
		if client, err := messaging.NewClientFromEnv(); err != nil {
			logger.WithFields(logrus.Fields{"field": "integrations"}).Warn("messaging service disabled: " + err.Error())
		} else {
			messagingService = client
		}
	}
}

func RunSyncWorkflow() error {
	logger := config.GetLogger()
	ctx := context.Background()
	client, err := config.GetClient(ctx)
	if err != nil {
		return err
	}
	topic, err := config.CreateTopicIfNotExists(client, os.Getenv("PUBSUB_TOPIC"))
	if err != nil {
		return err
	}
	sub, err := config.CreateSubscriptionIfNotExists(client, os.Getenv("PUBSUB_SUBSCRIPTION"), topic)
	if err != nil {
		return err
	}
	sub.ReceiveSettings.MaxOutstandingMessages = 10

	callback := func(ctx context.Context, msg *pubsub.Message) {
		m := config.ChangeEvent{}
		err := json.Unmarshal(msg.Data, &m)
		if err != nil {
			config.LogError(logger, "syncWorkflow.go", "RunSyncWorkflow", "Unmarshaling pubsub message", msg.Data, err)
			return
		}

		// In-process serialization per property; the advisory lock in
		// ProcessMessage covers cross-instance ordering.
		mutex := propertyMutex(m.PropertyId)
		mutex.Lock()
		defer mutex.Unlock()

		ctx = utils.SetUserIdInContext(ctx, "system")
		ctx = utils.SetUserNameInContext(ctx, "System")
		ctx = utils.SetCorrelationIdInContext(ctx, m.CorrelationId)
		if err := ProcessMessage(ctx, logger, m); err != nil {
			logger.WithFields(logrus.Fields{
				"field":          "SyncWorkflow",
				"property_id":    m.PropertyId,
				"reference_type": m.ReferenceType,
				"reference_id":   m.ReferenceId,
				"message_id":     msg.ID,
			}).Error("pubsub processing failed: " + err.Error())
			msg.Nack()
			return
		}
		msg.Ack()
	}

	go func() {
		if err := sub.Receive(ctx, callback); err != nil {
			config.LogError(logger, "syncWorkflow.go", "RunSyncWorkflow", "Receive", nil, err)
		}
	}()

	return nil
}

func propertyMutex(propertyId string) *sync.Mutex {
	globalMutex.Lock()
	defer globalMutex.Unlock()
	mutex, ok := propertyMutexMap[propertyId]
	if !ok {
		mutex = &sync.Mutex{}
		propertyMutexMap[propertyId] = mutex
	}
	return mutex
}

func ProcessMessage(ctx context.Context, logger *logrus.Logger, m config.ChangeEvent) error {
	db := config.GetDB()
	return db.Transaction(func(tx *gorm.DB) error {
		// Enforce strict per-property ordering across instances.
		if m.PropertyId != "" {
			if err := workflow.AcquirePropertyPostingLock(tx.WithContext(ctx), m.PropertyId); err != nil {
				return err
			}
			defer workflow.ReleasePropertyPostingLock(tx.WithContext(ctx), m.PropertyId)
		}

		if m.ReferenceType == "RC" {
			return workflow.ProcessReconciliationWorkflow(ctx, tx.WithContext(ctx), logger, m, cardService, messagingService)
		}

		handlerName := m.ReferenceType
		messageId := strconv.Itoa(m.ID)

		skip, err := workflow.BeginIdempotency(tx.WithContext(ctx), handlerName, messageId)
		if err != nil {
			return err
		}
		if skip {
			return nil
		}

		if err := workflow.DispatchChangeEvent(ctx, tx.WithContext(ctx), logger, m, cardService, messagingService); err != nil {
			_ = workflow.MarkIdempotencyFailed(tx.WithContext(ctx), handlerName, messageId, err)
			return err
		}
		if err := workflow.MarkIdempotencySucceeded(tx.WithContext(ctx), handlerName, messageId); err != nil {
			return err
		}
		return workflow.MarkChangeEventProcessed(tx.WithContext(ctx), m.ID, nil)
	})
}
