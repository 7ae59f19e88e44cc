package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/proplens/inspections_backend/config"
	"github.com/proplens/inspections_backend/messaging"
	"github.com/proplens/inspections_backend/models"
	"github.com/proplens/inspections_backend/trello"
	"github.com/proplens/inspections_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// CardService is the external board collaborator. All calls are at-most-once
// attempts per trigger invocation; a not-found error from any call means the
// card was deleted on the board and local references must be cascade-cleared.
type CardService interface {
	CreateCard(ctx context.Context, listId, name, description string) (cardId, cardURL string, err error)
	MoveCard(ctx context.Context, cardId, listId string) error
	CommentCard(ctx context.Context, cardId, text string) error
}

// MessagingService delivers push notifications and reports stale tokens back.
type MessagingService interface {
	SendToDevice(ctx context.Context, tokens []string, note messaging.Notification) (deliveryId string, invalid []string, err error)
}

// ProcessDeficientItemWorkflow reacts to deficiency writes: state transitions
// drive the card integration and the push fan-out, and every action ends with
// a property counter recompute. Card and write errors propagate so the
// consumer's redelivery policy applies; notification failures are logged per
// recipient batch and never fail the handler.
func ProcessDeficientItemWorkflow(ctx context.Context, tx *gorm.DB, logger *logrus.Logger, msg config.ChangeEvent, cards CardService, push MessagingService) error {
	if msg.ReferenceId == "" || msg.PropertyId == "" {
		config.LogError(logger, "deficiencyState.go", "ProcessDeficientItemWorkflow", "MissingReference", msg.ID, errors.New("change event missing reference or property id"))
		return nil
	}

	switch models.ChangeEventAction(msg.Action) {
	case models.ChangeEventActionCreate, models.ChangeEventActionDelete:
		return RecomputePropertyMeta(tx, logger, msg.PropertyId)
	case models.ChangeEventActionUpdate:
		// fallthrough below
	default:
		config.LogError(logger, "deficiencyState.go", "ProcessDeficientItemWorkflow", "UnknownAction", msg.Action, errors.New("unknown change event action"))
		return nil
	}

	var oldDef, newDef models.DeficientItem
	if err := utils.UnmarshalFromJSON(msg.OldObj, &oldDef); err != nil {
		config.LogError(logger, "deficiencyState.go", "ProcessDeficientItemWorkflow", "DecodeOldObj", msg.ID, err)
		return nil
	}
	if err := utils.UnmarshalFromJSON(msg.NewObj, &newDef); err != nil {
		config.LogError(logger, "deficiencyState.go", "ProcessDeficientItemWorkflow", "DecodeNewObj", msg.ID, err)
		return nil
	}

	if !newDef.State.IsValid() {
		config.LogError(logger, "deficiencyState.go", "ProcessDeficientItemWorkflow", "UnknownState", string(newDef.State), errors.New("unknown deficiency state"))
		return nil
	}

	// The event payload carries the row minus the blob columns (history,
	// completed photos, item photos, admin edits); reload so the card
	// cascade and the comment trail work on the stored blobs.
	var stored models.DeficientItem
	if err := tx.Where("id = ?", msg.ReferenceId).Take(&stored).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Deleted between event and handler; the delete event follows.
			return nil
		}
		config.LogError(logger, "deficiencyState.go", "ProcessDeficientItemWorkflow", "GetDeficientItem", msg.ReferenceId, err)
		return err
	}
	restoreDeficiencyBlobs(&newDef, &stored)

	if oldDef.State != newDef.State {
		if err := handleStateTransition(ctx, tx, logger, &oldDef, &newDef, cards); err != nil {
			return err
		}
		notifyStateChange(ctx, tx, logger, &oldDef, &newDef, push)
	}

	return RecomputePropertyMeta(tx, logger, msg.PropertyId)
}

// restoreDeficiencyBlobs copies the blob columns from the stored row into an
// event snapshot. The publish path excludes them from the payload, so a
// decoded snapshot always arrives with every blob empty; writing one of those
// empties back would destroy the stored history or photos.
func restoreDeficiencyBlobs(def, stored *models.DeficientItem) {
	def.StateHistoryJSON = stored.StateHistoryJSON
	def.CompletedPhotosJSON = stored.CompletedPhotosJSON
	def.ItemPhotosJSON = stored.ItemPhotosJSON
	def.ItemAdminEditsJSON = stored.ItemAdminEditsJSON
}

func handleStateTransition(ctx context.Context, tx *gorm.DB, logger *logrus.Logger, oldDef, newDef *models.DeficientItem, cards CardService) error {
	if cards == nil {
		return nil
	}

	var integration models.PropertyTrelloIntegration
	if err := tx.Where("property_id = ?", newDef.PropertyId).Take(&integration).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		config.LogError(logger, "deficiencyState.go", "handleStateTransition", "GetTrelloIntegration", newDef.PropertyId, err)
		return err
	}

	cardId := cardIdForDeficiency(&integration, newDef.ID)

	switch {
	case newDef.State == models.DeficiencyStatePending && cardId == "":
		// First transition into pending opens the card.
		return createDeficiencyCard(ctx, tx, logger, &integration, newDef, cards)

	case newDef.State == models.DeficiencyStateClosed && cardId != "":
		if err := cards.MoveCard(ctx, cardId, integration.ClosedListId); err != nil {
			if errors.Is(err, trello.ErrCardNotFound) {
				return cleanupDeletedCard(tx, logger, &integration, cardId, newDef)
			}
			config.LogError(logger, "deficiencyState.go", "handleStateTransition", "MoveCard", cardId, err)
			return err
		}
		return detachCardReference(tx, logger, &integration, cardId, newDef)

	case cardId != "":
		comment := formatStateComment(tx, oldDef, newDef)
		if err := cards.CommentCard(ctx, cardId, comment); err != nil {
			if errors.Is(err, trello.ErrCardNotFound) {
				return cleanupDeletedCard(tx, logger, &integration, cardId, newDef)
			}
			config.LogError(logger, "deficiencyState.go", "handleStateTransition", "CommentCard", cardId, err)
			return err
		}
	}
	return nil
}

func cardIdForDeficiency(integration *models.PropertyTrelloIntegration, deficiencyId string) string {
	for cardId, defId := range integration.Cards() {
		if defId == deficiencyId {
			return cardId
		}
	}
	return ""
}

func createDeficiencyCard(ctx context.Context, tx *gorm.DB, logger *logrus.Logger, integration *models.PropertyTrelloIntegration, def *models.DeficientItem, cards CardService) error {
	if integration.OpenListId == "" {
		return nil
	}

	name := def.ItemTitle
	if def.SectionTitle != "" {
		name = def.SectionTitle + ": " + name
	}
	var desc strings.Builder
	if def.ItemInspectorNotes != "" {
		fmt.Fprintf(&desc, "Inspector notes: %s\n", def.ItemInspectorNotes)
	}
	if def.PlanToFix != "" {
		fmt.Fprintf(&desc, "Plan to fix: %s\n", def.PlanToFix)
	}
	if def.CurrentDueDate != nil {
		fmt.Fprintf(&desc, "Due: %s\n", def.CurrentDueDate.Format("2006-01-02"))
	}

	cardId, cardURL, err := cards.CreateCard(ctx, integration.OpenListId, name, desc.String())
	if err != nil {
		config.LogError(logger, "deficiencyState.go", "createDeficiencyCard", "CreateCard", def.ID, err)
		return err
	}

	cardMap := integration.Cards()
	cardMap[cardId] = def.ID
	integration.SetCards(cardMap)
	if err := tx.Save(integration).Error; err != nil {
		config.LogError(logger, "deficiencyState.go", "createDeficiencyCard", "SaveTrelloIntegration", integration.PropertyId, err)
		return err
	}

	def.TrelloCardURL = cardURL
	if err := tx.Model(&models.DeficientItem{}).Where("id = ?", def.ID).
		Update("trello_card_url", cardURL).Error; err != nil {
		config.LogError(logger, "deficiencyState.go", "createDeficiencyCard", "UpdateDeficientItem", def.ID, err)
		return err
	}
	return nil
}

// detachCardReference drops the bookkeeping for a card that was moved to the
// closed list. The card itself stays on the board.
func detachCardReference(tx *gorm.DB, logger *logrus.Logger, integration *models.PropertyTrelloIntegration, cardId string, def *models.DeficientItem) error {
	cardMap := integration.Cards()
	delete(cardMap, cardId)
	integration.SetCards(cardMap)
	if err := tx.Save(integration).Error; err != nil {
		config.LogError(logger, "deficiencyState.go", "detachCardReference", "SaveTrelloIntegration", integration.PropertyId, err)
		return err
	}
	def.TrelloCardURL = ""
	if err := tx.Model(&models.DeficientItem{}).Where("id = ?", def.ID).
		Update("trello_card_url", "").Error; err != nil {
		config.LogError(logger, "deficiencyState.go", "detachCardReference", "UpdateDeficientItem", def.ID, err)
		return err
	}
	return nil
}

// ClearCardReferences removes every local trace of a card the board no longer
// has: the property's card map entry, the deficiency's card url, and any
// completed-photo attachment markers. Pure so the cascade is testable without
// a database.
func ClearCardReferences(cardMap map[string]string, def *models.DeficientItem, cardId string) {
	delete(cardMap, cardId)
	def.TrelloCardURL = ""
	photos := def.CompletedPhotos()
	changed := false
	for key, photo := range photos {
		if photo.TrelloCardAttachment != "" {
			photo.TrelloCardAttachment = ""
			photos[key] = photo
			changed = true
		}
	}
	if changed {
		def.SetCompletedPhotos(photos)
	}
}

// cleanupDeletedCard is the self-healing path for a 404 from the card service.
// The system clears its references instead of retrying forever against a dead
// card.
func cleanupDeletedCard(tx *gorm.DB, logger *logrus.Logger, integration *models.PropertyTrelloIntegration, cardId string, def *models.DeficientItem) error {
	cardMap := integration.Cards()
	ClearCardReferences(cardMap, def, cardId)
	integration.SetCards(cardMap)

	if err := tx.Save(integration).Error; err != nil {
		config.LogError(logger, "deficiencyState.go", "cleanupDeletedCard", "SaveTrelloIntegration", integration.PropertyId, err)
		return err
	}
	err := tx.Model(&models.DeficientItem{}).Where("id = ?", def.ID).Updates(map[string]interface{}{
		"trello_card_url":       "",
		"completed_photos_json": def.CompletedPhotosJSON,
	}).Error
	if err != nil {
		config.LogError(logger, "deficiencyState.go", "cleanupDeletedCard", "UpdateDeficientItem", def.ID, err)
		return err
	}
	return nil
}

// formatStateComment summarizes a transition for the card trail. Content is
// trusted first-party input and is intentionally not markdown-escaped.
func formatStateComment(tx *gorm.DB, oldDef, newDef *models.DeficientItem) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Deficient item moved from %s to %s", oldDef.State, newDef.State)
	if actor := latestActorLabel(tx, newDef); actor != "" {
		fmt.Fprintf(&sb, " by %s", actor)
	}
	if newDef.PlanToFix != "" {
		fmt.Fprintf(&sb, "\nPlan to fix: %s", newDef.PlanToFix)
	}
	return sb.String()
}

// latestActorLabel resolves the user behind the most recent state history
// entry to "name (email)". Falls back to the raw uid when the user record is
// gone.
func latestActorLabel(tx *gorm.DB, def *models.DeficientItem) string {
	var latest models.StateHistoryEntry
	var found bool
	for _, entry := range def.StateHistory() {
		if !found || entry.CreatedAt > latest.CreatedAt {
			latest = entry
			found = true
		}
	}
	if !found || latest.User == "" {
		return ""
	}

	var user models.User
	if err := tx.Where("id = ?", latest.User).Take(&user).Error; err != nil {
		return latest.User
	}
	name := strings.TrimSpace(user.FirstName + " " + user.LastName)
	if name == "" {
		name = latest.User
	}
	if user.Email != "" {
		return name + " (" + user.Email + ")"
	}
	return name
}

// notifyStateChange fans a push notification out to the property's audience.
// Failures here are logged and swallowed; a lost notification never blocks the
// lifecycle write behind it.
func notifyStateChange(ctx context.Context, tx *gorm.DB, logger *logrus.Logger, oldDef, newDef *models.DeficientItem, push MessagingService) {
	if push == nil {
		return
	}

	var property models.Property
	if err := tx.Where("id = ?", newDef.PropertyId).Take(&property).Error; err != nil {
		config.LogError(logger, "deficiencyState.go", "notifyStateChange", "GetProperty", newDef.PropertyId, err)
		return
	}

	recipients, err := notificationRecipients(tx, newDef.PropertyId)
	if err != nil {
		config.LogError(logger, "deficiencyState.go", "notifyStateChange", "QueryRecipients", newDef.PropertyId, err)
		return
	}
	if len(recipients) == 0 {
		return
	}

	title := fmt.Sprintf("Deficient item update: %s", property.Name)
	body := fmt.Sprintf("%s is now %s (was %s)", newDef.ItemTitle, newDef.State, oldDef.State)

	record := models.Notification{
		Title:      title,
		Summary:    body,
		PropertyId: newDef.PropertyId,
		Creator:    latestActorUid(ctx, newDef),
	}
	if err := tx.Create(&record).Error; err != nil {
		config.LogError(logger, "deficiencyState.go", "notifyStateChange", "CreateNotification", newDef.ID, err)
	}

	var tokens []models.RegistrationToken
	userIds := make([]string, 0, len(recipients))
	for _, u := range recipients {
		if !u.PushOptOut {
			userIds = append(userIds, u.ID)
		}
	}
	if len(userIds) == 0 {
		return
	}
	if err := tx.Where("user_id IN ?", userIds).Find(&tokens).Error; err != nil {
		config.LogError(logger, "deficiencyState.go", "notifyStateChange", "QueryRegistrationTokens", newDef.PropertyId, err)
		return
	}
	if len(tokens) == 0 {
		return
	}
	tokenValues := make([]string, 0, len(tokens))
	for _, t := range tokens {
		tokenValues = append(tokenValues, t.Token)
	}

	_, invalid, err := push.SendToDevice(ctx, tokenValues, messaging.Notification{Title: title, Body: body})
	if err != nil {
		config.LogError(logger, "deficiencyState.go", "notifyStateChange", "SendToDevice", newDef.ID, err)
		return
	}
	if len(invalid) > 0 {
		if err := tx.Where("token IN ?", invalid).Delete(&models.RegistrationToken{}).Error; err != nil {
			config.LogError(logger, "deficiencyState.go", "notifyStateChange", "PruneRegistrationTokens", len(invalid), err)
		}
	}
}

// notificationRecipients is every admin plus every user with access to the
// property, directly or through a team.
func notificationRecipients(tx *gorm.DB, propertyId string) ([]models.User, error) {
	var users []models.User
	if err := tx.Find(&users).Error; err != nil {
		return nil, err
	}
	var out []models.User
	for i := range users {
		u := &users[i]
		if u.Admin || u.Properties()[propertyId] {
			out = append(out, *u)
			continue
		}
		for _, props := range u.Teams() {
			if props[propertyId] {
				out = append(out, *u)
				break
			}
		}
	}
	return out, nil
}

func newHistoryKey() string {
	return uuid.NewString()
}

// latestActorUid resolves who caused the transition: the newest state history
// entry when one exists, otherwise the acting user carried on the context.
func latestActorUid(ctx context.Context, def *models.DeficientItem) string {
	var latest models.StateHistoryEntry
	var found bool
	for _, entry := range def.StateHistory() {
		if !found || entry.CreatedAt > latest.CreatedAt {
			latest = entry
			found = true
		}
	}
	if found {
		return latest.User
	}
	if uid, ok := utils.GetUserIdFromContext(ctx); ok {
		return uid
	}
	return ""
}

// MarkOverdueDeficiencies advances every requires-action-class deficiency past
// its due date into overdue and appends the transition to its history. Used by
// the scheduled reconciliation pass; per-record failures are logged and the
// scan continues.
func MarkOverdueDeficiencies(tx *gorm.DB, logger *logrus.Logger, now time.Time) (SyncStats, error) {
	var stats SyncStats
	var candidates []models.DeficientItem
	err := tx.Where("state IN ? AND current_due_date IS NOT NULL AND current_due_date < ?",
		models.RequiresActionStates, now).Find(&candidates).Error
	if err != nil {
		config.LogError(logger, "deficiencyState.go", "MarkOverdueDeficiencies", "QueryCandidates", nil, err)
		return stats, err
	}

	for i := range candidates {
		def := &candidates[i]
		if def.State == models.DeficiencyStateOverdue {
			continue
		}
		oldObj := *def

		history := def.StateHistory()
		history[newHistoryKey()] = models.StateHistoryEntry{
			State:     models.DeficiencyStateOverdue,
			User:      "system",
			CreatedAt: now.Unix(),
		}
		def.SetStateHistory(history)
		def.State = models.DeficiencyStateOverdue

		updateErr := tx.Model(&models.DeficientItem{}).Where("id = ?", def.ID).Updates(map[string]interface{}{
			"state":              models.DeficiencyStateOverdue,
			"state_history_json": def.StateHistoryJSON,
		}).Error
		if updateErr != nil {
			config.LogError(logger, "deficiencyState.go", "MarkOverdueDeficiencies", "UpdateDeficientItem", def.ID, updateErr)
			stats.Errors++
			continue
		}
		if pubErr := models.PublishChange(context.Background(), tx, def.ID, models.ChangeReferenceTypeDeficientItem, def.PropertyId, def, &oldObj, models.ChangeEventActionUpdate); pubErr != nil {
			config.LogError(logger, "deficiencyState.go", "MarkOverdueDeficiencies", "PublishChange", def.ID, pubErr)
			stats.Errors++
			continue
		}
		stats.Upserts++
	}
	return stats, nil
}
