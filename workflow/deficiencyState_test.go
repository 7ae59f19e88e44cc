package workflow

import (
	"encoding/json"
	"testing"

	"github.com/proplens/inspections_backend/models"
)

func TestClearCardReferences_FullCascade(t *testing.T) {
	cardMap := map[string]string{
		"card-1": "def-1",
		"card-2": "def-2",
	}
	def := &models.DeficientItem{
		ID:            "def-1",
		TrelloCardURL: "https://trello.com/c/abc123",
	}
	def.SetCompletedPhotos(map[string]models.CompletedPhoto{
		"photo-1": {DownloadURL: "https://storage/photo-1.jpg", TrelloCardAttachment: "att-1"},
		"photo-2": {DownloadURL: "https://storage/photo-2.jpg"},
	})

	ClearCardReferences(cardMap, def, "card-1")

	if _, ok := cardMap["card-1"]; ok {
		t.Fatal("card map entry must be removed")
	}
	if _, ok := cardMap["card-2"]; !ok {
		t.Fatal("unrelated card map entries must survive")
	}
	if def.TrelloCardURL != "" {
		t.Fatalf("card url must be cleared, got %q", def.TrelloCardURL)
	}

	photos := def.CompletedPhotos()
	if photos["photo-1"].TrelloCardAttachment != "" {
		t.Fatal("attachment references must be cleared")
	}
	if photos["photo-1"].DownloadURL != "https://storage/photo-1.jpg" {
		t.Fatal("photo itself must survive the cascade")
	}
}

// Change-event payloads exclude the blob columns, so a decoded snapshot
// arrives with empty history and photos. The handler must restore them from
// the stored row before the card cascade, or the cascade's photo write wipes
// every stored completed photo.
func TestRestoreDeficiencyBlobs_CardCascadeKeepsStoredPhotos(t *testing.T) {
	stored := &models.DeficientItem{
		ID:            "def-1",
		PropertyId:    "prop-1",
		State:         models.DeficiencyStatePending,
		TrelloCardURL: "https://trello.com/c/abc123",
	}
	stored.SetCompletedPhotos(map[string]models.CompletedPhoto{
		"photo-1": {DownloadURL: "https://storage/photo-1.jpg", TrelloCardAttachment: "att-1"},
		"photo-2": {DownloadURL: "https://storage/photo-2.jpg"},
	})
	stored.SetStateHistory(map[string]models.StateHistoryEntry{
		"hist-1": {State: models.DeficiencyStatePending, User: "user-1", CreatedAt: 100},
	})

	// Round-trip through the event codec the way the outbox does.
	payload, err := json.Marshal(stored)
	if err != nil {
		t.Fatal(err)
	}
	var snapshot models.DeficientItem
	if err := json.Unmarshal(payload, &snapshot); err != nil {
		t.Fatal(err)
	}
	if len(snapshot.CompletedPhotosJSON) != 0 || len(snapshot.StateHistoryJSON) != 0 {
		t.Fatal("event payloads must not carry the blob columns")
	}

	restoreDeficiencyBlobs(&snapshot, stored)
	ClearCardReferences(map[string]string{"card-1": "def-1"}, &snapshot, "card-1")

	photos := snapshot.CompletedPhotos()
	if len(photos) != 2 {
		t.Fatalf("stored photos must survive the cascade, got %d", len(photos))
	}
	if photos["photo-1"].TrelloCardAttachment != "" {
		t.Fatal("attachment reference must be cleared")
	}
	if photos["photo-1"].DownloadURL != "https://storage/photo-1.jpg" ||
		photos["photo-2"].DownloadURL != "https://storage/photo-2.jpg" {
		t.Fatal("photo download urls must survive the cascade")
	}
	if len(snapshot.StateHistory()) != 1 {
		t.Fatal("stored state history must be visible to the comment trail")
	}
}

func TestClearCardReferences_NoAttachmentsKeepsPhotoBlob(t *testing.T) {
	def := &models.DeficientItem{ID: "def-1", TrelloCardURL: "https://trello.com/c/abc123"}

	ClearCardReferences(map[string]string{}, def, "card-unknown")
	if def.TrelloCardURL != "" {
		t.Fatal("card url must be cleared even when the map has no entry")
	}
	if len(def.CompletedPhotosJSON) != 0 {
		t.Fatal("an empty photo set must not be materialized")
	}
}
