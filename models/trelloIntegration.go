package models

import (
	"encoding/json"
	"time"
)

// PropertyTrelloIntegration holds a property's board/list configuration plus
// the card -> deficiency membership map. The map is local bookkeeping only;
// the card service owns the cards themselves.
type PropertyTrelloIntegration struct {
	PropertyId   string `gorm:"primaryKey;size:64" json:"property"`
	OpenBoardId  string `gorm:"size:64" json:"open_board"`
	OpenListId   string `gorm:"size:64" json:"open_list"`
	ClosedListId string `gorm:"size:64" json:"closed_list"`
	// CardsJSON materializes {cardId: deficientItemId}.
	CardsJSON []byte    `gorm:"type:blob" json:"-"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (p *PropertyTrelloIntegration) Cards() map[string]string {
	m := map[string]string{}
	if len(p.CardsJSON) > 0 {
		_ = json.Unmarshal(p.CardsJSON, &m)
	}
	if m == nil {
		m = map[string]string{}
	}
	return m
}

func (p *PropertyTrelloIntegration) SetCards(m map[string]string) {
	data, _ := json.Marshal(m)
	p.CardsJSON = data
}
