package trello

// Card is the subset of the card resource the workflows need.
type Card struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ShortURL string `json:"shortUrl"`
	IDList   string `json:"idList"`
	Closed   bool   `json:"closed"`
}
