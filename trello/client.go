package trello

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// ErrCardNotFound marks a 404 from the card API. Callers treat it as "the
// card was deleted on the board" and cascade-clear their local references.
var ErrCardNotFound = errors.New("trello: card not found")

type Client struct {
	baseURL string
	key     string
	token   string
	http    *http.Client
}

func NewClientFromEnv() (*Client, error) {
	key := strings.TrimSpace(os.Getenv("TRELLO_API_KEY"))
	token := strings.TrimSpace(os.Getenv("TRELLO_API_TOKEN"))
	if key == "" || token == "" {
		return nil, errors.New("trello api key or token is empty")
	}
	baseURL := strings.TrimSpace(os.Getenv("TRELLO_API_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://api.trello.com/1"
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		key:     key,
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (c *Client) CreateCard(ctx context.Context, listId, name, description string) (cardId, cardURL string, err error) {
	params := url.Values{}
	params.Set("idList", listId)
	params.Set("name", name)
	params.Set("desc", description)

	body, err := c.do(ctx, http.MethodPost, "/cards", params)
	if err != nil {
		return "", "", err
	}
	var card Card
	if err := json.Unmarshal(body, &card); err != nil {
		return "", "", err
	}
	return card.ID, card.ShortURL, nil
}

func (c *Client) MoveCard(ctx context.Context, cardId, listId string) error {
	params := url.Values{}
	params.Set("idList", listId)
	_, err := c.do(ctx, http.MethodPut, "/cards/"+cardId, params)
	return err
}

func (c *Client) CommentCard(ctx context.Context, cardId, text string) error {
	params := url.Values{}
	params.Set("text", text)
	_, err := c.do(ctx, http.MethodPost, "/cards/"+cardId+"/actions/comments", params)
	return err
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	params.Set("key", c.key)
	params.Set("token", c.token)
	endpoint := c.baseURL + path + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrCardNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("trello api error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}
