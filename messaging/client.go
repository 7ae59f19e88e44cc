package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// Notification is the visible payload of one push delivery.
type Notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Icon  string `json:"icon,omitempty"`
}

type Client struct {
	baseURL   string
	serverKey string
	http      *http.Client
}

func NewClientFromEnv() (*Client, error) {
	serverKey := strings.TrimSpace(os.Getenv("PUSH_SERVER_KEY"))
	if serverKey == "" {
		return nil, errors.New("push server key is empty")
	}
	baseURL := strings.TrimSpace(os.Getenv("PUSH_API_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://fcm.googleapis.com"
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		serverKey: serverKey,
		http:      &http.Client{Timeout: 30 * time.Second},
	}, nil
}

type sendRequest struct {
	RegistrationIds []string     `json:"registration_ids"`
	Notification    Notification `json:"notification"`
}

type sendResponse struct {
	MulticastId int64 `json:"multicast_id"`
	Results     []struct {
		Error string `json:"error"`
	} `json:"results"`
}

// SendToDevice delivers one notification to a batch of device tokens. The
// returned invalid slice lists tokens the provider reported stale; callers
// prune those from their registries. Partial delivery is not an error.
func (c *Client) SendToDevice(ctx context.Context, tokens []string, note Notification) (deliveryId string, invalid []string, err error) {
	if len(tokens) == 0 {
		return "", nil, nil
	}

	payload, err := json.Marshal(sendRequest{RegistrationIds: tokens, Notification: note})
	if err != nil {
		return "", nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/fcm/send", bytes.NewReader(payload))
	if err != nil {
		return "", nil, err
	}
	req.Header.Set("Authorization", "key="+c.serverKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", nil, fmt.Errorf("push api error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed sendResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", nil, err
	}
	for i, result := range parsed.Results {
		if i >= len(tokens) {
			break
		}
		switch result.Error {
		case "NotRegistered", "InvalidRegistration", "MismatchSenderId":
			invalid = append(invalid, tokens[i])
		}
	}
	return strconv.FormatInt(parsed.MulticastId, 10), invalid, nil
}
