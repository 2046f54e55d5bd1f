package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// PushClient sends notifications through an Expo-compatible push API.
type PushClient struct {
	http    *http.Client
	baseURL string
}

func NewPushClient(baseURL string, timeout time.Duration) *PushClient {
	return &PushClient{
		http:    &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

type pushMessage struct {
	To    string `json:"to"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

type pushTicket struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Details struct {
		Error string `json:"error"`
	} `json:"details"`
}

type pushResponse struct {
	Data []pushTicket `json:"data"`
}

const deviceNotRegistered = "DeviceNotRegistered"

func (c *PushClient) Send(ctx context.Context, tokens []string, title, body string) ([]DeliveryError, error) {
	payload := make([]pushMessage, len(tokens))
	for i, t := range tokens {
		payload[i] = pushMessage{To: t, Title: title, Body: body}
	}
	buf, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/push/send", bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("push provider status %d", resp.StatusCode)
	}

	var pr pushResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return nil, fmt.Errorf("decode push response: %w", err)
	}

	var failures []DeliveryError
	for i, ticket := range pr.Data {
		if i >= len(tokens) || ticket.Status == "ok" {
			continue
		}
		failures = append(failures, DeliveryError{
			Token:  tokens[i],
			Gone:   ticket.Details.Error == deviceNotRegistered,
			Reason: ticket.Message,
		})
	}
	return failures, nil
}
