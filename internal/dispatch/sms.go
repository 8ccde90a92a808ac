package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// SMSDispatcher talks to the SMS gateway HTTP API.
type SMSDispatcher struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewSMSDispatcher(baseURL, apiKey string, timeout time.Duration, logger *slog.Logger) *SMSDispatcher {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &SMSDispatcher{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger.With("component", "dispatch.sms"),
	}
}

type smsRequest struct {
	To   string `json:"to"`
	From string `json:"from,omitempty"`
	Body string `json:"body"`
}

type smsResponse struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

type smsErrorResponse struct {
	Error string `json:"error"`
}

// Send delivers one SMS through the gateway.
func (d *SMSDispatcher) Send(ctx context.Context, msg *Message) error {
	resp, err := d.request(ctx, &smsRequest{
		To:   msg.To.Address,
		From: msg.FromName,
		Body: msg.Body,
	})
	if err != nil {
		return err
	}
	d.logger.Debug("sms dispatched", "to", msg.To.Address, "message_id", resp.MessageID)
	return nil
}

// request performs an HTTP request to the gateway API
func (d *SMSDispatcher) request(ctx context.Context, body *smsRequest) (*smsResponse, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/v1/messages", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+d.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp smsErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
			return nil, fmt.Errorf("gateway HTTP %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("gateway error: %s", errResp.Error)
	}

	var out smsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}
