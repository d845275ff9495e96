package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"callsync/internal/domain"
	apperrors "callsync/pkg/errors"
)

// HTTPAPI talks to the relay's notification REST endpoints
type HTTPAPI struct {
	baseURL string
	selfID  uuid.UUID
	client  *http.Client
}

func NewHTTPAPI(baseURL string, selfID uuid.UUID) *HTTPAPI {
	return &HTTPAPI{
		baseURL: baseURL,
		selfID:  selfID,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (a *HTTPAPI) FetchSince(ctx context.Context, since time.Time) ([]domain.Notification, error) {
	u := fmt.Sprintf("%s/api/v1/notifications?since=%s", a.baseURL, url.QueryEscape(since.UTC().Format(time.RFC3339)))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	a.identify(req)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, apperrors.TransportError("failed to fetch notifications", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.TransportError(fmt.Sprintf("notification fetch returned %d", resp.StatusCode), nil)
	}

	var out struct {
		Notifications []domain.Notification `json:"notifications"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, apperrors.MalformedPayloadError(err)
	}
	return out.Notifications, nil
}

func (a *HTTPAPI) Fetch(ctx context.Context, id uuid.UUID) (domain.Notification, error) {
	u := fmt.Sprintf("%s/api/v1/notifications/%s", a.baseURL, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return domain.Notification{}, err
	}
	a.identify(req)

	resp, err := a.client.Do(req)
	if err != nil {
		return domain.Notification{}, apperrors.TransportError("failed to fetch notification", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.Notification{}, apperrors.TransportError(fmt.Sprintf("notification fetch returned %d", resp.StatusCode), nil)
	}

	var n domain.Notification
	if err := json.NewDecoder(resp.Body).Decode(&n); err != nil {
		return domain.Notification{}, apperrors.MalformedPayloadError(err)
	}
	return n, nil
}

func (a *HTTPAPI) MarkRead(ctx context.Context, ids []uuid.UUID) error {
	body, err := json.Marshal(map[string][]uuid.UUID{"notification_ids": ids})
	if err != nil {
		return err
	}

	u := a.baseURL + "/api/v1/notifications/read"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	a.identify(req)

	resp, err := a.client.Do(req)
	if err != nil {
		return apperrors.TransportError("failed to mark notifications read", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return apperrors.TransportError(fmt.Sprintf("mark read returned %d", resp.StatusCode), nil)
	}
	return nil
}

func (a *HTTPAPI) identify(req *http.Request) {
	req.Header.Set("X-User-ID", a.selfID.String())
}
