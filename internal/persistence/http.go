// Package persistence hands committed imports to a trade store.
//
// Every adapter implements the same contract: it receives the original
// filename and the analyzed trades, stores them atomically and reports how
// many trades were inserted.
package persistence

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"trade-import-service/internal/models"
	"trade-import-service/pkg/errors"
	"trade-import-service/pkg/logger"
)

// CommitRequest is the body POSTed to the import endpoint.
type CommitRequest struct {
	Filename string                  `json:"filename"`
	Trades   []models.CanonicalTrade `json:"trades"`
}

// CommitResponse is the body returned by the import endpoint.
type CommitResponse struct {
	InsertedCount int `json:"inserted_count"`
}

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 64 * 1024

// HTTPCommitter posts imports to a remote endpoint with a bearer token.
type HTTPCommitter struct {
	endpoint string
	token    string
	client   *http.Client
	now      func() time.Time
	logger   logger.Logger
}

// HTTPOption configures an HTTPCommitter.
type HTTPOption func(*HTTPCommitter)

// WithHTTPClient replaces the default client.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(h *HTTPCommitter) { h.client = client }
}

// WithClock replaces the clock used for the token expiry check.
func WithClock(now func() time.Time) HTTPOption {
	return func(h *HTTPCommitter) { h.now = now }
}

// NewHTTPCommitter creates a committer for endpoint. token may be empty.
func NewHTTPCommitter(endpoint, token string, opts ...HTTPOption) *HTTPCommitter {
	h := &HTTPCommitter{
		endpoint: endpoint,
		token:    strings.TrimSpace(token),
		client:   &http.Client{Timeout: 60 * time.Second},
		now:      time.Now,
		logger:   logger.GetGlobalLogger().WithComponent("http_committer"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Commit implements the import wire contract. An expired JWT fails before any
// request is sent; a 401 response fails the same way.
func (h *HTTPCommitter) Commit(ctx context.Context, filename string, trades []models.CanonicalTrade) (int, error) {
	if h.token != "" && TokenExpired(h.token, h.now()) {
		h.logger.Warn("Bearer token expired, not sending import")
		return 0, errors.AuthExpiredError(h.endpoint, nil)
	}

	body, err := json.Marshal(CommitRequest{Filename: filename, Trades: trades})
	if err != nil {
		return 0, errors.InternalError(errors.CodeUnexpectedError, "encode_commit_request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, errors.PersistenceError(errors.CodeConnectionFailed, h.endpoint, 0, "", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	h.logger.WithFields(logger.Fields{
		"endpoint": h.endpoint,
		"filename": filename,
		"trades":   len(trades),
	}).Debug("Posting import")

	resp, err := h.client.Do(req)
	if err != nil {
		return 0, errors.PersistenceError(errors.CodeConnectionFailed, h.endpoint, 0, "", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return 0, errors.AuthExpiredError(h.endpoint, nil)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		detail := readErrorDetail(resp.Body)
		h.logger.WithFields(logger.Fields{
			"status": resp.StatusCode,
			"detail": detail,
		}).Warn("Import rejected by server")
		return 0, errors.PersistenceError(errors.CodeServerError, h.endpoint, resp.StatusCode, detail, nil)
	}

	var out CommitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, errors.PersistenceError(errors.CodeInvalidResponse, h.endpoint, resp.StatusCode, "", err)
	}
	return out.InsertedCount, nil
}

// readErrorDetail extracts the server's message from an error body. JSON
// bodies with an "error" or "message" string use that; anything else is
// returned as trimmed text.
func readErrorDetail(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil {
		return ""
	}

	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &payload) == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	return strings.TrimSpace(string(data))
}

// String returns a description for logs.
func (h *HTTPCommitter) String() string {
	return fmt.Sprintf("http(%s)", h.endpoint)
}
