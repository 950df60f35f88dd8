/**
 * @description
 * This package provides a client for the archive-service, which owns the
 * stored paper files. The points-service never serves file bytes itself: once
 * a download grant is consumed it asks the archive-service for a short-lived
 * signed URL and hands that back to the caller.
 *
 * @dependencies
 * - context, encoding/json, fmt, net/http, time: Standard Go libraries.
 */
package archiveclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"
)

// Client is a client for the archive-service API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new archive-service client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SignedURLResponse is the expected response from the signed-URL endpoint.
type SignedURLResponse struct {
	Data struct {
		URL       string    `json:"url"`
		ExpiresAt time.Time `json:"expires_at"`
	} `json:"data"`
}

// ErrorResponse represents an error from the archive-service API.
type ErrorResponse struct {
	Errors []struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
		Status string `json:"status"`
	} `json:"errors"`
}

func (e *ErrorResponse) Error() string {
	if len(e.Errors) > 0 {
		return fmt.Sprintf("archive api error: %s - %s", e.Errors[0].Title, e.Errors[0].Detail)
	}
	return "unknown archive api error"
}

// GetSignedDownloadURL asks the archive-service for a short-lived signed URL
// for the given file key.
func (c *Client) GetSignedDownloadURL(ctx context.Context, fileKey string) (*SignedURLResponse, error) {
	endpoint := c.BaseURL + "/api/v1/files/" + url.PathEscape(fileKey) + "/signed-url"

	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create signed url request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Internal-API-Key", c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute signed url request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read signed url response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp ErrorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
			log.Printf("level=warn component=archive_client op=signed_url file_key=%s status=%d msg=\"non-2xx response (unparsable error body)\"", fileKey, resp.StatusCode)
			return nil, fmt.Errorf("failed to decode error response (status %d)", resp.StatusCode)
		}
		log.Printf("level=warn component=archive_client op=signed_url file_key=%s status=%d title=%q detail=%q", fileKey, resp.StatusCode, firstErrorTitle(errResp), firstErrorDetail(errResp))
		return nil, &errResp
	}

	var successResp SignedURLResponse
	if err := json.Unmarshal(bodyBytes, &successResp); err != nil {
		return nil, fmt.Errorf("failed to decode signed url response: %w", err)
	}

	return &successResp, nil
}

func firstErrorTitle(resp ErrorResponse) string {
	if len(resp.Errors) == 0 {
		return ""
	}
	return resp.Errors[0].Title
}

func firstErrorDetail(resp ErrorResponse) string {
	if len(resp.Errors) == 0 {
		return ""
	}
	return resp.Errors[0].Detail
}
