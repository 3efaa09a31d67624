// Package drive is a thin REST client for the Google Drive v3 API surface
// the pipeline needs: folder listing, the changes feed and file download.
package drive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/bizdata-inc/listing-engine/pkg/apperrors"
)

// Client lists folders, follows the changes feed and downloads file content.
type Client interface {
	// ListChildren returns every non-trashed child of folderID, following
	// pagination to exhaustion.
	ListChildren(ctx context.Context, folderID string) ([]Item, error)
	// GetFile fetches metadata for a single file.
	GetFile(ctx context.Context, fileID string) (*Item, error)
	// StartPageToken returns a cursor positioned at "now" for the changes
	// feed.
	StartPageToken(ctx context.Context) (string, error)
	// Changes returns one page of the changes feed. An expired cursor yields
	// apperrors.ErrCursorExpired.
	Changes(ctx context.Context, pageToken string) (*ChangeList, error)
	// Download streams the file content. Files larger than the configured
	// limit yield apperrors.ErrFileTooLarge without transferring the body.
	Download(ctx context.Context, fileID string) (io.ReadCloser, error)
}

// Config configures the REST client. DownloadURL lets media transfers go
// through a separate host; empty means BaseURL serves both.
type Config struct {
	BaseURL     string
	DownloadURL string
	AccessToken string
	PageSize    int
	Timeout     time.Duration
	MaxFileSize int64
}

type client struct {
	http        *http.Client
	baseURL     string
	downloadURL string
	accessToken string
	pageSize    int
	maxFileSize int64
	logger      *zap.Logger
}

// NewClient returns a Client backed by net/http.
func NewClient(cfg Config, logger *zap.Logger) Client {
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 1000
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	downloadURL := cfg.DownloadURL
	if downloadURL == "" {
		downloadURL = cfg.BaseURL
	}
	return &client{
		http:        &http.Client{Timeout: timeout},
		baseURL:     cfg.BaseURL,
		downloadURL: downloadURL,
		accessToken: cfg.AccessToken,
		pageSize:    pageSize,
		maxFileSize: cfg.MaxFileSize,
		logger:      logger.Named("drive"),
	}
}

// apiError carries the HTTP status so retry classification can distinguish
// rate limits and server errors from permanent client errors.
type apiError struct {
	status int
	body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("drive api status %d: %s", e.status, e.body)
}

// IsRetryable reports true for rate limits and server-side failures.
func (e *apiError) IsRetryable() bool {
	return e.status == http.StatusTooManyRequests || e.status >= 500
}

func (c *client) ListChildren(ctx context.Context, folderID string) ([]Item, error) {
	var items []Item
	pageToken := ""
	for {
		q := url.Values{}
		q.Set("q", fmt.Sprintf("'%s' in parents and trashed = false", folderID))
		q.Set("fields", "nextPageToken, files(id, name, mimeType, modifiedTime, size)")
		q.Set("pageSize", strconv.Itoa(c.pageSize))
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}

		var page struct {
			NextPageToken string `json:"nextPageToken"`
			Files         []Item `json:"files"`
		}
		if err := c.getJSON(ctx, "/files?"+q.Encode(), &page); err != nil {
			return nil, fmt.Errorf("list children of %s: %w", folderID, err)
		}

		items = append(items, page.Files...)
		if page.NextPageToken == "" {
			return items, nil
		}
		pageToken = page.NextPageToken
	}
}

func (c *client) GetFile(ctx context.Context, fileID string) (*Item, error) {
	var item Item
	path := fmt.Sprintf("/files/%s?fields=%s", url.PathEscape(fileID),
		url.QueryEscape("id, name, mimeType, modifiedTime, size"))
	if err := c.getJSON(ctx, path, &item); err != nil {
		return nil, fmt.Errorf("get file %s: %w", fileID, err)
	}
	return &item, nil
}

func (c *client) StartPageToken(ctx context.Context) (string, error) {
	var resp struct {
		StartPageToken string `json:"startPageToken"`
	}
	if err := c.getJSON(ctx, "/changes/startPageToken", &resp); err != nil {
		return "", fmt.Errorf("get start page token: %w", err)
	}
	return resp.StartPageToken, nil
}

func (c *client) Changes(ctx context.Context, pageToken string) (*ChangeList, error) {
	q := url.Values{}
	q.Set("pageToken", pageToken)
	q.Set("fields", "nextPageToken, newStartPageToken, changes(fileId, removed, file(id, name, mimeType, modifiedTime, size))")
	q.Set("pageSize", strconv.Itoa(c.pageSize))

	var list ChangeList
	if err := c.getJSON(ctx, "/changes?"+q.Encode(), &list); err != nil {
		return nil, fmt.Errorf("list changes: %w", err)
	}
	return &list, nil
}

func (c *client) Download(ctx context.Context, fileID string) (io.ReadCloser, error) {
	req, err := c.newRequestTo(ctx, c.downloadURL, fmt.Sprintf("/files/%s?alt=media", url.PathEscape(fileID)))
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", fileID, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, fmt.Errorf("download %s: %w", fileID, c.statusError(resp))
	}

	if c.maxFileSize > 0 && resp.ContentLength > c.maxFileSize {
		resp.Body.Close()
		return nil, fmt.Errorf("download %s (%d bytes): %w", fileID, resp.ContentLength, apperrors.ErrFileTooLarge)
	}

	return resp.Body, nil
}

func (c *client) getJSON(ctx context.Context, path string, out any) error {
	req, err := c.newRequest(ctx, path)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.statusError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *client) newRequest(ctx context.Context, path string) (*http.Request, error) {
	return c.newRequestTo(ctx, c.baseURL, path)
}

func (c *client) newRequestTo(ctx context.Context, base, path string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *client) statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	switch resp.StatusCode {
	case http.StatusNotFound:
		return apperrors.ErrNotFound
	case http.StatusGone:
		return apperrors.ErrCursorExpired
	}
	return &apiError{status: resp.StatusCode, body: string(body)}
}
