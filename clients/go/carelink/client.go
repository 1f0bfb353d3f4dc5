// Package carelink provides a client for the CareLink portal REST backend.
package carelink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/eldtechnologies/carelink/internal/models"
)

// DefaultBaseURL is used when no backend URL is configured.
const DefaultBaseURL = "http://localhost:5000/api"

// Client is a CareLink API client.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client

	// TokenSource returns the current bearer credential, or "" when the
	// session is unauthenticated.
	TokenSource func() string
}

// NewClient creates a new CareLink client.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// APIError is a non-2xx response. Message is the server-provided text and
// is meant to be shown to the user as is.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("request failed with status %d", e.Status)
}

func (c *Client) token() string {
	if c.TokenSource == nil {
		return ""
	}
	return c.TokenSource()
}

// doRequest performs an HTTP request and returns the response body.
func (c *Client) doRequest(ctx context.Context, method, path string, body io.Reader, contentType string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token := c.token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Message string `json:"message"`
			Error   string `json:"error"`
		}
		json.Unmarshal(respBody, &errResp)
		msg := errResp.Message
		if msg == "" {
			msg = errResp.Error
		}
		return nil, &APIError{Status: resp.StatusCode, Message: msg}
	}

	return respBody, nil
}

// doJSON sends in as JSON (when non-nil) and decodes the response into out (when non-nil).
func (c *Client) doJSON(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}

	respBody, err := c.doRequest(ctx, method, path, body, contentType)
	if err != nil {
		return err
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	return json.Unmarshal(respBody, out)
}

// LoginRequest is the request body for login.
type LoginRequest struct {
	Email    string      `json:"email"`
	Password string      `json:"password"`
	Role     models.Role `json:"role,omitempty"`
}

// RegisterRequest is the request body for registration.
type RegisterRequest struct {
	Name     string      `json:"name"`
	Email    string      `json:"email"`
	Password string      `json:"password"`
	Role     models.Role `json:"role"`
	Phone    string      `json:"phone,omitempty"`
}

// AuthResponse is the response from login and registration.
type AuthResponse struct {
	User  models.Identity `json:"user"`
	Token string          `json:"token"`
}

// Login authenticates with email and password.
func (c *Client) Login(ctx context.Context, req LoginRequest) (*AuthResponse, error) {
	var resp AuthResponse
	if err := c.doJSON(ctx, http.MethodPost, "/auth/login", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Register creates an account and authenticates it.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (*AuthResponse, error) {
	var resp AuthResponse
	if err := c.doJSON(ctx, http.MethodPost, "/auth/register", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreateOrGetChat returns the conversation with a counterpart, creating it if needed.
func (c *Client) CreateOrGetChat(ctx context.Context, counterpartID string) (*models.Chat, error) {
	req := struct {
		ParticipantID string `json:"participantId"`
	}{counterpartID}

	var resp struct {
		Chat models.Chat `json:"chat"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/chat/create", req, &resp); err != nil {
		return nil, err
	}
	if resp.Chat.ID == "" {
		return nil, &APIError{Status: http.StatusBadGateway, Message: "chat id missing from response"}
	}
	return &resp.Chat, nil
}

// GetMessages retrieves the history of a chat, oldest first.
func (c *Client) GetMessages(ctx context.Context, chatID string) ([]models.Message, error) {
	var resp struct {
		Messages []models.Message `json:"messages"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/chat/"+url.PathEscape(chatID)+"/messages", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// MarkRead marks a chat as read for the current user.
func (c *Client) MarkRead(ctx context.Context, chatID string) error {
	return c.doJSON(ctx, http.MethodPut, "/chat/"+url.PathEscape(chatID)+"/read", nil, nil)
}

// ClearHistory clears the current user's copy of a chat.
func (c *Client) ClearHistory(ctx context.Context, chatID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/chat/"+url.PathEscape(chatID)+"/messages", nil, nil)
}

// UploadFile uploads an attachment and returns its stored descriptor.
func (c *Client) UploadFile(ctx context.Context, filename, contentType string, r io.Reader) (*models.Attachment, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	if contentType != "" {
		header.Set("Content-Type", contentType)
	}
	part, err := mw.CreatePart(header)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	respBody, err := c.doRequest(ctx, http.MethodPost, "/chat/upload", &buf, mw.FormDataContentType())
	if err != nil {
		return nil, err
	}

	var resp struct {
		Success bool              `json:"success"`
		File    models.Attachment `json:"file"`
		Message string            `json:"message"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}
	if !resp.Success || resp.File.URL == "" {
		msg := resp.Message
		if msg == "" {
			msg = "upload failed"
		}
		return nil, &APIError{Status: http.StatusBadGateway, Message: msg}
	}
	return &resp.File, nil
}

// HealthResponse is the response from the backend health endpoint.
type HealthResponse struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version,omitempty"`
	Checks    map[string]interface{} `json:"checks,omitempty"`
	Timestamp string                 `json:"timestamp,omitempty"`
}

// Health checks backend health.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.doJSON(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
