package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/okellodev/authgate/internal/models"
)

// HTTPClient talks JSON to the upstream identity service.
type HTTPClient struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewHTTPClient creates an HTTPClient for the given base URL.
func NewHTTPClient(baseURL string, timeout time.Duration, logger *slog.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type verifyRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type resendRequest struct {
	Email string `json:"email"`
}

type loginResponse struct {
	RequiresMFA  bool   `json:"requires_mfa"`
	Email        string `json:"email"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type verifyResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// upstreamError mirrors the identity service's error body.
type upstreamError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Login implements Client.Login.
func (c *HTTPClient) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	var resp loginResponse
	if err := c.post(ctx, "/auth/login", loginRequest{Email: email, Password: password}, &resp, classifyLoginError); err != nil {
		return nil, err
	}

	result := &LoginResult{
		RequiresSecondFactor: resp.RequiresMFA,
		Email:                resp.Email,
		AccessToken:          resp.AccessToken,
		RefreshToken:         resp.RefreshToken,
	}
	result.SessionEstablished = !resp.RequiresMFA
	return result, nil
}

// VerifySecondFactor implements Client.VerifySecondFactor.
func (c *HTTPClient) VerifySecondFactor(ctx context.Context, email, code string) (*VerifyResult, error) {
	var resp verifyResponse
	if err := c.post(ctx, "/auth/mfa/verify", verifyRequest{Email: email, Code: code}, &resp, classifyVerifyError); err != nil {
		return nil, err
	}
	return &VerifyResult{AccessToken: resp.AccessToken, RefreshToken: resp.RefreshToken}, nil
}

// ResendSecondFactor implements Client.ResendSecondFactor.
func (c *HTTPClient) ResendSecondFactor(ctx context.Context, email string) error {
	return c.post(ctx, "/auth/mfa/resend", resendRequest{Email: email}, nil, classifyResendError)
}

func (c *HTTPClient) post(ctx context.Context, path string, body, out any, classify func(status int, e upstreamError) error) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("identity service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var ue upstreamError
		if err := json.NewDecoder(resp.Body).Decode(&ue); err != nil {
			c.logger.Warn("unparseable identity service error",
				slog.String("path", path),
				slog.Int("status", resp.StatusCode))
		}
		return classify(resp.StatusCode, ue)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func classifyLoginError(status int, e upstreamError) error {
	switch {
	// Some deployments signal expiry only in the message text.
	case e.Error == "password_expired" || strings.Contains(e.Message, "password has expired"):
		return models.ErrPasswordExpired
	case status == http.StatusUnauthorized:
		return models.ErrInvalidCredentials
	default:
		return fmt.Errorf("login failed with status %d: %w", status, models.ErrInternalServer)
	}
}

func classifyVerifyError(status int, e upstreamError) error {
	if status == http.StatusUnauthorized || e.Error == "invalid_code" {
		return models.ErrInvalidCode
	}
	return fmt.Errorf("verification failed with status %d: %w", status, models.ErrInternalServer)
}

func classifyResendError(status int, _ upstreamError) error {
	return fmt.Errorf("resend failed with status %d: %w", status, models.ErrResendFailed)
}
