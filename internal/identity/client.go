// Пакет identity — HTTP-клиент Firebase Identity Toolkit.
// Получает access token сервисного аккаунта через JWT-bearer grant
// и управляет custom claims пользователей.
package identity

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Ошибки клиента.
var (
	// ErrUserNotFound — пользователь с таким email не зарегистрирован.
	ErrUserNotFound = errors.New("пользователь не найден")
)

// Scope токена сервисного аккаунта.
const tokenScope = "https://www.googleapis.com/auth/identitytoolkit https://www.googleapis.com/auth/cloud-platform"

// APIError — ошибка Identity Toolkit или token endpoint.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("identity API: статус %d: %s", e.StatusCode, e.Message)
}

// User — учётная запись Firebase Auth.
type User struct {
	UID    string
	Email  string
	Claims map[string]any
}

// IsAdmin сообщает, установлен ли claim admin: true.
func (u *User) IsAdmin() bool {
	v, ok := u.Claims["admin"].(bool)
	return ok && v
}

// tokenInfo — закэшированный access token с временем истечения.
type tokenInfo struct {
	accessToken string
	expiresAt   time.Time
}

// Client — клиент Identity Toolkit.
type Client struct {
	httpClient *http.Client
	baseURL    string
	projectID  string
	sa         *ServiceAccount
	key        *rsa.PrivateKey
	logger     *slog.Logger
	now        func() time.Time

	// Кэш access token (thread-safe)
	mu    sync.RWMutex
	token *tokenInfo
}

// New создаёт клиент Identity Toolkit.
// baseURL — например, https://identitytoolkit.googleapis.com.
func New(baseURL, projectID string, sa *ServiceAccount, timeout time.Duration, logger *slog.Logger) (*Client, error) {
	key, err := sa.signingKey()
	if err != nil {
		return nil, err
	}
	if projectID == "" {
		projectID = sa.ProjectID
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		projectID:  projectID,
		sa:         sa,
		key:        key,
		logger:     logger.With(slog.String("component", "identity_client")),
		now:        time.Now,
	}, nil
}

// GetToken возвращает access token сервисного аккаунта.
// Токен кэшируется до момента exp - 30s.
func (c *Client) GetToken(ctx context.Context) (string, error) {
	c.mu.RLock()
	if c.token != nil && c.now().Before(c.token.expiresAt) {
		token := c.token.accessToken
		c.mu.RUnlock()
		return token, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	// Double-check после получения write lock
	if c.token != nil && c.now().Before(c.token.expiresAt) {
		return c.token.accessToken, nil
	}

	return c.requestToken(ctx)
}

// requestToken обменивает подписанный JWT на access token.
// Вызывается под write lock.
func (c *Client) requestToken(ctx context.Context) (string, error) {
	now := c.now()
	claims := jwt.MapClaims{
		"iss":   c.sa.ClientEmail,
		"scope": tokenScope,
		"aud":   c.sa.TokenURI,
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	}
	assertion := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if c.sa.PrivateKeyID != "" {
		assertion.Header["kid"] = c.sa.PrivateKeyID
	}
	signed, err := assertion.SignedString(c.key)
	if err != nil {
		return "", fmt.Errorf("подпись JWT сервисного аккаунта: %w", err)
	}

	data := url.Values{
		"grant_type": {"urn:ietf:params:oauth:grant-type:jwt-bearer"},
		"assertion":  {signed},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.sa.TokenURI, strings.NewReader(data.Encode()))
	if err != nil {
		return "", fmt.Errorf("создание запроса token: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req) //nolint:gosec // G704: URL из ключа сервисного аккаунта
	if err != nil {
		return "", fmt.Errorf("запрос token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}

	var tokenResp struct {
		Token     string `json:"access_token"` //nolint:gosec // G117: JSON-маппинг OAuth2 ответа
		ExpiresIn int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", fmt.Errorf("декодирование token response: %w", err)
	}
	if tokenResp.Token == "" {
		return "", fmt.Errorf("пустой access_token в ответе token endpoint")
	}

	// Кэшируем токен (с запасом 30 секунд до истечения)
	c.token = &tokenInfo{
		accessToken: tokenResp.Token,
		expiresAt:   now.Add(time.Duration(tokenResp.ExpiresIn)*time.Second - 30*time.Second),
	}

	c.logger.Debug("Access token сервисного аккаунта получен",
		slog.Int("expires_in", tokenResp.ExpiresIn),
	)
	return tokenResp.Token, nil
}

// LookupByEmail ищет пользователя по email.
// POST /v1/projects/{project}/accounts:lookup
func (c *Client) LookupByEmail(ctx context.Context, email string) (*User, error) {
	var resp struct {
		Users []struct {
			LocalID          string `json:"localId"`
			Email            string `json:"email"`
			CustomAttributes string `json:"customAttributes"`
		} `json:"users"`
	}
	if err := c.call(ctx, "accounts:lookup", map[string]any{"email": []string{email}}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Users) == 0 {
		return nil, ErrUserNotFound
	}

	u := resp.Users[0]
	claims := map[string]any{}
	if u.CustomAttributes != "" {
		if err := json.Unmarshal([]byte(u.CustomAttributes), &claims); err != nil {
			return nil, fmt.Errorf("разбор customAttributes пользователя %s: %w", u.LocalID, err)
		}
	}
	return &User{UID: u.LocalID, Email: u.Email, Claims: claims}, nil
}

// SetCustomClaims заменяет custom claims пользователя целиком.
// POST /v1/projects/{project}/accounts:update
func (c *Client) SetCustomClaims(ctx context.Context, uid string, claims map[string]any) error {
	attrs, err := json.Marshal(claims)
	if err != nil {
		return fmt.Errorf("сериализация claims: %w", err)
	}
	return c.call(ctx, "accounts:update", map[string]any{
		"localId":          uid,
		"customAttributes": string(attrs),
	}, nil)
}

// SetAdmin ищет пользователя по email и устанавливает (admin=true)
// или снимает claim admin, сохраняя остальные claims.
func (c *Client) SetAdmin(ctx context.Context, email string, admin bool) (*User, error) {
	user, err := c.LookupByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if admin {
		user.Claims["admin"] = true
	} else {
		delete(user.Claims, "admin")
	}
	if err := c.SetCustomClaims(ctx, user.UID, user.Claims); err != nil {
		return nil, err
	}
	c.logger.Info("Custom claims обновлены",
		slog.String("uid", user.UID),
		slog.Bool("admin", admin),
	)
	return user, nil
}

// call выполняет авторизованный POST к Identity Toolkit.
func (c *Client) call(ctx context.Context, method string, body, target any) error {
	reqURL := fmt.Sprintf("%s/v1/projects/%s/%s", c.baseURL, url.PathEscape(c.projectID), method)

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("сериализация запроса %s: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("создание запроса %s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	token, err := c.GetToken(ctx)
	if err != nil {
		return fmt.Errorf("получение токена для %s: %w", method, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req) //nolint:gosec // G704: URL из конфигурации
	if err != nil {
		return fmt.Errorf("запрос %s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		if resp.StatusCode == http.StatusUnauthorized {
			c.invalidateToken()
		}
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
	}
	if target == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("декодирование ответа %s: %w", method, err)
	}
	return nil
}

func (c *Client) invalidateToken() {
	c.mu.Lock()
	c.token = nil
	c.mu.Unlock()
}
