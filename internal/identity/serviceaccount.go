package identity

import (
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"os"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTokenURL — OAuth token endpoint Google.
const DefaultTokenURL = "https://oauth2.googleapis.com/token"

// ServiceAccount — ключ сервисного аккаунта Google (JSON из консоли Firebase).
type ServiceAccount struct {
	Type         string `json:"type"`
	ProjectID    string `json:"project_id"`
	PrivateKeyID string `json:"private_key_id"`
	PrivateKey   string `json:"private_key"` //nolint:gosec // G117: JSON-маппинг ключа сервисного аккаунта
	ClientEmail  string `json:"client_email"`
	TokenURI     string `json:"token_uri"`
}

// LoadServiceAccount читает ключ сервисного аккаунта из файла.
func LoadServiceAccount(path string) (*ServiceAccount, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: путь из конфигурации
	if err != nil {
		return nil, fmt.Errorf("чтение ключа сервисного аккаунта: %w", err)
	}
	return ParseServiceAccount(data)
}

// ParseServiceAccount разбирает JSON ключа и проверяет обязательные поля.
func ParseServiceAccount(data []byte) (*ServiceAccount, error) {
	var sa ServiceAccount
	if err := json.Unmarshal(data, &sa); err != nil {
		return nil, fmt.Errorf("разбор ключа сервисного аккаунта: %w", err)
	}
	if sa.ClientEmail == "" || sa.PrivateKey == "" {
		return nil, fmt.Errorf("ключ сервисного аккаунта: client_email и private_key обязательны")
	}
	if sa.TokenURI == "" {
		sa.TokenURI = DefaultTokenURL
	}
	return &sa, nil
}

// signingKey разбирает PEM-ключ (PKCS#1 или PKCS#8).
func (sa *ServiceAccount) signingKey() (*rsa.PrivateKey, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(sa.PrivateKey))
	if err != nil {
		return nil, fmt.Errorf("разбор private_key: %w", err)
	}
	return key, nil
}
