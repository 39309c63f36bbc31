// internal/auth/auth.go
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"
	"time"
)

// DefaultExpiration 未指定有效期时的令牌有效期
const DefaultExpiration = 24 * time.Hour

// TokenConfig 令牌签发与校验的配置
type TokenConfig struct {
	Secret     []byte
	Expiration time.Duration
}

// Token 一个已解析的访问令牌
type Token struct {
	UserID    string `json:"user_id"`
	ExpiresAt int64  `json:"expires_at"`
	IssuedAt  int64  `json:"issued_at"`
}

// GenerateToken 为指定用户签发一个HMAC签名的访问令牌
func GenerateToken(userID string, config *TokenConfig) (string, error) {
	if len(config.Secret) == 0 {
		return "", fmt.Errorf("缺少签名密钥")
	}
	if userID == "" {
		return "", fmt.Errorf("缺少用户标识")
	}

	expiration := config.Expiration
	if expiration <= 0 {
		expiration = DefaultExpiration
	}

	now := time.Now()
	payload := fmt.Sprintf("%s|%d|%d", userID, now.Add(expiration).Unix(), now.Unix())

	h := hmac.New(sha256.New, config.Secret)
	h.Write([]byte(payload))
	signature := h.Sum(nil)

	return fmt.Sprintf("%s.%s",
		base64.URLEncoding.EncodeToString([]byte(payload)),
		base64.URLEncoding.EncodeToString(signature)), nil
}

// ParseToken 校验令牌签名与有效期，返回解析后的令牌
func ParseToken(tokenString string, config *TokenConfig) (*Token, error) {
	if len(config.Secret) == 0 {
		return nil, fmt.Errorf("缺少签名密钥")
	}

	parts := strings.Split(tokenString, ".")
	if len(parts) != 2 {
		return nil, fmt.Errorf("令牌格式无效")
	}

	payloadBytes, err := base64.URLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, fmt.Errorf("令牌载荷无效: %w", err)
	}

	signatureBytes, err := base64.URLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("令牌签名无效: %w", err)
	}

	h := hmac.New(sha256.New, config.Secret)
	h.Write(payloadBytes)
	if !hmac.Equal(signatureBytes, h.Sum(nil)) {
		return nil, fmt.Errorf("令牌签名不匹配")
	}

	payloadParts := strings.Split(string(payloadBytes), "|")
	if len(payloadParts) != 3 {
		return nil, fmt.Errorf("令牌载荷格式无效")
	}

	token := &Token{
		UserID:    payloadParts[0],
		ExpiresAt: parseTimestamp(payloadParts[1]),
		IssuedAt:  parseTimestamp(payloadParts[2]),
	}

	if time.Now().Unix() > token.ExpiresAt {
		return nil, fmt.Errorf("令牌已过期")
	}

	return token, nil
}

func parseTimestamp(timestampStr string) int64 {
	var timestamp int64
	fmt.Sscanf(timestampStr, "%d", &timestamp)
	return timestamp
}
