package authentication

import (
	"crypto/subtle"
	"encoding/base64"
	"strings"
)

type IBasicAuthService interface {
	ValidateAdmin(username, password string) bool
	DecodeFromHeader(auth string) (string, string)
}

type BasicAuthTConfig struct {
	AdminUsername string

	AdminPassword string
}

type basicAuth struct {
	adminUsername string
	adminPassword string
}

func NewBasicAuthService(config *BasicAuthTConfig) IBasicAuthService {
	if config == nil {
		config = &BasicAuthTConfig{}
	}
	return &basicAuth{
		adminUsername: config.AdminUsername,
		adminPassword: config.AdminPassword,
	}
}

func (b *basicAuth) DecodeFromHeader(auth string) (string, string) {
	encoded := strings.TrimPrefix(auth, "Basic ")

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", ""
	}

	parts := strings.SplitN(string(decoded), ":", 2)
	if len(parts) != 2 {
		return "", ""
	}

	return parts[0], parts[1]
}

// ValidateAdmin compares in constant time. Empty configured credentials never
// match.
func (b *basicAuth) ValidateAdmin(username, password string) bool {
	if b.adminUsername == "" || b.adminPassword == "" {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(b.adminUsername), []byte(username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(b.adminPassword), []byte(password)) == 1
	return userOK && passOK
}
