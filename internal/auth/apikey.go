package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

const (
	apiKeyPrefixLength = 10
	apiKeySecretLength = 48
	apiKeyPrefix       = "mr-"
	alphabet           = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

var ErrMalformedToken = errors.New("malformed api key token")

// GenerateAPIKey returns the random prefix, secret, and encoded token for a new API key.
func GenerateAPIKey() (string, string, string, error) {
	prefix, err := randomString(apiKeyPrefixLength)
	if err != nil {
		return "", "", "", err
	}
	secret, err := randomString(apiKeySecretLength)
	if err != nil {
		return "", "", "", err
	}
	token := fmt.Sprintf("%s%s.%s", apiKeyPrefix, prefix, secret)
	return prefix, secret, token, nil
}

// ParseToken splits an encoded token into its prefix and secret parts.
func ParseToken(token string) (string, string, error) {
	raw, ok := strings.CutPrefix(token, apiKeyPrefix)
	if !ok {
		return "", "", ErrMalformedToken
	}
	prefix, secret, ok := strings.Cut(raw, ".")
	if !ok || prefix == "" || secret == "" {
		return "", "", ErrMalformedToken
	}
	return prefix, secret, nil
}

func randomString(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("length must be positive")
	}
	out := make([]byte, length)
	max := big.NewInt(int64(len(alphabet)))
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = alphabet[n.Int64()]
	}
	return string(out), nil
}
