// Package pairtoken issues the one-time tokens that let a phone claim its
// first session. A token is minted when the desktop page renders the mobile
// URL, lives for a couple of minutes, and is consumed exactly once.
package pairtoken

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const defaultTokenExpiry = 2 * time.Minute

var (
	ErrExpired  = errors.New("pairing token expired")
	ErrConsumed = errors.New("pairing token already used")
	ErrInvalid  = errors.New("pairing token invalid")
)

var (
	secret []byte
	store  = &consumedStore{tokens: make(map[string]time.Time)}
)

type consumedStore struct {
	mu     sync.Mutex
	tokens map[string]time.Time
}

type claims struct {
	jwt.RegisteredClaims
}

// SetSecret installs the signing key. The server generates a fresh random
// secret per process; pairing tokens do not survive a restart.
func SetSecret(s []byte) {
	secret = s
}

func RandomSecret() []byte {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("pairtoken: crypto/rand unavailable: %v", err))
	}
	return buf
}

func StartCleanup(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for range ticker.C {
			cleanup()
		}
	}()
}

// Generate mints a new one-time token and its absolute expiry.
func Generate() (string, time.Time, error) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return "", time.Time{}, err
	}

	expiresAt := time.Now().Add(defaultTokenExpiry)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        hex.EncodeToString(nonce),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	})

	signed, err := token.SignedString(signingKey())
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Consume validates the token and marks it used. The check-and-mark is atomic
// so two racing requests cannot both claim the same token.
func Consume(tokenString string) error {
	parsed, err := jwt.ParseWithClaims(tokenString, &claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return signingKey(), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrExpired
		}
		return ErrInvalid
	}

	cl, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid || cl.ID == "" {
		return ErrInvalid
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if _, used := store.tokens[cl.ID]; used {
		return ErrConsumed
	}
	store.tokens[cl.ID] = time.Now()
	return nil
}

func cleanup() {
	store.mu.Lock()
	defer store.mu.Unlock()
	threshold := time.Now().Add(-2 * defaultTokenExpiry)
	for id, usedAt := range store.tokens {
		if usedAt.Before(threshold) {
			delete(store.tokens, id)
		}
	}
}

func signingKey() []byte {
	if len(secret) == 0 {
		secret = RandomSecret()
	}
	return secret
}
