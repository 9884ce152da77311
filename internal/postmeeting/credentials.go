package postmeeting

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/AnnixInvestments/annix-sub033/internal/recording"
)

// ErrMissingCredentials is returned when no token exists for a user and platform.
var ErrMissingCredentials = errors.New("missing platform credentials")

// CredentialSource resolves the OAuth tokens used against a platform API.
type CredentialSource interface {
	Credentials(ctx context.Context, userID, platform string) (recording.Credentials, error)
}

// StaticCredentials serves one set of tokens per platform regardless of
// user. It is fed from configuration.
type StaticCredentials struct {
	mu     sync.RWMutex
	tokens map[string]recording.Credentials
}

// NewStaticCredentials creates a source from platform → credentials.
// Entries without an access token are ignored.
func NewStaticCredentials(tokens map[string]recording.Credentials) *StaticCredentials {
	s := &StaticCredentials{tokens: make(map[string]recording.Credentials)}
	for platform, c := range tokens {
		s.Set(platform, c)
	}
	return s
}

// Set replaces the credentials for platform.
func (s *StaticCredentials) Set(platform string, c recording.Credentials) {
	if c.AccessToken == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[platform] = c
}

// Credentials implements CredentialSource.
func (s *StaticCredentials) Credentials(_ context.Context, _ string, platform string) (recording.Credentials, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.tokens[platform]
	if !ok {
		return recording.Credentials{}, fmt.Errorf("%w for %s", ErrMissingCredentials, platform)
	}
	return c, nil
}
