// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package egress

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/awnumar/memguard"
)

// SecretBackend is the interface for retrieving secrets.
//
// Thread Safety: Implementations must be safe for concurrent use.
type SecretBackend interface {
	// GetSecret retrieves a secret by key.
	//
	// Outputs:
	//   - string: The secret value.
	//   - error: Non-nil if the secret cannot be retrieved (including
	//     ErrSecretNotFound).
	GetSecret(ctx context.Context, key string) (string, error)
}

// EnvBackend reads secrets from environment variables and caches them in
// encrypted memory.
//
// Description:
//
//	Each secret is read from os.Getenv once per TTL window and sealed in a
//	memguard enclave, so the plaintext never sits in an ordinary Go string
//	between calls. GetSecret opens the enclave, copies the value out, and
//	destroys the working buffer. A TTL of 0 disables caching (re-read and
//	re-seal every call).
//
// Thread Safety: Safe for concurrent use via sync.RWMutex.
type EnvBackend struct {
	mu    sync.RWMutex
	cache map[string]sealedSecret
	ttl   time.Duration
}

type sealedSecret struct {
	enclave   *memguard.Enclave // nil marks a confirmed-absent variable
	fetchedAt int64             // Unix milliseconds UTC
}

// NewEnvBackend creates a backend that reads from environment variables.
func NewEnvBackend(ttl time.Duration) *EnvBackend {
	return &EnvBackend{
		cache: make(map[string]sealedSecret),
		ttl:   ttl,
	}
}

// GetSecret retrieves a secret from the environment, using the sealed cache
// when fresh.
//
// Outputs:
//   - string: The secret value.
//   - error: ErrSecretNotFound if the variable is unset or empty.
func (e *EnvBackend) GetSecret(ctx context.Context, key string) (string, error) {
	if ctx.Err() != nil {
		return "", fmt.Errorf("retrieving secret %q: %w", key, ctx.Err())
	}

	now := time.Now().UnixMilli()

	if e.ttl > 0 {
		e.mu.RLock()
		cached, ok := e.cache[key]
		e.mu.RUnlock()
		if ok && time.Duration(now-cached.fetchedAt)*time.Millisecond < e.ttl {
			return openSealed(key, cached.enclave)
		}
	}

	value := os.Getenv(key)
	var sealed *memguard.Enclave
	if value != "" {
		sealed = memguard.NewEnclave([]byte(value))
	}

	if e.ttl > 0 {
		e.mu.Lock()
		e.cache[key] = sealedSecret{enclave: sealed, fetchedAt: now}
		e.mu.Unlock()
	}

	return openSealed(key, sealed)
}

// openSealed decrypts an enclave into a detached string copy.
func openSealed(key string, sealed *memguard.Enclave) (string, error) {
	if sealed == nil {
		return "", fmt.Errorf("secret %q: %w", key, ErrSecretNotFound)
	}
	buf, err := sealed.Open()
	if err != nil {
		return "", fmt.Errorf("opening secret %q: %w", key, err)
	}
	defer buf.Destroy()
	return strings.Clone(buf.String()), nil
}

// SecretManager resolves provider API keys through the configured backend.
//
// Description:
//
//	Currently backed by environment variables only. Provider names map to
//	the conventional key variables (ANTHROPIC_API_KEY and so on).
//
// Thread Safety: Safe for concurrent use (delegates to a concurrent-safe
// backend).
type SecretManager struct {
	backend SecretBackend
}

// providerKeyVars maps reasoning provider names to their API key variables.
var providerKeyVars = map[string]string{
	"anthropic": "ANTHROPIC_API_KEY",
	"openai":    "OPENAI_API_KEY",
	"gemini":    "GEMINI_API_KEY",
}

// NewSecretManager creates a manager with an environment backend.
func NewSecretManager(cacheTTL time.Duration) *SecretManager {
	return &SecretManager{backend: NewEnvBackend(cacheTTL)}
}

// GetSecret retrieves a secret from the configured backend.
func (s *SecretManager) GetSecret(ctx context.Context, key string) (string, error) {
	return s.backend.GetSecret(ctx, key)
}

// APIKey resolves the API key for a reasoning provider. Ollama is local and
// needs no key; it always resolves to the empty string.
func (s *SecretManager) APIKey(ctx context.Context, provider string) (string, error) {
	if provider == "ollama" {
		return "", nil
	}
	key, ok := providerKeyVars[provider]
	if !ok {
		return "", fmt.Errorf("no API key variable known for provider %q: %w", provider, ErrSecretNotFound)
	}
	return s.GetSecret(ctx, key)
}
