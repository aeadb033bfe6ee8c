// Package secrets resolves per-principal provider credentials. Secrets
// live outside the config file, in the process environment or an optional
// .env file, keyed by principal initials:
//
//	DATAHUB_SECRET_JH_CLIENT_ID
//	DATAHUB_SECRET_JH_CLIENT_SECRET
//	DATAHUB_SECRET_JH_REFRESH_TOKEN
//
// Values loaded from the .env file never override the process environment.
package secrets

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// ErrSecretNotFound indicates a requested secret key has no value.
var ErrSecretNotFound = errors.New("secrets: not found")

const keyPrefix = "DATAHUB_SECRET_"

// Credentials is a per-principal OAuth2 client triple.
type Credentials struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
}

// Resolver looks up secrets by key. The zero value resolves from the
// process environment only.
type Resolver struct {
	values map[string]string
}

// NewResolver loads the optional .env file at path. A missing file is not
// an error; the resolver then serves the process environment alone.
func NewResolver(path string) (*Resolver, error) {
	if path == "" {
		return &Resolver{}, nil
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return &Resolver{}, nil
	}

	values, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("secrets: reading %s: %w", path, err)
	}

	return &Resolver{values: values}, nil
}

// Get returns the secret for key, preferring the process environment over
// the .env file.
func (r *Resolver) Get(key string) (string, error) {
	if v := os.Getenv(key); v != "" {
		return v, nil
	}

	if v, ok := r.values[key]; ok && v != "" {
		return v, nil
	}

	return "", fmt.Errorf("%w: %s", ErrSecretNotFound, key)
}

// CredentialsFor resolves the client triple for a principal. All three
// parts must be present; a partial triple is reported as missing so a
// half-configured principal fails loudly rather than with a cryptic
// provider rejection.
func (r *Resolver) CredentialsFor(principal string) (Credentials, error) {
	prefix := keyPrefix + strings.ToUpper(principal) + "_"

	clientID, err := r.Get(prefix + "CLIENT_ID")
	if err != nil {
		return Credentials{}, err
	}

	clientSecret, err := r.Get(prefix + "CLIENT_SECRET")
	if err != nil {
		return Credentials{}, err
	}

	refreshToken, err := r.Get(prefix + "REFRESH_TOKEN")
	if err != nil {
		return Credentials{}, err
	}

	return Credentials{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RefreshToken: refreshToken,
	}, nil
}
