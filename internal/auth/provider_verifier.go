package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const defaultUserinfoTimeout = 10 * time.Second

var (
	// ErrInvalidProviderConfig indicates a misconfigured verifier.
	ErrInvalidProviderConfig = errors.New("auth: invalid provider verifier config")
	// ErrProviderRejected indicates the provider did not accept the token.
	ErrProviderRejected = errors.New("auth: provider rejected token")

	errMissingUserinfoURL   = errors.New("userinfo url configuration required")
	errMissingProviderToken = errors.New("provider token must not be empty")
	errMissingProviderUID   = errors.New("provider response missing user id")
)

// Profile is the identity the upstream OAuth provider vouches for.
type Profile struct {
	UID         string
	DisplayName string
	AvatarURL   string
}

// ProviderVerifierConfig bundles configuration for the userinfo-based
// verifier.
type ProviderVerifierConfig struct {
	UserinfoURL string
	HTTPClient  *http.Client
	Logger      *zap.Logger
}

// ProviderVerifier resolves an opaque provider access token to a user
// profile by calling the provider's userinfo endpoint. The provider itself
// (OSM OAuth in the reference deployment) is a black box.
type ProviderVerifier struct {
	userinfoURL string
	httpClient  *http.Client
	logger      *zap.Logger
}

// NewProviderVerifier constructs a verifier with validated configuration.
func NewProviderVerifier(cfg ProviderVerifierConfig) (*ProviderVerifier, error) {
	userinfoURL := strings.TrimSpace(cfg.UserinfoURL)
	if userinfoURL == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProviderConfig, errMissingUserinfoURL)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultUserinfoTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProviderVerifier{
		userinfoURL: userinfoURL,
		httpClient:  httpClient,
		logger:      logger,
	}, nil
}

type userinfoPayload struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
}

// Verify exchanges the provider access token for the profile it belongs to.
func (v *ProviderVerifier) Verify(ctx context.Context, providerToken string) (Profile, error) {
	token := strings.TrimSpace(providerToken)
	if token == "" {
		return Profile{}, errMissingProviderToken
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, v.userinfoURL, nil)
	if err != nil {
		return Profile{}, err
	}
	request.Header.Set("Authorization", "Bearer "+token)
	request.Header.Set("Accept", "application/json")

	response, err := v.httpClient.Do(request)
	if err != nil {
		v.logger.Warn("userinfo request failed", zap.Error(err))
		return Profile{}, err
	}
	defer response.Body.Close()

	if response.StatusCode == http.StatusUnauthorized || response.StatusCode == http.StatusForbidden {
		return Profile{}, ErrProviderRejected
	}
	if response.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(response.Body, 512))
		v.logger.Warn("unexpected userinfo status",
			zap.Int("status", response.StatusCode),
			zap.ByteString("body", body))
		return Profile{}, fmt.Errorf("auth: unexpected userinfo status %d", response.StatusCode)
	}

	var payload userinfoPayload
	if err := json.NewDecoder(io.LimitReader(response.Body, 1<<20)).Decode(&payload); err != nil {
		return Profile{}, fmt.Errorf("auth: decoding userinfo response: %w", err)
	}
	if strings.TrimSpace(payload.ID) == "" {
		return Profile{}, errMissingProviderUID
	}

	return Profile{
		UID:         payload.ID,
		DisplayName: payload.DisplayName,
		AvatarURL:   payload.AvatarURL,
	}, nil
}
