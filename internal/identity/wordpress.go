package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vipcre/portal/internal/apierr"
)

// wordpressProvider validates a JWT issued by the WordPress site and reads
// the caller's roles from the REST users endpoint.
type wordpressProvider struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewWordPressProvider builds the role provider for a WordPress site exposing
// the standard REST API with JWT auth.
func NewWordPressProvider(baseURL string, timeout time.Duration, logger *zap.Logger) RoleProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &wordpressProvider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type wpUser struct {
	ID    int64    `json:"id"`
	Email string   `json:"email"`
	Roles []string `json:"roles"`
}

func (w *wordpressProvider) Resolve(ctx context.Context, token string) (*Principal, error) {
	if token == "" {
		return nil, apierr.New(apierr.KindAuth, "missing bearer token")
	}

	url := w.baseURL + "/wp-json/wp/v2/users/me?context=edit"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindConnection, "identity provider unreachable", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, apierr.New(apierr.KindAuth, "token rejected by identity provider")
	case resp.StatusCode >= 400:
		return nil, apierr.Newf(apierr.KindServer, "identity provider returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindConnection, "identity response truncated", err)
	}

	var user wpUser
	if err := json.Unmarshal(body, &user); err != nil {
		return nil, fmt.Errorf("decode identity response: %w", err)
	}
	if user.ID == 0 {
		return nil, apierr.New(apierr.KindAuth, "identity provider returned no user")
	}

	return &Principal{
		SubjectID: "wp-" + strconv.FormatInt(user.ID, 10),
		Email:     user.Email,
		Roles:     user.Roles,
	}, nil
}
