package guardrails

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// client fetches rulesets from the guardrails rule service.
type client struct {
	baseURL    string
	adminKey   string
	httpClient *http.Client
}

// NewClient creates a guardrails service client. The admin key uses the
// id:hexsecret format and signs a short-lived token per request.
func NewClient(baseURL, adminKey string) Loader {
	return &client{
		baseURL:  baseURL,
		adminKey: adminKey,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// Load fetches the hard allow/block ruleset for a diet. The returned
// ruleset carries the version reported by the service and a content hash
// of the response body.
func (c *client) Load(ctx context.Context, dietID, mode, locale string) (*Ruleset, error) {
	endpoint := fmt.Sprintf("%s/v1/rulesets/%s?mode=%s&locale=%s",
		c.baseURL, url.PathEscape(dietID), url.QueryEscape(mode), url.QueryEscape(locale))

	body, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var rs Ruleset
	if err := json.Unmarshal(body, &rs); err != nil {
		return nil, fmt.Errorf("failed to decode ruleset: %w", err)
	}

	sum := sha256.Sum256(body)
	rs.Hash = hex.EncodeToString(sum[:])
	return &rs, nil
}

// LoadDietLogic fetches the ordered DROP/FORCE/LIMIT rules for a diet.
func (c *client) LoadDietLogic(ctx context.Context, dietID string) ([]DietRule, error) {
	endpoint := fmt.Sprintf("%s/v1/dietlogic/%s", c.baseURL, url.PathEscape(dietID))

	body, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Rules []DietRule `json:"rules"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode diet logic rules: %w", err)
	}
	return resp.Rules, nil
}

func (c *client) get(ctx context.Context, endpoint string) ([]byte, error) {
	token, err := c.createAdminToken()
	if err != nil {
		return nil, fmt.Errorf("failed to create admin token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Guard "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("guardrails api error: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return body, nil
}

// createAdminToken generates a short-lived JWT for the rule service.
func (c *client) createAdminToken() (string, error) {
	keyParts := strings.Split(c.adminKey, ":")
	if len(keyParts) != 2 {
		return "", fmt.Errorf("invalid admin key format: expected id:secret")
	}

	id := keyParts[0]
	secret, err := hex.DecodeString(keyParts[1])
	if err != nil {
		return "", fmt.Errorf("failed to decode secret hex: %w", err)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(5 * time.Minute).Unix(),
		"aud": "/v1/rulesets/",
	})
	token.Header["kid"] = id

	return token.SignedString(secret)
}
