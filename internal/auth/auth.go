package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrUnauthorized means the token does not satisfy the checked role.
var ErrUnauthorized = errors.New("unauthorized")

type Role string

const (
	RoleCustomer Role = "customer"
	RoleVendor   Role = "vendor"
	RoleAdmin    Role = "admin"
)

// DefaultRoles is the order in which roles are tried.
var DefaultRoles = []Role{RoleCustomer, RoleVendor, RoleAdmin}

type Checker interface {
	Check(ctx context.Context, role Role, token string) error
}

// HTTPChecker asks the authentication service whether a token satisfies a role policy.
type HTTPChecker struct {
	baseURL string
	client  *http.Client
}

func NewHTTPChecker(baseURL string, timeout time.Duration) *HTTPChecker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPChecker{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPChecker) Check(ctx context.Context, role Role, token string) error {
	body, err := json.Marshal(map[string]string{"token": token})
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/Authentication/%s-policy", c.baseURL, role)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s-policy request: %w", role, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s-policy: %w", role, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%s-policy: %w", role, ErrUnauthorized)
	default:
		return fmt.Errorf("%s-policy: unexpected status %d", role, resp.StatusCode)
	}
}

// Chain tries roles in order; the first that accepts the token wins.
type Chain struct {
	checker Checker
	roles   []Role
}

func NewChain(checker Checker, roles ...Role) *Chain {
	if len(roles) == 0 {
		roles = DefaultRoles
	}
	return &Chain{checker: checker, roles: roles}
}

// Authenticate returns the accepting role. An unauthorized answer moves on to the
// next role; any other failure is returned immediately.
func (c *Chain) Authenticate(ctx context.Context, token string) (Role, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrUnauthorized
	}
	for _, role := range c.roles {
		err := c.checker.Check(ctx, role, token)
		if err == nil {
			return role, nil
		}
		if !errors.Is(err, ErrUnauthorized) {
			return "", err
		}
	}
	return "", ErrUnauthorized
}
