// Package firebase wraps the two Firebase REST surfaces CineBase delegates
// to: the Identity Toolkit for authentication and the Realtime Database for
// watchlist and profile storage. Both are treated as opaque hosted services;
// nothing is persisted locally.
package firebase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/cinebase/cinebase/pkg/media"
)

type AuthClientOptions struct {
	BaseURL string
	APIkey  string
	Timeout time.Duration
}

var DefaultAuthClientOpts = AuthClientOptions{
	BaseURL: "https://identitytoolkit.googleapis.com/v1",
	Timeout: 10 * time.Second,
}

// AuthClient signs users in and out of the hosted auth service. Sign-out has
// no server side: discarding the identity (which the session store does) is
// the whole operation.
type AuthClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewAuthClient(opts AuthClientOptions, logger *zap.Logger) *AuthClient {
	return &AuthClient{
		baseURL: opts.BaseURL,
		apiKey:  opts.APIkey,
		httpClient: &http.Client{
			Timeout: opts.Timeout,
		},
		logger: logger,
	}
}

// SignUp creates an account and signs it in.
func (c *AuthClient) SignUp(ctx context.Context, email, password string) (media.Identity, error) {
	return c.credentialCall(ctx, "accounts:signUp", email, password)
}

// SignIn exchanges credentials for an identity. Bad credentials come back as
// a *media.AuthError, anything else as a plain error.
func (c *AuthClient) SignIn(ctx context.Context, email, password string) (media.Identity, error) {
	return c.credentialCall(ctx, "accounts:signInWithPassword", email, password)
}

// UpdateAccount changes the account's email and/or password. Empty values
// are left untouched. It returns the refreshed identity, because the auth
// service rotates the tokens on credential changes.
func (c *AuthClient) UpdateAccount(ctx context.Context, identity media.Identity, email, password string) (media.Identity, error) {
	payload := map[string]interface{}{
		"idToken":           identity.IDToken,
		"returnSecureToken": true,
	}
	if email != "" {
		payload["email"] = email
	}
	if password != "" {
		payload["password"] = password
	}
	resBody, err := c.post(ctx, "accounts:update", payload)
	if err != nil {
		return media.Identity{}, err
	}
	updated := parseIdentity(resBody)
	// The update response omits fields that didn't change.
	if updated.Email == "" {
		updated.Email = identity.Email
	}
	if updated.DisplayName == "" {
		updated.DisplayName = identity.DisplayName
	}
	if updated.IDToken == "" {
		updated.IDToken = identity.IDToken
	}
	if updated.RefreshToken == "" {
		updated.RefreshToken = identity.RefreshToken
	}
	return updated, nil
}

func (c *AuthClient) credentialCall(ctx context.Context, endpoint, email, password string) (media.Identity, error) {
	payload := map[string]interface{}{
		"email":             email,
		"password":          password,
		"returnSecureToken": true,
	}
	resBody, err := c.post(ctx, endpoint, payload)
	if err != nil {
		return media.Identity{}, err
	}
	return parseIdentity(resBody), nil
}

func (c *AuthClient) post(ctx context.Context, endpoint string, payload map[string]interface{}) ([]byte, error) {
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("Couldn't marshal request body for %v: %v", endpoint, err)
	}
	reqURL := c.baseURL + "/" + endpoint + "?key=" + c.apiKey
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("Couldn't create POST request for %v: %v", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("Couldn't POST to %v: %v", endpoint, err)
	}
	defer res.Body.Close()
	resBody, err := ioutil.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("Couldn't read response body for %v: %v", endpoint, err)
	}
	if res.StatusCode != http.StatusOK {
		msg := gjson.GetBytes(resBody, "error.message").String()
		if msg == "" {
			msg = res.Status
		}
		c.logger.Debug("Auth call rejected", zap.String("endpoint", endpoint), zap.String("message", msg))
		return nil, &media.AuthError{Message: msg}
	}
	return resBody, nil
}

func parseIdentity(resBody []byte) media.Identity {
	body := gjson.ParseBytes(resBody)
	return media.Identity{
		UserID:       body.Get("localId").String(),
		Email:        body.Get("email").String(),
		DisplayName:  body.Get("displayName").String(),
		IDToken:      body.Get("idToken").String(),
		RefreshToken: body.Get("refreshToken").String(),
	}
}
