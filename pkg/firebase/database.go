package firebase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/cinebase/cinebase/pkg/media"
)

type DatabaseClientOptions struct {
	// BaseURL is the Realtime Database root, e.g. "https://proj.firebaseio.com".
	BaseURL string
	Timeout time.Duration
}

// There's no default BaseURL, the database URL is per-project.
var DefaultDatabaseClientOpts = DatabaseClientOptions{
	Timeout: 10 * time.Second,
}

// DatabaseClient reads and writes per-user data in the hosted database.
// Everything lives under /users/{uid}/ and every call carries the user's ID
// token, so the database's own rules enforce per-user isolation. Each entry
// write is atomic on the database side; there are no compound writes.
type DatabaseClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewDatabaseClient(opts DatabaseClientOptions, logger *zap.Logger) *DatabaseClient {
	return &DatabaseClient{
		baseURL: strings.TrimSuffix(opts.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: opts.Timeout,
		},
		logger: logger,
	}
}

// InitProfile writes the initial profile node for a fresh account.
func (c *DatabaseClient) InitProfile(ctx context.Context, identity media.Identity) error {
	payload := map[string]interface{}{
		"email":     identity.Email,
		"watchlist": map[string]interface{}{},
	}
	_, err := c.request(ctx, http.MethodPatch, c.userPath(identity, ""), payload)
	return err
}

// UpdateProfile sets the user's display name in the profile node.
func (c *DatabaseClient) UpdateProfile(ctx context.Context, identity media.Identity, name string) error {
	_, err := c.request(ctx, http.MethodPatch, c.userPath(identity, "profile"), map[string]interface{}{"name": name})
	return err
}

// AddEntry stores one watchlist entry, keyed by its media ID. Adding the
// same ID again overwrites.
func (c *DatabaseClient) AddEntry(ctx context.Context, identity media.Identity, entry media.WatchlistEntry) error {
	payload := map[string]interface{}{
		"title":  entry.Title,
		"poster": entry.Poster,
		"type":   string(entry.Kind),
	}
	_, err := c.request(ctx, http.MethodPut, c.userPath(identity, "watchlist/"+entry.ID), payload)
	return err
}

// RemoveEntry deletes one watchlist entry. Absence is not an error.
func (c *DatabaseClient) RemoveEntry(ctx context.Context, identity media.Identity, mediaID string) error {
	_, err := c.request(ctx, http.MethodDelete, c.userPath(identity, "watchlist/"+mediaID), nil)
	return err
}

// ListEntries returns the user's watchlist, sorted by title for a stable UI.
func (c *DatabaseClient) ListEntries(ctx context.Context, identity media.Identity) ([]media.WatchlistEntry, error) {
	resBody, err := c.request(ctx, http.MethodGet, c.userPath(identity, "watchlist"), nil)
	if err != nil {
		return nil, err
	}
	// An empty watchlist comes back as JSON null.
	entries := []media.WatchlistEntry{}
	gjson.ParseBytes(resBody).ForEach(func(key, value gjson.Result) bool {
		kind, ok := media.ParseKind(value.Get("type").String())
		if !ok {
			kind = media.KindMovie
		}
		entries = append(entries, media.WatchlistEntry{
			ID:     key.String(),
			Kind:   kind,
			Title:  value.Get("title").String(),
			Poster: value.Get("poster").String(),
		})
		return true
	})
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Title < entries[j].Title
	})
	return entries, nil
}

// ClearEntries deletes the whole watchlist node.
func (c *DatabaseClient) ClearEntries(ctx context.Context, identity media.Identity) error {
	_, err := c.request(ctx, http.MethodDelete, c.userPath(identity, "watchlist"), nil)
	return err
}

func (c *DatabaseClient) userPath(identity media.Identity, path string) string {
	p := c.baseURL + "/users/" + identity.UserID
	if path != "" {
		p += "/" + path
	}
	return p + ".json?auth=" + identity.IDToken
}

func (c *DatabaseClient) request(ctx context.Context, method, reqURL string, payload interface{}) ([]byte, error) {
	var reqBody *bytes.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("Couldn't marshal request body: %v", err)
		}
		reqBody = bytes.NewReader(data)
	} else {
		reqBody = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
	if err != nil {
		return nil, fmt.Errorf("Couldn't create %v request for database: %v", method, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("Couldn't %v database entry: %v", method, err)
	}
	defer res.Body.Close()
	resBody, err := ioutil.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("Couldn't read database response body: %v", err)
	}
	if res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden {
		msg := gjson.GetBytes(resBody, "error").String()
		if msg == "" {
			msg = res.Status
		}
		c.logger.Debug("Database call rejected", zap.String("message", msg))
		return nil, &media.AuthError{Message: msg}
	}
	if res.StatusCode != http.StatusOK && res.StatusCode != http.StatusNoContent {
		return nil, fmt.Errorf("Bad %v response from database: %v", method, res.StatusCode)
	}
	return resBody, nil
}
