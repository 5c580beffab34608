// Package omdb looks up the OMDb record for a title by its IMDb ID. CineBase
// only uses it to enrich the detail view with the awards line, and only when
// an API key is configured.
package omdb

import (
	"context"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/url"
	"time"

	"github.com/tidwall/gjson"

	"github.com/cinebase/cinebase/pkg/media"
)

type ClientOptions struct {
	BaseURL string
	APIkey  string
	Timeout time.Duration
}

var DefaultClientOpts = ClientOptions{
	BaseURL: "https://www.omdbapi.com",
	Timeout: 8 * time.Second,
}

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(opts ClientOptions) *Client {
	return &Client{
		baseURL: opts.BaseURL,
		apiKey:  opts.APIkey,
		httpClient: &http.Client{
			Timeout: opts.Timeout,
		},
	}
}

// Awards returns the OMDb awards line for the title with the given IMDb ID,
// for example "Won 4 Oscars. 159 wins & 220 nominations total".
func (c *Client) Awards(ctx context.Context, imdbID string) (string, error) {
	params := url.Values{}
	params.Set("apikey", c.apiKey)
	params.Set("i", imdbID)
	reqURL := c.baseURL + "/?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", fmt.Errorf("Couldn't create GET request for OMDb: %v", err)
	}
	res, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("Couldn't GET OMDb record for %v: %v", imdbID, err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("Bad GET response from OMDb for %v: %v", imdbID, res.StatusCode)
	}
	resBody, err := ioutil.ReadAll(res.Body)
	if err != nil {
		return "", fmt.Errorf("Couldn't read OMDb response body: %v", err)
	}
	body := gjson.ParseBytes(resBody)
	if body.Get("Response").String() == "False" {
		if body.Get("Error").String() == "Movie not found!" {
			return "", media.ErrNotFound
		}
		return "", fmt.Errorf("OMDb error for %v: %v", imdbID, body.Get("Error").String())
	}
	awards := body.Get("Awards").String()
	// OMDb sends the string "N/A" instead of omitting the field.
	if awards == "N/A" {
		awards = ""
	}
	return awards, nil
}
