// Package tmdb is a thin client for the TMDB v3 API, covering the three
// calls CineBase needs: weekly trending, multi search and title details.
// Responses are shaped into the typed media model at this boundary so the
// rest of the service never touches raw TMDB JSON.
package tmdb

import (
	"context"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/cinebase/cinebase/pkg/media"
)

const (
	// Poster sizes differ per surface, same as the web UI expects.
	posterSizeDetail   = "w500"
	posterSizeTrending = "w342"
	profileSize        = "w185"
)

type ClientOptions struct {
	BaseURL  string
	ImageURL string
	APIkey   string
	Timeout  time.Duration
}

func NewClientOpts(baseURL, imageURL, apiKey string, timeout time.Duration) ClientOptions {
	return ClientOptions{
		BaseURL:  baseURL,
		ImageURL: imageURL,
		APIkey:   apiKey,
		Timeout:  timeout,
	}
}

var DefaultClientOpts = ClientOptions{
	BaseURL:  "https://api.themoviedb.org/3",
	ImageURL: "https://image.tmdb.org/t/p",
	Timeout:  10 * time.Second,
}

type Client struct {
	baseURL    string
	imageURL   string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewClient(opts ClientOptions, logger *zap.Logger) *Client {
	return &Client{
		baseURL:  opts.BaseURL,
		imageURL: opts.ImageURL,
		apiKey:   opts.APIkey,
		httpClient: &http.Client{
			Timeout: opts.Timeout,
		},
		logger: logger,
	}
}

// Trending returns one page of this week's trending movies and shows.
func (c *Client) Trending(ctx context.Context, page int) (media.ResultPage, error) {
	params := url.Values{}
	params.Set("page", strconv.Itoa(page))
	resBody, err := c.get(ctx, "/trending/all/week", params)
	if err != nil {
		return media.ResultPage{}, err
	}
	return c.parseResultPage(resBody, posterSizeTrending), nil
}

// Search runs a multi search over movies and shows. Results of other media
// types (people etc.) are dropped.
func (c *Client) Search(ctx context.Context, query string, page int) (media.ResultPage, error) {
	params := url.Values{}
	params.Set("query", query)
	params.Set("page", strconv.Itoa(page))
	params.Set("include_adult", "false")
	resBody, err := c.get(ctx, "/search/multi", params)
	if err != nil {
		return media.ResultPage{}, err
	}
	return c.parseResultPage(resBody, posterSizeDetail), nil
}

// Details fetches the full record for one movie or show, credits and the
// IMDb ID included.
func (c *Client) Details(ctx context.Context, kind media.Kind, id int) (media.Details, error) {
	path := "/movie/" + strconv.Itoa(id)
	if kind == media.KindShow {
		path = "/tv/" + strconv.Itoa(id)
	}
	params := url.Values{}
	params.Set("append_to_response", "credits,external_ids")
	resBody, err := c.get(ctx, path, params)
	if err != nil {
		return media.Details{}, err
	}

	body := gjson.ParseBytes(resBody)
	details := media.Details{
		ID:          int(body.Get("id").Int()),
		Kind:        kind,
		Title:       firstString(body, "title", "name"),
		Overview:    body.Get("overview").String(),
		Poster:      c.imagePath(body.Get("poster_path").String(), posterSizeDetail),
		Backdrop:    c.imagePath(body.Get("backdrop_path").String(), posterSizeDetail),
		Runtime:     int(body.Get("runtime").Int()),
		Rating:      body.Get("vote_average").Float(),
		ReleaseDate: firstString(body, "release_date", "first_air_date"),
		IMDBid:      body.Get("external_ids.imdb_id").String(),
	}
	for _, genre := range body.Get("genres").Array() {
		details.Genres = append(details.Genres, genre.Get("name").String())
	}
	for _, crew := range body.Get("credits.crew").Array() {
		if crew.Get("job").String() == "Director" {
			details.Director = crew.Get("name").String()
			break
		}
	}
	for i, cast := range body.Get("credits.cast").Array() {
		// The detail view shows the top five credits only.
		if i == 5 {
			break
		}
		details.Cast = append(details.Cast, media.CastMember{
			Name:      cast.Get("name").String(),
			Character: cast.Get("character").String(),
			Profile:   c.imagePath(cast.Get("profile_path").String(), profileSize),
		})
	}
	return details, nil
}

func (c *Client) parseResultPage(resBody []byte, posterSize string) media.ResultPage {
	body := gjson.ParseBytes(resBody)
	page := media.ResultPage{
		Page:         int(body.Get("page").Int()),
		TotalPages:   int(body.Get("total_pages").Int()),
		TotalResults: int(body.Get("total_results").Int()),
	}
	for _, result := range body.Get("results").Array() {
		var kind media.Kind
		switch result.Get("media_type").String() {
		case "movie":
			kind = media.KindMovie
		case "tv":
			kind = media.KindShow
		default:
			continue
		}
		page.Items = append(page.Items, media.Item{
			ID:          int(result.Get("id").Int()),
			Kind:        kind,
			Title:       firstString(result, "title", "name"),
			ReleaseDate: firstString(result, "release_date", "first_air_date"),
			Overview:    result.Get("overview").String(),
			Poster:      c.imagePath(result.Get("poster_path").String(), posterSize),
			Popularity:  result.Get("popularity").Float(),
			Rating:      result.Get("vote_average").Float(),
		})
	}
	return page
}

func (c *Client) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	params.Set("api_key", c.apiKey)
	reqURL := c.baseURL + path + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("Couldn't create GET request for %v: %v", path, err)
	}
	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("Couldn't GET %v: %v", path, err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return nil, media.ErrNotFound
	}
	resBody, err := ioutil.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("Couldn't read response body for %v: %v", path, err)
	}
	if res.StatusCode != http.StatusOK {
		msg := gjson.GetBytes(resBody, "status_message").String()
		if msg == "" {
			msg = res.Status
		}
		return nil, fmt.Errorf("Bad GET response for %v: %v: %v", path, res.StatusCode, msg)
	}
	return resBody, nil
}

func (c *Client) imagePath(path, size string) string {
	if path == "" {
		return ""
	}
	return c.imageURL + "/" + size + path
}

func firstString(body gjson.Result, keys ...string) string {
	for _, key := range keys {
		if value := body.Get(key).String(); value != "" {
			return value
		}
	}
	return ""
}
