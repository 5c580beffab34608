package tmdb

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cinebase/cinebase/pkg/media"
)

const trendingJSON = `{
	"page": 1,
	"total_pages": 10,
	"total_results": 200,
	"results": [
		{"id": 27205, "media_type": "movie", "title": "Inception", "release_date": "2010-07-15", "overview": "A thief.", "poster_path": "/incp.jpg", "popularity": 90.5, "vote_average": 8.4},
		{"id": 1396, "media_type": "tv", "name": "Breaking Bad", "first_air_date": "2008-01-20", "poster_path": "/bb.jpg", "vote_average": 8.9},
		{"id": 6384, "media_type": "person", "name": "Keanu Reeves"}
	]
}`

const movieDetailsJSON = `{
	"id": 27205,
	"title": "Inception",
	"overview": "A thief.",
	"poster_path": "/incp.jpg",
	"backdrop_path": "/incb.jpg",
	"runtime": 148,
	"vote_average": 8.4,
	"release_date": "2010-07-15",
	"genres": [{"name": "Action"}, {"name": "Science Fiction"}],
	"external_ids": {"imdb_id": "tt1375666"},
	"credits": {
		"crew": [{"job": "Producer", "name": "Emma Thomas"}, {"job": "Director", "name": "Christopher Nolan"}],
		"cast": [
			{"name": "Leonardo DiCaprio", "character": "Cobb", "profile_path": "/leo.jpg"},
			{"name": "Joseph Gordon-Levitt", "character": "Arthur"},
			{"name": "Elliot Page", "character": "Ariadne"},
			{"name": "Tom Hardy", "character": "Eames"},
			{"name": "Ken Watanabe", "character": "Saito"},
			{"name": "Cillian Murphy", "character": "Fischer"}
		]
	}
}`

func newTestClient(handler http.Handler) (*Client, *httptest.Server) {
	ts := httptest.NewServer(handler)
	opts := NewClientOpts(ts.URL, "https://image.example.com/t/p", "test-key", time.Second)
	return NewClient(opts, zap.NewNop()), ts
}

func TestTrending(t *testing.T) {
	var gotPath, gotKey, gotPage string
	client, ts := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.URL.Query().Get("api_key")
		gotPage = r.URL.Query().Get("page")
		w.Write([]byte(trendingJSON))
	}))
	defer ts.Close()

	page, err := client.Trending(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, "/trending/all/week", gotPath)
	require.Equal(t, "test-key", gotKey)
	require.Equal(t, "1", gotPage)

	require.Equal(t, 1, page.Page)
	require.Equal(t, 10, page.TotalPages)
	// The person result is dropped.
	require.Len(t, page.Items, 2)
	require.Equal(t, media.Item{
		ID:          27205,
		Kind:        media.KindMovie,
		Title:       "Inception",
		ReleaseDate: "2010-07-15",
		Overview:    "A thief.",
		Poster:      "https://image.example.com/t/p/w342/incp.jpg",
		Popularity:  90.5,
		Rating:      8.4,
	}, page.Items[0])
	require.Equal(t, media.KindShow, page.Items[1].Kind)
	require.Equal(t, "Breaking Bad", page.Items[1].Title)
	require.Equal(t, "2008-01-20", page.Items[1].ReleaseDate)
}

func TestSearch(t *testing.T) {
	var gotQuery, gotAdult string
	client, ts := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/search/multi", r.URL.Path)
		gotQuery = r.URL.Query().Get("query")
		gotAdult = r.URL.Query().Get("include_adult")
		w.Write([]byte(trendingJSON))
	}))
	defer ts.Close()

	page, err := client.Search(context.Background(), "inception", 1)
	require.NoError(t, err)
	require.Equal(t, "inception", gotQuery)
	require.Equal(t, "false", gotAdult)
	require.Len(t, page.Items, 2)
	// Search posters use the bigger size.
	require.Equal(t, "https://image.example.com/t/p/w500/incp.jpg", page.Items[0].Poster)
}

func TestDetailsMovie(t *testing.T) {
	client, ts := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/movie/27205", r.URL.Path)
		require.Equal(t, "credits,external_ids", r.URL.Query().Get("append_to_response"))
		w.Write([]byte(movieDetailsJSON))
	}))
	defer ts.Close()

	details, err := client.Details(context.Background(), media.KindMovie, 27205)
	require.NoError(t, err)
	require.Equal(t, 27205, details.ID)
	require.Equal(t, media.KindMovie, details.Kind)
	require.Equal(t, "Inception", details.Title)
	require.Equal(t, 148, details.Runtime)
	require.Equal(t, []string{"Action", "Science Fiction"}, details.Genres)
	require.Equal(t, "Christopher Nolan", details.Director)
	require.Equal(t, "tt1375666", details.IMDBid)
	// Cast is capped at five.
	require.Len(t, details.Cast, 5)
	require.Equal(t, media.CastMember{
		Name:      "Leonardo DiCaprio",
		Character: "Cobb",
		Profile:   "https://image.example.com/t/p/w185/leo.jpg",
	}, details.Cast[0])
	// Missing profile path maps to an empty URL, not a broken one.
	require.Equal(t, "", details.Cast[1].Profile)
}

func TestDetailsShowPath(t *testing.T) {
	client, ts := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/tv/1396", r.URL.Path)
		w.Write([]byte(`{"id": 1396, "name": "Breaking Bad", "first_air_date": "2008-01-20"}`))
	}))
	defer ts.Close()

	details, err := client.Details(context.Background(), media.KindShow, 1396)
	require.NoError(t, err)
	require.Equal(t, media.KindShow, details.Kind)
	require.Equal(t, "Breaking Bad", details.Title)
	require.Equal(t, "2008-01-20", details.ReleaseDate)
	require.Equal(t, 0, details.Runtime)
}

func TestDetailsNotFound(t *testing.T) {
	client, ts := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	_, err := client.Details(context.Background(), media.KindMovie, 1)
	require.True(t, errors.Is(err, media.ErrNotFound))
}

func TestBadResponseCarriesStatusMessage(t *testing.T) {
	client, ts := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"status_code": 7, "status_message": "Invalid API key"}`))
	}))
	defer ts.Close()

	_, err := client.Trending(context.Background(), 1)
	require.Error(t, err)
	require.Contains(t, err.Error(), "Invalid API key")
}
