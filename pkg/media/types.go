package media

// Kind tells movies and TV shows apart. TMDB calls shows "tv", we normalize
// that at the client boundary so the rest of the code only sees these two.
type Kind string

const (
	KindMovie Kind = "movie"
	KindShow  Kind = "show"
)

// ParseKind returns the Kind for its string form, or false if it's neither.
func ParseKind(s string) (Kind, bool) {
	switch Kind(s) {
	case KindMovie:
		return KindMovie, true
	case KindShow:
		return KindShow, true
	}
	return "", false
}

// Item is one search or trending result.
type Item struct {
	ID          int     `json:"id"`
	Kind        Kind    `json:"kind"`
	Title       string  `json:"title"`
	ReleaseDate string  `json:"releaseDate"`
	Overview    string  `json:"overview"`
	Poster      string  `json:"poster"`
	Popularity  float64 `json:"popularity"`
	Rating      float64 `json:"rating"`
}

// ResultPage is one page of search or trending results.
type ResultPage struct {
	Page         int    `json:"page"`
	TotalPages   int    `json:"totalPages"`
	TotalResults int    `json:"totalResults"`
	Items        []Item `json:"items"`
}

// CastMember is one actor credit on a title.
type CastMember struct {
	Name      string `json:"name"`
	Character string `json:"character"`
	Profile   string `json:"profile"`
}

// Details is the full record for a single movie or show.
type Details struct {
	ID          int          `json:"id"`
	Kind        Kind         `json:"kind"`
	Title       string       `json:"title"`
	Overview    string       `json:"overview"`
	Poster      string       `json:"poster"`
	Backdrop    string       `json:"backdrop"`
	Genres      []string     `json:"genres"`
	// Runtime in minutes. 0 for shows, TMDB doesn't report one there.
	Runtime     int          `json:"runtime"`
	Rating      float64      `json:"rating"`
	ReleaseDate string       `json:"releaseDate"`
	Director    string       `json:"director"`
	Cast        []CastMember `json:"cast"`
	IMDBid      string       `json:"imdbID"`
	// Awards comes from OMDb and is empty when that client is disabled.
	Awards      string       `json:"awards"`
}

// WatchlistEntry is a user's saved reference to one media item.
// It's owned by the hosted database, keyed under the user's identity.
type WatchlistEntry struct {
	ID     string `json:"id"`
	Kind   Kind   `json:"kind"`
	Title  string `json:"title"`
	Poster string `json:"poster"`
}

// Identity is the authenticated-user handle issued by the auth service.
// UserID is the opaque per-user string, the tokens are what the database
// calls need. It lives in the session store and dies on sign-out.
type Identity struct {
	UserID       string
	Email        string
	DisplayName  string
	IDToken      string
	RefreshToken string
}
