package main

import (
	"flag"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

type config struct {
	BindAddr            string        `json:"bindAddr"`
	Port                int           `json:"port"`
	WebPath             string        `json:"webPath"`
	BaseURLtmdb         string        `json:"baseURLtmdb"`
	ImageURLtmdb        string        `json:"imageURLtmdb"`
	TMDBkey             string        `json:"-"`
	BaseURLomdb         string        `json:"baseURLomdb"`
	OMDBkey             string        `json:"-"`
	BaseURLfirebaseAuth string        `json:"baseURLfirebaseAuth"`
	FirebaseKey         string        `json:"-"`
	FirebaseDBurl       string        `json:"firebaseDBurl"`
	BaseURLpplx         string        `json:"baseURLpplx"`
	PPLXkey             string        `json:"-"`
	PPLXmodel           string        `json:"pplxModel"`
	RedisAddr           string        `json:"redisAddr"`
	RedisCreds          string        `json:"-"`
	StoragePath         string        `json:"storagePath"`
	CachePath           string        `json:"cachePath"`
	CacheAgeTrending    time.Duration `json:"cacheAgeTrending"`
	CacheAgeSearch      time.Duration `json:"cacheAgeSearch"`
	CacheAgeDetails     time.Duration `json:"cacheAgeDetails"`
	CacheAgeWatchlist   time.Duration `json:"cacheAgeWatchlist"`
	CacheAgeInsights    time.Duration `json:"cacheAgeInsights"`
	SessionTTL          time.Duration `json:"sessionTTL"`
	LogLevel            string        `json:"logLevel"`
	LogEncoding         string        `json:"logEncoding"`
	EnvPrefix           string        `json:"envPrefix"`
}

func parseConfig(logger *zap.Logger) config {
	result := config{}

	// Flags
	var (
		bindAddr            = flag.String("bindAddr", "localhost", `Local interface address to bind to. "localhost" only allows access from the local host. "0.0.0.0" binds to all network interfaces.`)
		port                = flag.Int("port", 8080, "Port to listen on")
		webPath             = flag.String("webPath", "./web", "Path to the directory with the static web UI files")
		baseURLtmdb         = flag.String("baseURLtmdb", "https://api.themoviedb.org/3", "Base URL for the TMDB API")
		imageURLtmdb        = flag.String("imageURLtmdb", "https://image.tmdb.org/t/p", "Base URL for TMDB images")
		tmdbKey             = flag.String("tmdbKey", "", "TMDB API key (required)")
		baseURLomdb         = flag.String("baseURLomdb", "https://www.omdbapi.com", "Base URL for the OMDb API")
		omdbKey             = flag.String("omdbKey", "", "OMDb API key. Keep empty to disable awards enrichment.")
		baseURLfirebaseAuth = flag.String("baseURLfirebaseAuth", "https://identitytoolkit.googleapis.com/v1", "Base URL for the Firebase Identity Toolkit API")
		firebaseKey         = flag.String("firebaseKey", "", "Firebase web API key (required)")
		firebaseDBurl       = flag.String("firebaseDBurl", "", `Firebase Realtime Database root URL, for example "https://myproject.firebaseio.com" (required)`)
		baseURLpplx         = flag.String("baseURLpplx", "https://api.perplexity.ai", "Base URL for the Perplexity API")
		pplxKey             = flag.String("pplxKey", "", "Perplexity API key. Keep empty to disable AI insights.")
		pplxModel           = flag.String("pplxModel", "sonar", "Perplexity model for AI insights")
		redisAddr           = flag.String("redisAddr", "", `Redis host and port, for example "localhost:6379". It's used for the global metadata cache. Keep empty to use in-memory go-cache.`)
		redisCreds          = flag.String("redisCreds", "", `Credentials for Redis. Password for Redis version 5 and older, username and password for Redis version 6 and newer. Use the colon character (":") for separating username and password.`)
		storagePath         = flag.String("storagePath", "", `Path for the persistent BadgerDB-backed global cache. Takes precedence over the in-memory go-cache, but not over Redis. Keep empty to not use BadgerDB.`)
		cachePath           = flag.String("cachePath", "", `Path for loading a persisted in-memory cache on startup and persisting it in regular intervals. An empty value will lead to 'os.UserCacheDir()+"/cinebase/cache"'. Only used with the go-cache backend.`)
		cacheAgeTrending    = flag.Duration("cacheAgeTrending", 5*time.Minute, "Max age of cached trending pages. The format must be acceptable by Go's 'time.ParseDuration()', for example \"300s\".")
		cacheAgeSearch      = flag.Duration("cacheAgeSearch", time.Hour, "Max age of cached search result pages")
		cacheAgeDetails     = flag.Duration("cacheAgeDetails", time.Hour, "Max age of cached title details")
		cacheAgeWatchlist   = flag.Duration("cacheAgeWatchlist", 10*time.Second, "Max age of a session's cached watchlist. Kept short so the list never outlives a render for long; mutations invalidate it immediately.")
		cacheAgeInsights    = flag.Duration("cacheAgeInsights", 24*time.Hour, "Max age of a session's cached AI insights")
		sessionTTL          = flag.Duration("sessionTTL", time.Hour, "Idle time after which a browser session (and its signed-in identity) expires")
		logLevel            = flag.String("logLevel", "debug", `Log level to show only logs with the given and more severe levels. Can be "debug", "info", "warn", "error".`)
		logEncoding         = flag.String("logEncoding", "console", `Log encoding. Can be "console" or "json", where "json" makes more sense when using centralized logging solutions like ELK, Graylog or Loki.`)
		envPrefix           = flag.String("envPrefix", "", "Prefix for environment variables")
	)

	flag.Parse()

	if *envPrefix != "" && !strings.HasSuffix(*envPrefix, "_") {
		*envPrefix += "_"
	}
	result.EnvPrefix = *envPrefix

	// Only overwrite the values by their env var counterparts that have not
	// been set (and that *are* set via env var).
	var err error
	if !isArgSet("bindAddr") {
		if val, ok := os.LookupEnv(*envPrefix + "BIND_ADDR"); ok {
			*bindAddr = val
		}
	}
	result.BindAddr = *bindAddr

	if !isArgSet("port") {
		if val, ok := os.LookupEnv(*envPrefix + "PORT"); ok {
			if *port, err = strconv.Atoi(val); err != nil {
				logger.Fatal("Couldn't convert environment variable from string to int", zap.Error(err), zap.String("envVar", "PORT"))
			}
		}
	}
	result.Port = *port

	if !isArgSet("webPath") {
		if val, ok := os.LookupEnv(*envPrefix + "WEB_PATH"); ok {
			*webPath = val
		}
	}
	result.WebPath = *webPath

	if !isArgSet("baseURLtmdb") {
		if val, ok := os.LookupEnv(*envPrefix + "BASE_URL_TMDB"); ok {
			*baseURLtmdb = val
		}
	}
	result.BaseURLtmdb = *baseURLtmdb

	if !isArgSet("imageURLtmdb") {
		if val, ok := os.LookupEnv(*envPrefix + "IMAGE_URL_TMDB"); ok {
			*imageURLtmdb = val
		}
	}
	result.ImageURLtmdb = *imageURLtmdb

	if !isArgSet("tmdbKey") {
		if val, ok := os.LookupEnv(*envPrefix + "TMDB_API_KEY"); ok {
			*tmdbKey = val
		}
	}
	result.TMDBkey = *tmdbKey

	if !isArgSet("baseURLomdb") {
		if val, ok := os.LookupEnv(*envPrefix + "BASE_URL_OMDB"); ok {
			*baseURLomdb = val
		}
	}
	result.BaseURLomdb = *baseURLomdb

	if !isArgSet("omdbKey") {
		if val, ok := os.LookupEnv(*envPrefix + "OMDB_API_KEY"); ok {
			*omdbKey = val
		}
	}
	result.OMDBkey = *omdbKey

	if !isArgSet("baseURLfirebaseAuth") {
		if val, ok := os.LookupEnv(*envPrefix + "BASE_URL_FIREBASE_AUTH"); ok {
			*baseURLfirebaseAuth = val
		}
	}
	result.BaseURLfirebaseAuth = *baseURLfirebaseAuth

	if !isArgSet("firebaseKey") {
		if val, ok := os.LookupEnv(*envPrefix + "FIREBASE_API_KEY"); ok {
			*firebaseKey = val
		}
	}
	result.FirebaseKey = *firebaseKey

	if !isArgSet("firebaseDBurl") {
		if val, ok := os.LookupEnv(*envPrefix + "FIREBASE_DB_URL"); ok {
			*firebaseDBurl = val
		}
	}
	result.FirebaseDBurl = *firebaseDBurl

	if !isArgSet("baseURLpplx") {
		if val, ok := os.LookupEnv(*envPrefix + "BASE_URL_PPLX"); ok {
			*baseURLpplx = val
		}
	}
	result.BaseURLpplx = *baseURLpplx

	if !isArgSet("pplxKey") {
		if val, ok := os.LookupEnv(*envPrefix + "PERPLEXITY_API_KEY"); ok {
			*pplxKey = val
		}
	}
	result.PPLXkey = *pplxKey

	if !isArgSet("pplxModel") {
		if val, ok := os.LookupEnv(*envPrefix + "PPLX_MODEL"); ok {
			*pplxModel = val
		}
	}
	result.PPLXmodel = *pplxModel

	if !isArgSet("redisAddr") {
		if val, ok := os.LookupEnv(*envPrefix + "REDIS_ADDR"); ok {
			*redisAddr = val
		}
	}
	result.RedisAddr = *redisAddr

	if !isArgSet("redisCreds") {
		if val, ok := os.LookupEnv(*envPrefix + "REDIS_CREDS"); ok {
			*redisCreds = val
		}
	}
	result.RedisCreds = *redisCreds

	if !isArgSet("storagePath") {
		if val, ok := os.LookupEnv(*envPrefix + "STORAGE_PATH"); ok {
			*storagePath = val
		}
	}
	result.StoragePath = *storagePath

	if !isArgSet("cachePath") {
		if val, ok := os.LookupEnv(*envPrefix + "CACHE_PATH"); ok {
			*cachePath = val
		}
	}
	result.CachePath = *cachePath

	if !isArgSet("cacheAgeTrending") {
		if val, ok := os.LookupEnv(*envPrefix + "CACHE_AGE_TRENDING"); ok {
			if *cacheAgeTrending, err = time.ParseDuration(val); err != nil {
				logger.Fatal("Couldn't convert environment variable from string to time.Duration", zap.Error(err), zap.String("envVar", "CACHE_AGE_TRENDING"))
			}
		}
	}
	result.CacheAgeTrending = *cacheAgeTrending

	if !isArgSet("cacheAgeSearch") {
		if val, ok := os.LookupEnv(*envPrefix + "CACHE_AGE_SEARCH"); ok {
			if *cacheAgeSearch, err = time.ParseDuration(val); err != nil {
				logger.Fatal("Couldn't convert environment variable from string to time.Duration", zap.Error(err), zap.String("envVar", "CACHE_AGE_SEARCH"))
			}
		}
	}
	result.CacheAgeSearch = *cacheAgeSearch

	if !isArgSet("cacheAgeDetails") {
		if val, ok := os.LookupEnv(*envPrefix + "CACHE_AGE_DETAILS"); ok {
			if *cacheAgeDetails, err = time.ParseDuration(val); err != nil {
				logger.Fatal("Couldn't convert environment variable from string to time.Duration", zap.Error(err), zap.String("envVar", "CACHE_AGE_DETAILS"))
			}
		}
	}
	result.CacheAgeDetails = *cacheAgeDetails

	if !isArgSet("cacheAgeWatchlist") {
		if val, ok := os.LookupEnv(*envPrefix + "CACHE_AGE_WATCHLIST"); ok {
			if *cacheAgeWatchlist, err = time.ParseDuration(val); err != nil {
				logger.Fatal("Couldn't convert environment variable from string to time.Duration", zap.Error(err), zap.String("envVar", "CACHE_AGE_WATCHLIST"))
			}
		}
	}
	result.CacheAgeWatchlist = *cacheAgeWatchlist

	if !isArgSet("cacheAgeInsights") {
		if val, ok := os.LookupEnv(*envPrefix + "CACHE_AGE_INSIGHTS"); ok {
			if *cacheAgeInsights, err = time.ParseDuration(val); err != nil {
				logger.Fatal("Couldn't convert environment variable from string to time.Duration", zap.Error(err), zap.String("envVar", "CACHE_AGE_INSIGHTS"))
			}
		}
	}
	result.CacheAgeInsights = *cacheAgeInsights

	if !isArgSet("sessionTTL") {
		if val, ok := os.LookupEnv(*envPrefix + "SESSION_TTL"); ok {
			if *sessionTTL, err = time.ParseDuration(val); err != nil {
				logger.Fatal("Couldn't convert environment variable from string to time.Duration", zap.Error(err), zap.String("envVar", "SESSION_TTL"))
			}
		}
	}
	result.SessionTTL = *sessionTTL

	if !isArgSet("logLevel") {
		if val, ok := os.LookupEnv(*envPrefix + "LOG_LEVEL"); ok {
			*logLevel = val
		}
	}
	result.LogLevel = *logLevel

	if !isArgSet("logEncoding") {
		if val, ok := os.LookupEnv(*envPrefix + "LOG_ENCODING"); ok {
			*logEncoding = val
		}
	}
	result.LogEncoding = *logEncoding

	return result
}

func (c *config) validate(logger *zap.Logger) {
	// Required services: without these CineBase can't do anything useful,
	// so startup fails with a message that names the missing variable.
	if c.TMDBkey == "" {
		logger.Fatal("Missing required configuration: set the TMDB API key", zap.String("envVar", c.EnvPrefix+"TMDB_API_KEY"), zap.String("flag", "tmdbKey"))
	}
	if c.FirebaseKey == "" {
		logger.Fatal("Missing required configuration: set the Firebase web API key", zap.String("envVar", c.EnvPrefix+"FIREBASE_API_KEY"), zap.String("flag", "firebaseKey"))
	}
	if c.FirebaseDBurl == "" {
		logger.Fatal("Missing required configuration: set the Firebase Realtime Database URL", zap.String("envVar", c.EnvPrefix+"FIREBASE_DB_URL"), zap.String("flag", "firebaseDBurl"))
	}

	// Optional services: their absence disables the feature, not the service.
	if c.OMDBkey == "" {
		logger.Warn("No OMDb API key configured, awards enrichment is disabled", zap.String("envVar", c.EnvPrefix+"OMDB_API_KEY"))
	}
	if c.PPLXkey == "" {
		logger.Warn("No Perplexity API key configured, AI insights are disabled", zap.String("envVar", c.EnvPrefix+"PERPLEXITY_API_KEY"))
	}

	if c.CachePath == "" {
		userCacheDir, err := os.UserCacheDir()
		if err != nil {
			logger.Fatal("Couldn't determine user cache directory via `os.UserCacheDir()`", zap.Error(err))
		}
		// Add two levels, because even if we're in `os.UserCacheDir()`, on Windows that's for example `C:\Users\John\AppData\Local`
		c.CachePath = filepath.Join(userCacheDir, "cinebase/cache")
	} else {
		c.CachePath = filepath.Clean(c.CachePath)
	}

	if c.StoragePath != "" {
		c.StoragePath = filepath.Clean(c.StoragePath)
	}
	// If the dirs don't exist, they're created when the files are written.

	if c.LogEncoding != "console" && c.LogEncoding != "json" {
		logger.Fatal(`logEncoding must be one of "console" or "json"`, zap.String("logEncoding", c.LogEncoding))
	}
}

// isArgSet returns true if the argument you're looking for is actually set as command line argument.
// Pass without "-" prefix.
func isArgSet(arg string) bool {
	found := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == arg {
			found = true
		}
	})
	return found
}
