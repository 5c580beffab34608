package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dgraph-io/badger/v2"
	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/cinebase/cinebase/pkg/firebase"
	"github.com/cinebase/cinebase/pkg/logadapter"
	"github.com/cinebase/cinebase/pkg/omdb"
	"github.com/cinebase/cinebase/pkg/perplexity"
	"github.com/cinebase/cinebase/pkg/sessionstate"
	"github.com/cinebase/cinebase/pkg/tmdb"
)

const version = "0.1.0"

func main() {
	mainCtx, mainCtxCancel := context.WithCancel(context.Background())

	// Bootstrap logger, replaced once the config is known.
	logger, err := newLogger("info", "console")
	if err != nil {
		panic(err)
	}

	logger.Info("Parsing config...")
	config := parseConfig(logger)
	config.validate(logger)
	configJSON, err := json.Marshal(config)
	if err != nil {
		logger.Fatal("Couldn't marshal config to JSON", zap.Error(err))
	}
	if logger, err = newLogger(config.LogLevel, config.LogEncoding); err != nil {
		logger.Fatal("Couldn't create logger from config", zap.Error(err))
	}
	logger.Info("Parsed config", zap.ByteString("config", configJSON))

	registerTypes()

	// Pick the global cache backend. Redis wins for multi-instance setups,
	// BadgerDB for persistence without Redis, go-cache otherwise.

	var globalCache sessionstate.Cache
	var rdb *redis.Client
	var badgerDB *badger.DB
	goCaches := map[string]*gocache.Cache{}
	if config.RedisAddr != "" {
		var username, password string
		if config.RedisCreds != "" {
			if i := strings.Index(config.RedisCreds, ":"); i != -1 {
				username = config.RedisCreds[:i]
				password = config.RedisCreds[i+1:]
			} else {
				password = config.RedisCreds
			}
		}
		rdb = redis.NewClient(&redis.Options{
			Addr:     config.RedisAddr,
			Username: username,
			Password: password,
		})
		if err = rdb.Ping(mainCtx).Err(); err != nil {
			logger.Fatal("Couldn't ping Redis", zap.Error(err), zap.String("redisAddr", config.RedisAddr))
		}
		logger.Info("Using Redis for the global cache", zap.String("redisAddr", config.RedisAddr))
		globalCache = &redisCache{rdb: rdb, keyPrefix: "cinebase:", logger: logger}
	} else if config.StoragePath != "" {
		badgerOpts := badger.DefaultOptions(config.StoragePath + "/cache")
		badgerOpts = badgerOpts.WithLogger(logadapter.NewBadger2Zap(logger))
		badgerDB, err = badger.Open(badgerOpts)
		if err != nil {
			logger.Fatal("Couldn't open BadgerDB", zap.Error(err), zap.String("storagePath", config.StoragePath))
		}
		logger.Info("Using BadgerDB for the global cache", zap.String("storagePath", config.StoragePath))
		globalCache = &badgerCache{db: badgerDB, keyPrefix: "cinebase:", logger: logger}
	} else {
		var globalGoCache *gocache.Cache
		cacheFile := config.CachePath + "/global.gob"
		if items, err := loadGoCache(cacheFile); err != nil {
			logger.Info("Couldn't load cache from file, starting with an empty one", zap.Error(err), zap.String("file", cacheFile))
			globalGoCache = gocache.New(gocache.NoExpiration, 0)
		} else {
			logger.Info("Loaded cache from file", zap.Int("itemCount", len(items)), zap.String("file", cacheFile))
			globalGoCache = gocache.NewFrom(gocache.NoExpiration, 0, items)
		}
		goCaches["global"] = globalGoCache
		globalCache = &goCache{cache: globalGoCache, logger: logger}
	}

	manager := sessionstate.NewManager(globalCache, config.SessionTTL, nil, logger)

	// Create clients

	tmdbOpts := tmdb.NewClientOpts(config.BaseURLtmdb, config.ImageURLtmdb, config.TMDBkey, tmdb.DefaultClientOpts.Timeout)
	tmdbClient := tmdb.NewClient(tmdbOpts, logger)

	var omdbClient awardsClient
	if config.OMDBkey != "" {
		omdbOpts := omdb.DefaultClientOpts
		omdbOpts.BaseURL = config.BaseURLomdb
		omdbOpts.APIkey = config.OMDBkey
		omdbClient = omdb.NewClient(omdbOpts)
	}

	authOpts := firebase.DefaultAuthClientOpts
	authOpts.BaseURL = config.BaseURLfirebaseAuth
	authOpts.APIkey = config.FirebaseKey
	fbAuthClient := firebase.NewAuthClient(authOpts, logger)

	dbOpts := firebase.DefaultDatabaseClientOpts
	dbOpts.BaseURL = config.FirebaseDBurl
	fbDBclient := firebase.NewDatabaseClient(dbOpts, logger)

	pplxOpts := perplexity.DefaultClientOpts
	pplxOpts.BaseURL = config.BaseURLpplx
	pplxOpts.APIkey = config.PPLXkey
	pplxOpts.Model = config.PPLXmodel
	pplxClient := perplexity.NewClient(pplxOpts)

	// Set up the server

	logger.Info("Setting up server")
	app := fiber.New(fiber.Config{
		ReadTimeout:           5 * time.Second,
		WriteTimeout:          30 * time.Second,
		IdleTimeout:           60 * time.Second,
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	app.Use(createLoggingMiddleware(logger))
	app.Use(createSessionMiddleware(manager, logger))
	setupRoutes(app, config, manager, tmdbClient, omdbClient, fbAuthClient, fbDBclient, pplxClient, goCaches, logger)

	addr := config.BindAddr + ":" + strconv.Itoa(config.Port)
	logger.Info("Starting server", zap.String("address", addr), zap.String("version", version))
	go func() {
		if err := app.Listen(addr); err != nil {
			logger.Fatal("Couldn't start server", zap.Error(err))
		}
	}()

	// Save the in-memory cache to a file every hour
	if len(goCaches) > 0 {
		go func() {
			for {
				time.Sleep(time.Hour)
				persistCaches(mainCtx, config.CachePath, goCaches, logger)
			}
		}()
	}

	// Print cache and session stats every hour
	go func() {
		// Don't run at the same time as the persistence
		time.Sleep(time.Minute)
		for {
			logCacheStats(goCaches, manager, logger)
			time.Sleep(time.Hour)
		}
	}()

	// Graceful shutdown

	c := make(chan os.Signal, 1)
	// Accept SIGINT (Ctrl+C) and SIGTERM (`docker stop`)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	sig := <-c
	logger.Info("Received signal, shutting down...", zap.Stringer("signal", sig))
	mainCtxCancel()
	// `docker stop` gives us 10 seconds, fiber waits for running handlers.
	if err := app.Shutdown(); err != nil {
		logger.Error("Error shutting down server", zap.Error(err))
	}
	if len(goCaches) > 0 {
		// One last persistence with a fresh context, the main one is canceled.
		persistCaches(context.Background(), config.CachePath, goCaches, logger)
	}
	var closeErr error
	if rdb != nil {
		closeErr = multierr.Append(closeErr, rdb.Close())
	}
	if badgerDB != nil {
		closeErr = multierr.Append(closeErr, badgerDB.Close())
	}
	if closeErr != nil {
		logger.Error("Error closing cache backends", zap.Error(closeErr))
	}
	logger.Info("Server shut down")
}

func setupRoutes(app *fiber.App, config config, manager *sessionstate.Manager, metadata metadataClient, awards awardsClient, auth authClient, db watchlistClient, insight insightClient, goCaches map[string]*gocache.Cache, logger *zap.Logger) {
	api := app.Group("/api")

	api.Post("/auth/signup", createSignUpHandler(auth, db, logger))
	api.Post("/auth/signin", createSignInHandler(auth, logger))
	api.Post("/auth/signout", createSignOutHandler())

	api.Get("/trending", createTrendingHandler(metadata, config.CacheAgeTrending, logger))
	api.Get("/search", createSearchHandler(metadata, config.CacheAgeSearch, logger))
	api.Get("/media/:kind/:id", createDetailsHandler(metadata, awards, config.CacheAgeDetails, logger))
	api.Post("/media/:kind/:id/insights", createInsightsHandler(metadata, insight, config.CacheAgeDetails, config.CacheAgeInsights, logger))

	requireSignIn := createRequireSignInMiddleware()
	watchlist := api.Group("/watchlist", requireSignIn)
	watchlist.Get("/", createWatchlistHandler(db, config.CacheAgeWatchlist, logger))
	watchlist.Put("/:id", createWatchlistAddHandler(db, logger))
	watchlist.Delete("/:id", createWatchlistRemoveHandler(db, logger))
	watchlist.Delete("/", createWatchlistClearHandler(db, logger))

	account := api.Group("/account", requireSignIn)
	account.Get("/", createAccountHandler())
	account.Post("/", createAccountUpdateHandler(auth, logger))
	account.Post("/profile", createProfileUpdateHandler(db, logger))

	api.Get("/selection/:field", createSelectionGetHandler())
	api.Put("/selection/:field", createSelectionSetHandler())

	app.Get("/health", createHealthHandler())
	app.Get("/status", createStatusHandler(goCaches, manager))

	// The web UI. Must come last so the API routes win.
	app.Static("/", config.WebPath)
}

func newLogger(level, encoding string) (*zap.Logger, error) {
	logLevel := zap.NewAtomicLevel()
	if err := logLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}
	logConfig := zap.NewProductionConfig()
	logConfig.Level = logLevel
	logConfig.Encoding = encoding
	logConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logConfig.DisableStacktrace = true
	return logConfig.Build()
}
