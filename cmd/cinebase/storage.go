package main

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v2"
	"github.com/go-redis/redis/v8"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/cinebase/cinebase/pkg/media"
	"github.com/cinebase/cinebase/pkg/sessionstate"
)

func registerTypes() {
	// For cache entry timestamps
	gob.Register(time.Time{})
	// For trending and search result caches
	gob.Register(media.ResultPage{})
	// For the details cache
	gob.Register(media.Details{})
	// For the per-session watchlist cache
	gob.Register([]media.WatchlistEntry{})
}

var _ sessionstate.Cache = (*goCache)(nil)

// goCache is the in-memory global cache, backed by github.com/patrickmn/go-cache.
// Expiry is left to the session state store, which compares entry creation
// times against its own clock, so items are stored without a go-cache TTL.
type goCache struct {
	cache  *gocache.Cache
	logger *zap.Logger
}

// Get implements the sessionstate.Cache interface.
func (c *goCache) Get(key string) (sessionstate.Entry, bool) {
	entryIface, found := c.cache.Get(key)
	if !found {
		return sessionstate.Entry{}, false
	}
	entry, ok := entryIface.(sessionstate.Entry)
	if !ok {
		c.logger.Error("Couldn't cast cached value to sessionstate.Entry", zap.String("type", fmt.Sprintf("%T", entryIface)), zap.String("key", key))
		return sessionstate.Entry{}, false
	}
	return entry, true
}

// Set implements the sessionstate.Cache interface.
func (c *goCache) Set(key string, entry sessionstate.Entry) {
	c.cache.Set(key, entry, 0)
}

// Delete implements the sessionstate.Cache interface.
func (c *goCache) Delete(key string) {
	c.cache.Delete(key)
}

var _ sessionstate.Cache = (*redisCache)(nil)

// redisCache is the global cache backed by Redis, for multi-instance
// deployments where all instances should share trending, search and details
// entries. Entries are gob-encoded. Redis errors are logged and treated as
// cache misses so a Redis outage degrades to uncached fetches.
type redisCache struct {
	rdb       *redis.Client
	keyPrefix string
	logger    *zap.Logger
}

// Get implements the sessionstate.Cache interface.
func (c *redisCache) Get(key string) (sessionstate.Entry, bool) {
	data, err := c.rdb.Get(context.Background(), c.keyPrefix+key).Bytes()
	if err == redis.Nil {
		return sessionstate.Entry{}, false
	} else if err != nil {
		c.logger.Error("Couldn't get cache entry from Redis", zap.Error(err), zap.String("key", key))
		return sessionstate.Entry{}, false
	}
	var entry sessionstate.Entry
	decoder := gob.NewDecoder(bytes.NewReader(data))
	if err = decoder.Decode(&entry); err != nil {
		c.logger.Error("Couldn't decode cache entry from Redis", zap.Error(err), zap.String("key", key))
		return sessionstate.Entry{}, false
	}
	return entry, true
}

// Set implements the sessionstate.Cache interface.
func (c *redisCache) Set(key string, entry sessionstate.Entry) {
	writer := bytes.Buffer{}
	encoder := gob.NewEncoder(&writer)
	if err := encoder.Encode(entry); err != nil {
		c.logger.Error("Couldn't encode cache entry for Redis", zap.Error(err), zap.String("key", key))
		return
	}
	if err := c.rdb.Set(context.Background(), c.keyPrefix+key, writer.Bytes(), 0).Err(); err != nil {
		c.logger.Error("Couldn't set cache entry in Redis", zap.Error(err), zap.String("key", key))
	}
}

// Delete implements the sessionstate.Cache interface.
func (c *redisCache) Delete(key string) {
	if err := c.rdb.Del(context.Background(), c.keyPrefix+key).Err(); err != nil {
		c.logger.Error("Couldn't delete cache entry from Redis", zap.Error(err), zap.String("key", key))
	}
}

var _ sessionstate.Cache = (*badgerCache)(nil)

// badgerCache is the global cache backed by BadgerDB, for single-instance
// deployments that want the cache to survive restarts without running Redis.
type badgerCache struct {
	db        *badger.DB
	keyPrefix string
	logger    *zap.Logger
}

// Get implements the sessionstate.Cache interface.
func (c *badgerCache) Get(key string) (sessionstate.Entry, bool) {
	var entry sessionstate.Entry
	found, err := gobGet(c.db, c.keyPrefix+key, &entry)
	if err != nil {
		c.logger.Error("Couldn't get cache entry from BadgerDB", zap.Error(err), zap.String("key", key))
		return sessionstate.Entry{}, false
	}
	return entry, found
}

// Set implements the sessionstate.Cache interface.
func (c *badgerCache) Set(key string, entry sessionstate.Entry) {
	if err := gobSet(c.db, c.keyPrefix+key, entry); err != nil {
		c.logger.Error("Couldn't set cache entry in BadgerDB", zap.Error(err), zap.String("key", key))
	}
}

// Delete implements the sessionstate.Cache interface.
func (c *badgerCache) Delete(key string) {
	err := c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(c.keyPrefix + key))
	})
	if err != nil {
		c.logger.Error("Couldn't delete cache entry from BadgerDB", zap.Error(err), zap.String("key", key))
	}
}

func gobSet(db *badger.DB, key string, item interface{}) error {
	writer := bytes.Buffer{}
	encoder := gob.NewEncoder(&writer)
	if err := encoder.Encode(item); err != nil {
		return fmt.Errorf("Couldn't encode item: %v", err)
	}
	return db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), writer.Bytes())
	})
}

func gobGet(db *badger.DB, key string, target interface{}) (bool, error) {
	err := db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			reader := bytes.NewReader(val)
			decoder := gob.NewDecoder(reader)
			if err := decoder.Decode(target); err != nil {
				return fmt.Errorf("Couldn't decode item: %v", err)
			}
			return nil
		})
	})
	if err == badger.ErrKeyNotFound {
		return false, nil
	} else if err != nil {
		return true, err
	}
	return true, nil
}

func saveGoCache(items map[string]gocache.Item, filePath string) error {
	file, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("Couldn't create go-cache file: %v", err)
	}
	defer file.Close()
	encoder := gob.NewEncoder(file)
	if err = encoder.Encode(items); err != nil {
		return fmt.Errorf("Couldn't encode items for go-cache file: %v", err)
	}
	return nil
}

func loadGoCache(filePath string) (map[string]gocache.Item, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("Couldn't open go-cache file: %v", err)
	}
	defer file.Close()
	decoder := gob.NewDecoder(file)
	result := map[string]gocache.Item{}
	if err = decoder.Decode(&result); err != nil {
		return nil, fmt.Errorf("Couldn't decode items from go-cache file: %v", err)
	}
	return result, nil
}

func persistCaches(ctx context.Context, cacheFilePath string, goCaches map[string]*gocache.Cache, logger *zap.Logger) {
	if ctx.Err() != nil {
		logger.Warn("Regular cache persistence triggered, but server is shutting down")
		return
	}

	logger.Info("Persisting caches...", zap.String("cacheFilePath", cacheFilePath))
	start := time.Now()

	// If the dir doesn't exist yet, we'll create it
	_, err := os.Stat(cacheFilePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if err = os.MkdirAll(cacheFilePath, 0755); err != nil {
				logger.Error("Couldn't create cache directory", zap.Error(err), zap.String("dir", cacheFilePath))
				return
			}
			logger.Info("Created cache directory", zap.String("dir", cacheFilePath))
		} else {
			logger.Error("Couldn't get cache directory info", zap.Error(err), zap.String("dir", cacheFilePath))
			return
		}
	}

	for name, goCache := range goCaches {
		if err := saveGoCache(goCache.Items(), cacheFilePath+"/"+name+".gob"); err != nil {
			logger.Error("Couldn't save cache to file", zap.Error(err), zap.String("cache", name))
		}
	}

	duration := time.Since(start).Milliseconds()
	durationString := strconv.FormatInt(duration, 10) + "ms"
	logger.Info("Persisted caches", zap.String("duration", durationString))
}

func logCacheStats(goCaches map[string]*gocache.Cache, manager *sessionstate.Manager, logger *zap.Logger) {
	for name, goCache := range goCaches {
		logger.Info("Cache stats", zap.String("cache", name), zap.Int("itemCount", goCache.ItemCount()))
	}
	logger.Info("Session stats", zap.Int("sessionCount", manager.Count()))
}
