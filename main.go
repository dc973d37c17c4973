package main

import (
	"crypto/tls"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/US-Department-of-the-Treasury/plane-gov-sub004/api"
	"github.com/US-Department-of-the-Treasury/plane-gov-sub004/collection"
	"github.com/US-Department-of-the-Treasury/plane-gov-sub004/remote"
	"github.com/US-Department-of-the-Treasury/plane-gov-sub004/store"
)

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}
	baseURL := os.Getenv("ITEMS_API_URL")
	workspace := os.Getenv("WORKSPACE")
	if baseURL == "" || workspace == "" {
		log.Fatal("missing items API config")
	}
	token := os.Getenv("ITEMS_API_TOKEN")

	perPage := 30
	if v := os.Getenv("ITEMS_PAGE_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			log.Fatalf("invalid ITEMS_PAGE_SIZE: %v", err)
		}
		if n <= 0 {
			log.Fatalf("invalid ITEMS_PAGE_SIZE: must be greater than zero")
		}
		perPage = n
	}

	logger := log.New()
	client := remote.New(baseURL, workspace, token, nil, logger)

	var rc *redis.Client
	if redisConn := os.Getenv("REDIS_CONNECTION_STRING"); redisConn != "" {
		redisOpts, err := redis.ParseURL(redisConn)
		if err != nil {
			parts := strings.Split(redisConn, ",")
			redisOpts = &redis.Options{Addr: parts[0]}
			for _, p := range parts[1:] {
				kv := strings.SplitN(p, "=", 2)
				if len(kv) != 2 {
					continue
				}
				switch strings.ToLower(kv[0]) {
				case "password":
					redisOpts.Password = kv[1]
				case "ssl":
					if strings.ToLower(kv[1]) == "true" {
						redisOpts.TLSConfig = &tls.Config{}
					}
				}
			}
		}
		rc = redis.NewClient(redisOpts)
	}

	cacheTTL := 24 * time.Hour
	if v := os.Getenv("FILTER_CACHE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			log.Fatalf("invalid FILTER_CACHE_TTL: %v", err)
		}
		cacheTTL = d
	}
	cache := store.NewFilterCache(rc, cacheTTL)
	persist := store.NewPersistWorker(client, logger, store.PersistConfig{
		Workers: envInt("PERSIST_WORKERS", 4),
		Buffer:  envInt("PERSIST_BUFFER", 256),
	})
	defer persist.Close()

	filters := store.NewFilterStore(client, cache, persist, collection.DefaultGroupByFor, logger)
	manager := collection.NewManager(collection.ManagerConfig{
		Fetcher: client,
		Filters: filters,
		Logger:  logger,
		PerPage: perPage,
	})

	e := echo.New()
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))

	api.Register(e, manager, logger)

	listenAddr := ":8080"
	if val, ok := os.LookupEnv("PORT"); ok {
		listenAddr = ":" + val
	}

	e.Logger.Fatal(e.Start(listenAddr))
}

func envInt(name string, def int) int {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
