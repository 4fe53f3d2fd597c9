package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo-contrib/pprof"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/beacon-House/counselling-portal-sub000/api"
	"github.com/beacon-House/counselling-portal-sub000/extract"
	"github.com/beacon-House/counselling-portal-sub000/review"
	"github.com/beacon-House/counselling-portal-sub000/storage"
	"github.com/beacon-House/counselling-portal-sub000/updater"
)

const updatesChannel = "portal-updates"

func main() {
	debug := false
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
		debug = true
	}

	connStr := os.Getenv("STORAGE_CONNECTION_STRING")
	eventsQueue := os.Getenv("EVENTS_QUEUE")
	filesContainer := os.Getenv("FILES_CONTAINER")
	if connStr == "" || eventsQueue == "" || filesContainer == "" {
		log.Fatal("missing storage config")
	}
	tables := storage.Tables{
		Students:    tableName("STUDENTS_TABLE", "students"),
		Counsellors: tableName("COUNSELLORS_TABLE", "counsellors"),
		Phases:      tableName("PHASES_TABLE", "phases"),
		Tasks:       tableName("TASKS_TABLE", "tasks"),
		Subtasks:    tableName("SUBTASKS_TABLE", "studentsubtasks"),
		Notes:       tableName("NOTES_TABLE", "notes"),
		Files:       tableName("FILES_TABLE", "files"),
		Calendar:    tableName("CALENDAR_TABLE", "calendar"),
	}
	store, err := storage.New(connStr, tables, eventsQueue)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	objects, err := storage.NewObjectStore(connStr, filesContainer)
	if err != nil {
		log.Fatalf("blob storage: %v", err)
	}

	redisConn := os.Getenv("REDIS_CONNECTION_STRING")
	if redisConn == "" {
		log.Fatal("missing redis config")
	}
	rc := redis.NewClient(redisOptions(redisConn))

	cacheTTL := 5 * time.Minute
	if v := os.Getenv("ROADMAP_CACHE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			log.Fatalf("invalid ROADMAP_CACHE_TTL: %v", err)
		}
		cacheTTL = d
	}
	cached := storage.NewCache(store, rc, cacheTTL)

	dedupTTL := 24 * time.Hour
	if v := os.Getenv("DEDUPER_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			log.Fatalf("invalid DEDUPER_TTL: %v", err)
		}
		dedupTTL = d
	}
	deduper := api.NewRedisDeduper(rc, dedupTTL)

	extractEndpoint := os.Getenv("EXTRACT_ENDPOINT")
	summarizeEndpoint := os.Getenv("SUMMARIZE_ENDPOINT")
	assistantEndpoint := os.Getenv("ASSISTANT_ENDPOINT")
	if extractEndpoint == "" || summarizeEndpoint == "" || assistantEndpoint == "" {
		log.Fatal("missing AI service config")
	}
	aiKey := os.Getenv("AI_API_KEY")
	aiTimeout := 60 * time.Second
	if v := os.Getenv("AI_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			log.Fatalf("invalid AI_TIMEOUT: %v", err)
		}
		aiTimeout = d
	}

	var auth *api.Auth
	if strings.ToLower(os.Getenv("LOCAL_AUTH_MODE")) != "" {
		auth = api.NewAuth(nil, "", "")
	} else {
		jwtAudience := os.Getenv("AUTH_AUDIENCE")
		authDomain := os.Getenv("AUTH_DOMAIN")
		if jwtAudience == "" || authDomain == "" {
			log.Fatal("missing auth config")
		}
		jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", authDomain)
		jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{})
		if err != nil {
			log.Fatalf("jwks: %v", err)
		}
		auth = api.NewAuth(jwks, jwtAudience, "https://"+authDomain+"/")
	}

	logger := log.New()
	logger.SetLevel(log.GetLevel())

	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = tp.Shutdown(shutdownCtx)
	}()

	broker := api.NewUpdateBroker()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go broker.SubscribeUpdates(ctx, rc, updatesChannel, logger)

	upd, err := updater.New(connStr, eventsQueue, store, cached, rc, updatesChannel, logger)
	if err != nil {
		log.Fatalf("updater: %v", err)
	}
	go upd.Run(ctx)

	e := echo.New()
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))
	e.Use(api.GzipRequestMiddleware())
	if debug {
		pprof.Register(e)
	}

	api.Register(e, api.Config{
		Store:     cached,
		Objects:   objects,
		Auth:      auth,
		Deduper:   deduper,
		Reviews:   review.NewManager(review.NewRedisSnapshots(rc), logger),
		Extractor: extract.New(extractEndpoint, aiKey, aiTimeout),
		Summaries: extract.NewSummarizer(summarizeEndpoint, aiKey, aiTimeout),
		Assistant: extract.NewSummarizer(assistantEndpoint, aiKey, aiTimeout),
		Broker:    broker,
		Logger:    logger,
	})

	listenAddr := ":8080"
	if val, ok := os.LookupEnv("PORT"); ok {
		listenAddr = ":" + val
	}

	e.Logger.Fatal(e.Start(listenAddr))
}

func tableName(env, fallback string) string {
	if v := os.Getenv(env); v != "" {
		return v
	}
	return fallback
}

// redisOptions accepts either a redis URL or the comma-separated
// "host:port,password=...,ssl=true" form Azure hands out.
func redisOptions(conn string) *redis.Options {
	opts, err := redis.ParseURL(conn)
	if err == nil {
		return opts
	}
	parts := strings.Split(conn, ",")
	opts = &redis.Options{Addr: parts[0]}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(kv[0]) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.ToLower(kv[1]) == "true" {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts
}
