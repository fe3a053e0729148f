package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/castleridge-io/clawdeck-sub003/api"
	"github.com/castleridge-io/clawdeck-sub003/archive"
	"github.com/castleridge-io/clawdeck-sub003/domain"
	"github.com/castleridge-io/clawdeck-sub003/notify"
	"github.com/castleridge-io/clawdeck-sub003/storage"
)

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}

	connStr := os.Getenv("STORAGE_CONNECTION_STRING")
	tasksTable := envOr("TASKS_TABLE", "tasks")
	boardsTable := envOr("BOARDS_TABLE", "boards")
	agentsTable := envOr("AGENTS_TABLE", "agents")
	usersTable := envOr("USERS_TABLE", "users")
	if connStr == "" {
		log.Fatal("missing storage config")
	}
	taskPageSize := intEnv("TASKS_PAGE_SIZE", 30)

	store, err := storage.New(connStr, tasksTable, boardsTable, agentsTable, usersTable, taskPageSize)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}

	redisConn := os.Getenv("REDIS_CONNECTION_STRING")
	if redisConn == "" {
		log.Fatal("missing redis config")
	}
	rc := redis.NewClient(parseRedisOptions(redisConn))

	cacheTTL := durationEnv("ENTITY_CACHE_TTL", 5*time.Minute)
	cached := storage.NewCache(store, rc, cacheTTL)

	deduper := api.NewRedisDeduper(rc, durationEnv("IDEMPOTENCY_TTL", 24*time.Hour))

	logger := log.New()
	hub := notify.NewHub(logger)
	bridge := notify.NewBridge(hub, rc, envOr("EVENTS_CHANNEL", "task-events"), logger)

	svc := domain.NewTaskService(cached, bridge)

	auth := buildAuth()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go bridge.Subscribe(ctx)

	sweeper := archive.NewScheduler(archive.Config{
		Store:     cached,
		Events:    bridge,
		Logger:    logger,
		Interval:  durationEnv("ARCHIVE_INTERVAL", time.Minute),
		Retention: durationEnv("ARCHIVE_RETENTION", 24*time.Hour),
		BatchSize: intEnv("ARCHIVE_BATCH", 100),
	})
	if err := sweeper.Start(ctx); err != nil {
		log.Fatalf("archive scheduler: %v", err)
	}
	defer sweeper.Stop()

	e := echo.New()
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "Idempotency-Key", "X-Agent-Name", "X-Agent-Emoji"},
	}))

	api.Register(e, svc, auth, deduper, hub, logger)

	listenAddr := ":8080"
	if val, ok := os.LookupEnv("PORT"); ok {
		listenAddr = ":" + val
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("shutdown")
		}
	}()

	if err := e.Start(listenAddr); err != nil {
		e.Logger.Info(err)
	}
}

func buildAuth() *api.Auth {
	if os.Getenv("AUTH0_TEST_MODE") == "1" || os.Getenv("LOCAL_AUTH_MODE") != "" {
		return api.NewAuth(nil, "", "")
	}
	jwtAudience := os.Getenv("AUTH0_AUDIENCE")
	authDomain := os.Getenv("AUTH0_DOMAIN")
	if jwtAudience == "" || authDomain == "" {
		log.Fatal("missing Auth0 config")
	}
	jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", authDomain)
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{})
	if err != nil {
		log.Fatalf("jwks: %v", err)
	}
	return api.NewAuth(jwks, jwtAudience, "https://"+authDomain+"/")
}

// parseRedisOptions accepts a redis URL or the Azure-style
// "host:port,password=...,ssl=true" connection string.
func parseRedisOptions(conn string) *redis.Options {
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

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func intEnv(name string, fallback int) int {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		log.Fatalf("invalid %s: %q", name, v)
	}
	return n
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		log.Fatalf("invalid %s: %q", name, v)
	}
	return d
}
