package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"llmchat/backend/internal/config"
	"llmchat/backend/internal/credits"
	"llmchat/backend/internal/db"
	"llmchat/backend/internal/httpapi"
	"llmchat/backend/internal/session"
)

const sessionSweepInterval = time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	database, err := db.Open(cfg)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer database.Close()

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStartup()

	if err := db.Migrate(startupCtx, database); err != nil {
		log.Fatalf("migrate db: %v", err)
	}

	sessions := session.NewStore(database)
	if !cfg.AuthRequired {
		if err := sessions.EnsureAnonymous(startupCtx); err != nil {
			log.Fatalf("ensure anonymous user: %v", err)
		}
	}

	modes, err := config.LoadModes(cfg.ModesFile, cfg.OpenRouterDefaultModel)
	if err != nil {
		log.Fatalf("load modes: %v", err)
	}
	log.Printf("modes loaded ids=%v", modes.IDs())

	var store credits.Store = credits.NewMemoryStore()
	redisClient, err := credits.NewRedisClient(startupCtx, cfg)
	if err != nil {
		log.Fatalf("connect redis: %v", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
		store = credits.NewRedisStore(redisClient)
		log.Printf("credits backend=redis addr=%s", cfg.RedisAddr)
	} else {
		log.Printf("credits backend=memory")
	}
	limiter := credits.NewLimiter(store, cfg.AnonymousDailyCredits, cfg.AuthenticatedDailyCredits)

	handler, err := httpapi.NewRouter(cfg, database, modes, limiter)
	if err != nil {
		log.Fatalf("build router: %v", err)
	}

	// Streams outlive any fixed write deadline, so the completion timeout
	// bounds them instead.
	srv := &http.Server{
		Addr:              cfg.ListenAddress(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go sweepSessions(ctx, sessions)

	go func() {
		log.Printf("api listening on %s", cfg.ListenAddress())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

func sweepSessions(ctx context.Context, sessions session.Store) {
	ticker := time.NewTicker(sessionSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := sessions.DeleteExpired(ctx, now)
			if err != nil {
				log.Printf("session sweep failed err=%v", err)
				continue
			}
			if n > 0 {
				log.Printf("session sweep removed=%d", n)
			}
		}
	}
}
