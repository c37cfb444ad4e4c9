// Package main is the entry point for the federation core server.
package main

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robida/federation/internal/api"
	"github.com/robida/federation/internal/config"
	"github.com/robida/federation/internal/events"
	"github.com/robida/federation/internal/httpx"
	"github.com/robida/federation/internal/indieauth"
	"github.com/robida/federation/internal/jobs"
	"github.com/robida/federation/internal/micropub"
	"github.com/robida/federation/internal/mf2"
	"github.com/robida/federation/internal/store"
	"github.com/robida/federation/internal/webmention"
	"github.com/robida/federation/internal/websub"
)

// diskMediaStore saves Micropub file parts under cfg.MediaDir, satisfying
// micropub.MediaStore. The Media store proper (moderation, variants,
// CDN placement) is the external collaborator section 1 puts out of
// scope; this is the minimum glue needed to exercise that interface.
type diskMediaStore struct {
	dir     string
	baseURL string
}

func (d *diskMediaStore) Save(r io.Reader, filename string) (string, error) {
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return "", err
	}
	f, err := os.Create(d.dir + "/" + filename)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		return "", err
	}
	return d.baseURL + "/media/" + filename, nil
}

// recentPostsFeed answers WebSub publish fanout requests by assembling a
// minimal h-feed JSON document from the Post Store. A full feed renderer
// (templating, pagination UI, Atom/RSS) is explicitly out of this
// spec's scope (section 1); this satisfies only websub.FeedFetcher's
// narrow contract so publish delivery has a real body to sign and send.
type recentPostsFeed struct {
	posts *store.PostRepository
}

func (f *recentPostsFeed) Fetch(topic, since string) (string, []byte, error) {
	opts := store.PostListOptions{Limit: 20}
	if t, err := time.Parse(time.RFC3339, since); err == nil {
		opts.Since = &t
	}
	posts, err := f.posts.List(context.Background(), opts)
	if err != nil {
		return "", nil, err
	}
	children := make([]*mf2.Object, 0, len(posts))
	for _, p := range posts {
		entry := p.Content
		children = append(children, &entry)
	}
	feed := mf2.Object{Type: []string{"h-feed"}, Properties: map[string][]any{"url": {topic}}, Children: children}
	body, err := json.Marshal(feed)
	return "application/json", body, err
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("configuration: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := store.NewPool(ctx, cfg.DatabaseURL)
	cancel()
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer pool.Close()
	log.Println("database connection established")

	bus := events.New()

	posts := store.NewPostRepository(pool)
	posts.SetEvents(bus)
	incoming := store.NewIncomingWebmentionRepository(pool)
	outgoing := store.NewOutgoingWebmentionRepository(pool)
	trusted := store.NewTrustedDomainRepository(pool)
	subs := store.NewSubscriptionRepository(pool)
	codes := store.NewAuthorizationCodeRepository(pool)
	tokens := store.NewTokenRepository(pool)

	if err := seedTrustedDomains(context.Background(), trusted, cfg.TrustedDomainSeed); err != nil {
		log.Printf("trusted domain seed: %v", err)
	}

	httpClient := httpx.WithRetries(httpx.NewClient(5, 10), 3)
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	// The Webmention Engine's target resolver needs the router's compiled
	// route tree, but the router needs the Engine to mount its handlers.
	// resolver is assigned once NewRouter returns below; the closure
	// passed to webmention.New defers to it, which is safe because no
	// request reaches the Engine until the HTTP server starts accepting.
	var resolver webmention.TargetResolver
	wmEngine := webmention.New(cfg, posts, incoming, outgoing, trusted, httpClient,
		func(target string) bool {
			if resolver == nil {
				return false
			}
			return resolver(target)
		}, logger)

	hub := websub.New(cfg, subs, &recentPostsFeed{posts: posts}, httpClient, logger)

	sessions := indieauth.NewSessionManager(cfg.SessionSecret, cfg.ServerName, cfg.IsProduction())
	authServer := indieauth.NewServer(cfg, codes, tokens, httpClient, sessions)

	media := &diskMediaStore{dir: cfg.MediaDir, baseURL: cfg.ServerName}
	mp := micropub.New(posts, media, cfg.ServerName, logger)

	bus.Subscribe(store.EntryCreated{}, func(e any) {
		ev := e.(store.EntryCreated)
		wmEngine.HandleEntryCreated(context.Background(), ev.New)
	})
	bus.Subscribe(store.EntryUpdated{}, func(e any) {
		ev := e.(store.EntryUpdated)
		wmEngine.HandleEntryUpdated(context.Background(), ev.Old, ev.New)
	})
	bus.Subscribe(store.EntryDeleted{}, func(e any) {
		ev := e.(store.EntryDeleted)
		wmEngine.HandleEntryDeleted(context.Background(), ev.Old)
	})
	bus.Subscribe(store.EntryCreated{}, func(e any) {
		hub.Publish(context.Background(), []string{e.(store.EntryCreated).New.Location})
	})
	bus.Subscribe(store.EntryUpdated{}, func(e any) {
		hub.Publish(context.Background(), []string{e.(store.EntryUpdated).New.Location})
	})
	bus.Start()

	router := api.NewRouter(api.Deps{
		Cfg: cfg, Pool: pool, Auth: authServer, Webmention: wmEngine, WebSub: hub, Micropub: mp,
	})
	resolver = api.NewTargetResolver(router)

	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	go jobs.NewWebmentionSweepJob(staleWebmentionAdapter{outgoing}, wmEngine, jobs.DefaultWebmentionStaleAfter).
		RunScheduled(sweepCtx, jobs.DefaultWebmentionSweepInterval)
	go jobs.NewLeaseSweepJob(subs).RunScheduled(sweepCtx, jobs.DefaultLeaseSweepInterval)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("federation core listening on port %s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down")
	sweepCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("server shutdown failed: %v", err)
	}

	bus.Wait()
	log.Println("server stopped")
}

// staleWebmentionAdapter adapts OutgoingWebmentionRepository.ListStale's
// []*store.Webmention to jobs.StaleOutgoingWebmentionLister's narrower
// shape, keeping the jobs package free of a store dependency.
type staleWebmentionAdapter struct {
	outgoing *store.OutgoingWebmentionRepository
}

func (a staleWebmentionAdapter) ListStale(ctx context.Context, olderThan time.Duration) ([]jobs.StaleWebmention, error) {
	rows, err := a.outgoing.ListStale(ctx, olderThan)
	if err != nil {
		return nil, err
	}
	stale := make([]jobs.StaleWebmention, len(rows))
	for i, row := range rows {
		stale[i] = jobs.StaleWebmention{Source: row.Source, Target: row.Target}
	}
	return stale, nil
}

func seedTrustedDomains(ctx context.Context, repo *store.TrustedDomainRepository, domains []string) error {
	for _, d := range domains {
		if err := repo.Upsert(ctx, d); err != nil {
			return err
		}
	}
	return nil
}
