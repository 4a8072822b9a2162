package main

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"github.com/fuomag9/dynamics-sync-lite/internal/activity"
	"github.com/fuomag9/dynamics-sync-lite/internal/api"
	"github.com/fuomag9/dynamics-sync-lite/internal/cache"
	"github.com/fuomag9/dynamics-sync-lite/internal/config"
	"github.com/fuomag9/dynamics-sync-lite/internal/database"
	"github.com/fuomag9/dynamics-sync-lite/internal/dynamics"
	"github.com/fuomag9/dynamics-sync-lite/internal/identity"
	"github.com/fuomag9/dynamics-sync-lite/internal/jobs"
	"github.com/fuomag9/dynamics-sync-lite/internal/oauth"
	"github.com/fuomag9/dynamics-sync-lite/internal/profile"
	"github.com/fuomag9/dynamics-sync-lite/internal/secure"
	"github.com/fuomag9/dynamics-sync-lite/internal/session"
	"github.com/fuomag9/dynamics-sync-lite/internal/settings"
)

// app holds everything the subcommands share.
type app struct {
	cfg      *config.Config
	db       *gorm.DB
	store    cache.Store
	settings *settings.Service
	activity *activity.Recorder
	contacts dynamics.ContactAPI
	deps     api.Dependencies
}

// openDatabase connects and brings the schema up to date.
func openDatabase(cfg *config.Config) (*gorm.DB, error) {
	db, err := database.Connect(cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := database.RunMigrations(db); err != nil {
		return nil, err
	}
	return db, nil
}

// newApp wires the services. Demo mode is decided here, once.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	db, err := openDatabase(cfg)
	if err != nil {
		return nil, err
	}

	store, err := cache.New(cfg.Cache)
	if err != nil {
		return nil, err
	}
	if rs, ok := store.(*cache.RedisStore); ok {
		if err := rs.Ping(ctx); err != nil {
			return nil, fmt.Errorf("failed to reach redis: %w", err)
		}
	}

	sealer, err := secure.NewSealer(cfg.Session.Secret, "settings")
	if err != nil {
		return nil, err
	}
	settingsSvc := settings.NewService(settings.NewGormRepository(db), sealer)
	settingsSvc.AllowPrivateHosts = cfg.Dynamics.AllowPrivateHosts
	if err := settingsSvc.Seed(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to seed settings: %w", err)
	}

	sessions, err := session.NewManager(store, session.Options{
		Secret:     cfg.Session.Secret,
		CookieName: cfg.Session.CookieName,
		Secure:     cfg.IsProduction(),
		DefaultTTL: cfg.Session.DefaultTTL,
	})
	if err != nil {
		return nil, err
	}

	states := oauth.NewStateStore(store, nil)
	var provider oauth.Provider
	var contacts dynamics.ContactAPI
	if cfg.DemoMode {
		provider = oauth.NewDemoProvider(states, cfg.CallbackURL())
		contacts = dynamics.NewDemoClient(cfg.Dynamics.DemoDelay)
	} else {
		client := oauth.NewClient(settingsSvc, states, oauth.NewTokenCache(store, nil), oauth.ClientOptions{
			RedirectURL:  cfg.CallbackURL(),
			AuthorityURL: cfg.OAuth.AuthorityURL,
			GraphURL:     cfg.OAuth.GraphURL,
			Timeout:      cfg.RequestTimeout,
		})
		provider = client
		contacts = dynamics.NewClient(settingsSvc, client, cfg.RequestTimeout)
	}

	identities := identity.NewGormStore(db)
	recorder := activity.NewRecorder(activity.NewGormRepository(db), settingsSvc.LoggingEnabled)

	var limiter *api.RateLimiter
	if cfg.Webhook.RateLimit > 0 {
		limiter = api.NewRateLimiter(rate.Limit(cfg.Webhook.RateLimit), cfg.Webhook.Burst)
	}

	a := &app{
		cfg:      cfg,
		db:       db,
		store:    store,
		settings: settingsSvc,
		activity: recorder,
		contacts: contacts,
	}
	a.deps = api.Dependencies{
		Config:         cfg,
		Provider:       provider,
		Sessions:       sessions,
		Profiles:       profile.NewService(contacts, identity.ProfileLinker{Store: identities}),
		Contacts:       contacts,
		Settings:       settingsSvc,
		Identities:     identities,
		Activity:       recorder,
		WebhookLimiter: limiter,
		Health:         a.health,
	}
	return a, nil
}

func (a *app) health(ctx context.Context) error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return err
	}
	if rs, ok := a.store.(*cache.RedisStore); ok {
		return rs.Ping(ctx)
	}
	return nil
}

// scheduler builds the background jobs for serve.
func (a *app) scheduler() *jobs.Scheduler {
	var sweepers jobs.Sweepers
	if ms, ok := a.store.(*cache.MemoryStore); ok {
		sweepers = append(sweepers, ms)
	}
	if a.deps.WebhookLimiter != nil {
		sweepers = append(sweepers, a.deps.WebhookLimiter)
	}

	var sweeper jobs.Sweeper
	if len(sweepers) > 0 {
		sweeper = sweepers
	}
	return jobs.NewScheduler(a.activity, sweeper, a.cfg.ActivityLog.RetentionDays)
}

func (a *app) Close() {
	if rs, ok := a.store.(*cache.RedisStore); ok {
		_ = rs.Close()
	}
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
