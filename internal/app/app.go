// Package app builds the service graph shared by the server and the admin CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"anonchat/backend/internal/chat"
	"anonchat/backend/internal/complaint"
	"anonchat/backend/internal/config"
	"anonchat/backend/internal/localization"
	"anonchat/backend/internal/logger"
	"anonchat/backend/internal/matchmaking"
	"anonchat/backend/internal/notify"
	"anonchat/backend/internal/recommend"
	"anonchat/backend/internal/storage"

	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Collections are the document collections, one remote table each.
var Collections = []string{
	chat.SessionCollection,
	chat.UserChatsCollection,
	chat.GroupCollection,
	chat.GroupMemberCollection,
	chat.GroupMessageCollection,
	chat.ReportCollection,
	matchmaking.QueueCollection,
	notify.NotificationCollection,
	notify.FlagCollection,
}

// Indexes are the secondary indexes the ordered queries need.
var Indexes = []storage.IndexSpec{
	matchmaking.QueueIndex,
	chat.ActiveSessionIndex,
}

type App struct {
	Config *config.Config
	Log    *logger.Logger

	Remote storage.RemoteStore
	Dynamo *storage.DynamoStore
	Store  *storage.Fallback
	DB     *gorm.DB
	Redis  *redis.Client

	Users      *storage.UserRepository
	Relay      *notify.Relay
	Chats      *chat.Lifecycle
	Groups     *chat.Groups
	Factory    *chat.Factory
	Complaints *complaint.Service
	Queue      *matchmaking.Queue
	Resolver   *matchmaking.Resolver
	Poller     *matchmaking.Poller
	Searches   *matchmaking.Registry
	Scorer     *recommend.Scorer
}

// New connects every backend and wires the domain services. The remote
// document store is DynamoDB when a region or endpoint is configured and an
// in-process store otherwise.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log}

	if cfg.Dynamo.Region != "" || cfg.Dynamo.Endpoint != "" {
		client, err := storage.NewDynamoClient(ctx, cfg.Dynamo.Region, cfg.Dynamo.Endpoint)
		if err != nil {
			return nil, err
		}
		a.Dynamo = storage.NewDynamoStore(client, cfg.Dynamo.TablePrefix)
		a.Remote = a.Dynamo
		if cfg.Dynamo.AutoProvision {
			pctx, cancel := context.WithTimeout(ctx, 3*time.Minute)
			err := a.Dynamo.EnsureTables(pctx, Collections, Indexes)
			cancel()
			if err != nil {
				log.Warnf("Table provisioning failed, continuing: %v", err)
			}
		}
	} else {
		log.Infof("No DynamoDB region configured, using the in-process document store")
		a.Remote = storage.NewMemoryRemote()
	}

	local, err := storage.NewLocalStore(cfg.Local.SnapshotPath)
	if err != nil {
		return nil, fmt.Errorf("open local snapshot: %w", err)
	}
	a.Store, err = storage.NewFallback(a.Remote, local, storage.FallbackConfig{
		CheckInterval:   cfg.Persistence.CheckInterval,
		RemoteTimeout:   cfg.Persistence.RemoteTimeout,
		IndexRetryDelay: cfg.Persistence.IndexRetryDelay,
		AutoProvision:   cfg.Dynamo.AutoProvision,
	}, log)
	if err != nil {
		return nil, err
	}

	a.DB, err = gorm.Open(postgres.Open(cfg.Postgres.DSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("connect PostgreSQL: %w", err)
	}
	if err := storage.AutoMigrate(a.DB); err != nil {
		a.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	a.Users = storage.NewUserRepository(a.DB)

	var bus notify.Bus = notify.NewLocalBus()
	var lease matchmaking.Lease = matchmaking.NewMemoryLease()
	if cfg.Redis.Enabled {
		a.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("connect Redis: %w", err)
		}
		bus = notify.NewRedisBus(a.Redis, log)
		lease = matchmaking.NewRedisLease(a.Redis)
	}

	texts, err := localization.Embedded()
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Relay = notify.NewRelay(a.Store, bus, log)
	a.Factory = chat.NewFactory(a.Store, texts, log)
	a.Chats = chat.NewLifecycle(a.Store, storage.NewPostgresStats(a.DB), a.Relay, texts, log)
	a.Groups = chat.NewGroups(a.Store, a.Relay, texts, log)
	a.Complaints = complaint.NewService(a.Users, a.Chats, a.Store, log)
	a.Queue = matchmaking.NewQueue(a.Store, log)
	a.Resolver = matchmaking.NewResolver(a.Queue, a.Factory, a.Relay, log,
		matchmaking.WithStrategy(matchmaking.Strategy(cfg.Matchmaking.Strategy)),
		matchmaking.WithLease(lease, cfg.Matchmaking.LeaseTTL),
		matchmaking.WithBanChecker(a.Complaints),
	)
	a.Poller, err = matchmaking.NewPoller(a.Resolver, a.Queue, a.Relay, cfg.Matchmaking.PollInterval, log)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Searches = matchmaking.NewRegistry(a.Poller)
	a.Scorer = recommend.NewScorer(a.Users, a.Chats, a.Complaints, a.Queue, log)

	return a, nil
}

// Close stops background work and releases every connection.
func (a *App) Close() error {
	var errs []error
	if a.Searches != nil {
		a.Searches.StopAll()
	}
	if a.Poller != nil {
		errs = append(errs, a.Poller.Shutdown())
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			errs = append(errs, sqlDB.Close())
		}
	}
	return errors.Join(errs...)
}
