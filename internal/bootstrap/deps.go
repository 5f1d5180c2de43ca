// Package bootstrap wires every port/adapter implementation into the
// concrete dependency graph the HTTP surface, worker pipeline, and
// periodic maintainer run against.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/oauth2"
	oauthgoogle "golang.org/x/oauth2/google"
	"golang.org/x/oauth2/microsoft"

	gcal "google.golang.org/api/calendar/v3"

	"tminus/adapter/in/worker"
	"tminus/adapter/out/graph"
	journalstore "tminus/adapter/out/mongo"
	"tminus/adapter/out/messaging"
	"tminus/adapter/out/persistence"
	"tminus/adapter/out/provider"
	"tminus/config"
	"tminus/core/domain"
	"tminus/core/port/in"
	"tminus/core/port/out"
	"tminus/core/service/account"
	graphsvc "tminus/core/service/graph"
	"tminus/core/service/maintainer"
	"tminus/core/service/scheduler"
	"tminus/infra/database"
	"tminus/pkg/crypto"
)

// Dependencies is the fully wired object graph shared by every entrypoint
// (serve/worker/maintainer). Not every field is populated in every mode —
// NewDependencies builds the whole graph regardless, since the cost of an
// idle *sqlx.DB or *redis.Client handle is trivial next to three separate
// bootstrap paths drifting out of sync.
type Dependencies struct {
	Config *config.Config

	DB      *sqlx.DB
	Redis   *redis.Client
	MongoDB *mongo.Client
	Neo4j   neo4j.DriverWithContext

	AccountRepo domain.AccountRepository
	UserRepo    domain.UserRepository

	ProviderFactory out.CalendarProviderFactory
	OAuthConfigs    account.OAuthConfigs

	SyncQueue  out.SyncQueue
	WriteQueue out.WriteQueue

	Accounts  in.AccountService
	Graph     in.GraphService
	Scheduler in.SchedulerService

	Maintainer *maintainer.Maintainer
}

func NewDependencies(cfg *config.Config) (*Dependencies, func(), error) {
	deps := &Dependencies{Config: cfg}
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	if err := crypto.Init(); err != nil {
		return nil, nil, fmt.Errorf("bootstrap: init token encryption: %w", err)
	}

	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("bootstrap: connect postgres: %w", err)
	}
	deps.DB = db
	cleanups = append(cleanups, func() { db.Close() })

	redisClient, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("bootstrap: connect redis: %w", err)
	}
	deps.Redis = redisClient
	cleanups = append(cleanups, func() { redisClient.Close() })

	if cfg.MongoDBURL != "" {
		mongoClient, err := journalstore.NewClient(cfg.MongoDBURL, cfg.MongoDBName)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("bootstrap: connect mongodb: %w", err)
		}
		deps.MongoDB = mongoClient
		cleanups = append(cleanups, func() { mongoClient.Disconnect(context.Background()) })
	}

	if cfg.Neo4jURL != "" {
		neo4jDriver, err := graph.NewDriver(cfg.Neo4jURL, cfg.Neo4jUsername, cfg.Neo4jPassword)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("bootstrap: connect neo4j: %w", err)
		}
		deps.Neo4j = neo4jDriver
		cleanups = append(cleanups, func() { neo4jDriver.Close(context.Background()) })
	}

	// Persistence adapters (Postgres)
	accountAdapter := persistence.NewAccountAdapter(deps.DB)
	userAdapter := persistence.NewUserAdapter(deps.DB)
	eventAdapter := persistence.NewEventAdapter(deps.DB)
	mirrorAdapter := persistence.NewMirrorAdapter(deps.DB)
	policyAdapter := persistence.NewPolicyAdapter(deps.DB)
	holdAdapter := persistence.NewHoldAdapter(deps.DB)
	governanceAdapter := persistence.NewGovernanceAdapter(deps.DB)
	sessionAdapter := persistence.NewSessionAdapter(deps.DB)
	sessionRegistryAdapter := persistence.NewSessionRegistryAdapter(deps.DB)

	deps.AccountRepo = accountAdapter
	deps.UserRepo = userAdapter

	// Journal store (MongoDB) and relationship store (Neo4j) degrade to nil
	// when their backing store isn't configured; the Graph Coordinator's
	// Stores fields simply go unused in that case rather than the whole
	// process failing to start.
	var journalStore domain.JournalStore
	if deps.MongoDB != nil {
		journalStore = journalstore.NewJournalAdapter(deps.MongoDB, cfg.MongoDBName)
	}
	var relationshipStore domain.RelationshipStore
	if deps.Neo4j != nil {
		relationshipStore = graph.NewRelationshipAdapter(deps.Neo4j, "neo4j")
	}

	// Calendar provider factory
	factory := provider.NewFactory(provider.FactoryConfig{
		GoogleClientID:        cfg.GoogleClientID,
		GoogleClientSecret:    cfg.GoogleClientSecret,
		GoogleRedirectURL:     cfg.GoogleRedirectURL,
		GoogleWebhookURL:      cfg.GoogleWebhookURL,
		MicrosoftClientID:     cfg.MicrosoftClientID,
		MicrosoftClientSecret: cfg.MicrosoftClientSecret,
		MicrosoftRedirectURL:  cfg.MicrosoftRedirectURL,
		MicrosoftTenantID:     cfg.MicrosoftTenantID,
		MicrosoftWebhookURL:   cfg.MicrosoftWebhookURL,
		CalDAVEndpoint:        cfg.CalDAVEndpoint,
	})
	deps.ProviderFactory = factory

	deps.OAuthConfigs = buildOAuthConfigs(cfg)

	// Queues (Redis Streams)
	deps.SyncQueue = messaging.NewRedisSyncQueue(deps.Redis)
	deps.WriteQueue = messaging.NewRedisWriteQueue(deps.Redis)

	// Account Coordinator
	deps.Accounts = account.New(deps.AccountRepo, deps.ProviderFactory, deps.OAuthConfigs)

	// User Graph Coordinator — workerID identifies this process to the
	// journal's snowflake sequence; distinct processes must not collide.
	workerID := workerIDFromConfig(cfg.WorkerID)
	graphCoordinator, err := graphsvc.New(graphsvc.Stores{
		Events:        eventAdapter,
		Mirrors:       mirrorAdapter,
		Policies:      policyAdapter,
		Journal:       journalStore,
		Sessions:      sessionAdapter,
		Holds:         holdAdapter,
		Governance:    governanceAdapter,
		Relationships: relationshipStore,
		Accounts:      deps.AccountRepo,
	}, workerID)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("bootstrap: init graph coordinator: %w", err)
	}
	deps.Graph = graphCoordinator

	// Group Scheduler
	schedulerCoordinator := scheduler.New(deps.Graph, sessionRegistryAdapter)
	deps.Scheduler = schedulerCoordinator

	// Periodic Maintainer — the Sync Pipeline's drift reconciler is wired
	// here rather than left nil, so the daily drift_reconciliation job
	// actually repairs mirrors that drifted out from under a missed
	// webhook.
	deps.Maintainer = maintainer.New(maintainer.Deps{
		Accounts:         deps.Accounts,
		AccountRegistry:  deps.AccountRepo,
		Graph:            deps.Graph,
		UserMailboxes:    graphCoordinator,
		SessionMailboxes: schedulerCoordinator,
		Drift:            worker.NewDriftReconciler(deps.AccountRepo, deps.SyncQueue),
	})

	return deps, cleanup, nil
}

func buildOAuthConfigs(cfg *config.Config) account.OAuthConfigs {
	configs := account.OAuthConfigs{}

	if cfg.GoogleClientID != "" {
		configs[domain.AccountProviderGoogle] = &oauth2.Config{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
			Scopes:       []string{gcal.CalendarScope},
			Endpoint:     oauthgoogle.Endpoint,
		}
	}

	if cfg.MicrosoftClientID != "" {
		tenant := cfg.MicrosoftTenantID
		if tenant == "" {
			tenant = "common"
		}
		configs[domain.AccountProviderMicrosoft] = &oauth2.Config{
			ClientID:     cfg.MicrosoftClientID,
			ClientSecret: cfg.MicrosoftClientSecret,
			RedirectURL:  cfg.MicrosoftRedirectURL,
			Scopes: []string{
				"https://graph.microsoft.com/Calendars.ReadWrite",
				"offline_access",
			},
			Endpoint: microsoft.AzureADEndpoint(tenant),
		}
	}

	return configs
}

// workerIDFromConfig derives the snowflake generator's worker id from the
// configured WORKER_ID string (hostname-pid), hashing it down to the
// 10-bit range snowflake.NewGenerator expects.
func workerIDFromConfig(id string) int64 {
	var h int64
	for _, r := range id {
		h = (h*31 + int64(r)) & 0x3FF
	}
	return h
}

func (d *Dependencies) HealthCheck(ctx context.Context) error {
	if err := d.DB.PingContext(ctx); err != nil {
		return err
	}
	if d.Redis != nil {
		if err := d.Redis.Ping(ctx).Err(); err != nil {
			return err
		}
	}
	return nil
}
