package factory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"admin-gate/internal/audit"
	"admin-gate/internal/client"
	"admin-gate/internal/config"
	"admin-gate/internal/encryption"
	"admin-gate/internal/guard"
	"admin-gate/internal/hashing"
	"admin-gate/internal/repository/memory"
	"admin-gate/internal/repository/redis"
	"admin-gate/internal/repository/scylla"
	"admin-gate/internal/tls"
	"admin-gate/internal/util"
)

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config     *config.Config
	tlsManager *tls.TLSManager

	// Clients
	redisClient      *client.RedisClient
	scyllaClient     *scylla.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient

	store             guard.Store
	sink              audit.Sink
	digester          *hashing.TokenDigester
	encryptionManager *encryption.EncryptionManager
	guard             *guard.Guard

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory builds every dependency from cfg. The store backend is
// required; audit sinks that fail to start are skipped outside production.
func NewFactory(ctx context.Context, cfg *config.Config) (*Factory, error) {
	for _, w := range cfg.Warnings {
		util.Warn("Configuration warning", util.String("detail", w))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	f := &Factory{
		config: cfg,
		closed: make(chan struct{}),
	}

	if cfg.Server.EnableTLS {
		f.tlsManager = tls.NewTLSManager(cfg)
	}

	initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := f.initializeStore(initCtx); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	if err := f.initializeAudit(initCtx); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to initialize audit sinks: %w", err)
	}
	f.initializeGuard(initCtx)

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.String("store_backend", cfg.Store.Backend),
		util.Strings("audit_sinks", cfg.Audit.Sinks),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.Bool("kms_enabled", cfg.KMS.Enabled),
	)

	return f, nil
}

func (f *Factory) initializeStore(ctx context.Context) error {
	switch f.config.Store.Backend {
	case config.StoreRedis:
		rc, err := client.NewRedisClient(f.config)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		f.redisClient = rc
		f.store = redis.NewKVStore(rc.Client)
	case config.StoreScylla:
		sc, err := scylla.NewScyllaClient(f.config)
		if err != nil {
			return fmt.Errorf("scylla: %w", err)
		}
		f.scyllaClient = sc
		if err := sc.HealthCheck(ctx); err != nil {
			return fmt.Errorf("scylla health check: %w", err)
		}
		f.store = scylla.NewKVStore(sc)
	default:
		if f.config.IsProduction() {
			util.Warn("In-memory store selected: gate state is lost on restart and not shared between replicas")
		}
		f.store = memory.NewKVStore()
	}

	util.Info("Session store initialized", util.String("backend", f.config.Store.Backend))
	return nil
}

func (f *Factory) initializeAudit(ctx context.Context) error {
	var (
		sinks      []audit.Sink
		initErrors []error
	)

	for _, name := range f.config.Audit.Sinks {
		switch name {
		case config.SinkLog:
			sinks = append(sinks, audit.NewLogSink(util.Get()))

		case config.SinkKafka:
			producer, err := client.NewKafkaProducer(f.config)
			if err != nil {
				initErrors = append(initErrors, fmt.Errorf("kafka: %w", err))
				continue
			}
			f.kafkaProducer = producer
			sinks = append(sinks, audit.NewKafkaSink(producer, f.config.Kafka.AuditTopic))

		case config.SinkElasticsearch:
			es, err := client.NewElasticsearchClient(f.config)
			if err != nil {
				initErrors = append(initErrors, fmt.Errorf("elasticsearch: %w", err))
				continue
			}
			f.esClient = es
			sinks = append(sinks, audit.NewElasticsearchSink(es, f.config.Elasticsearch.AuditIndex))

		case config.SinkClickhouse:
			ch, err := client.NewClickHouseClient(f.config)
			if err != nil {
				initErrors = append(initErrors, fmt.Errorf("clickhouse: %w", err))
				continue
			}
			f.clickhouseClient = ch
			sink, err := audit.NewClickHouseSink(ch, f.config.Clickhouse.AuditTable)
			if err != nil {
				initErrors = append(initErrors, fmt.Errorf("clickhouse: %w", err))
				continue
			}
			if err := sink.EnsureTable(ctx); err != nil {
				initErrors = append(initErrors, fmt.Errorf("clickhouse table: %w", err))
				continue
			}
			sinks = append(sinks, sink)
		}
	}

	if len(initErrors) > 0 {
		if f.config.IsProduction() {
			return fmt.Errorf("critical audit sink initialization failed: %w", errors.Join(initErrors...))
		}
		for _, err := range initErrors {
			util.Warn("Audit sink initialization warning", util.ErrorField(err))
		}
	}

	switch len(sinks) {
	case 0:
		f.sink = audit.NopSink{}
	case 1:
		f.sink = sinks[0]
	default:
		f.sink = audit.NewMultiSink(sinks...)
	}
	util.Info("Audit sinks initialized", util.Int("count", len(sinks)), util.String("sink", f.sink.Name()))
	return nil
}

// initializeGuard resolves the credential and builds the gate. A credential
// that cannot be resolved is logged and left empty so every login fails
// closed with a configuration error.
func (f *Factory) initializeGuard(ctx context.Context) {
	var decrypter encryption.Decrypter
	if f.config.KMS.Enabled {
		kmsClient, err := encryption.NewKMSClient(ctx, f.config.KMS.Region)
		if err != nil {
			util.Error("Failed to create KMS client", util.ErrorField(err))
		} else {
			decrypter = kmsClient
		}
	}
	f.encryptionManager = encryption.NewEncryptionManager(f.config, decrypter)

	credential, err := f.encryptionManager.ResolveCredential(ctx)
	if err != nil {
		util.Error("Failed to resolve admin credential", util.ErrorField(err))
		credential = ""
	}
	if credential == "" {
		util.Error("No admin credential configured: every login will be rejected")
	}

	tokens := guard.NewTokenSource(f.config.Auth.AllowWeakTokens)
	if err := tokens.Probe(); err != nil {
		if tokens.AllowsWeak() {
			util.Warn("Strong random source unusable: session tokens will be predictable", util.ErrorField(err))
		} else {
			util.Error("Strong random source unusable: logins will fail until it recovers", util.ErrorField(err))
		}
	}

	f.digester = hashing.NewTokenDigester(hashing.DefaultSeed)
	f.guard = guard.New(f.store, f.digester, guard.Settings{
		Credential:      credential,
		SessionTimeout:  f.config.Auth.SessionTimeout(),
		MaxAttempts:     f.config.Auth.MaxLoginAttempts,
		LockoutDuration: f.config.Auth.LockoutDuration(),
		KeyPrefix:       f.config.Store.KeyPrefix,
	},
		guard.WithAuditSink(f.sink),
		guard.WithLogger(util.Get()),
		guard.WithTokenSource(tokens),
	)

	util.Info("Session guard initialized",
		util.Bool("configured", f.guard.Configured()),
		util.Int("max_attempts", f.guard.MaxAttempts()),
		util.Duration("session_timeout", f.guard.SessionTimeout()),
		util.Duration("lockout_duration", f.config.Auth.LockoutDuration()),
	)
}

// RunMonitor logs every state change of the gate until ctx is cancelled.
// Session expiry found here is audited by the guard itself.
func (f *Factory) RunMonitor(ctx context.Context) error {
	var last guard.Snapshot
	first := true
	monitor := guard.NewMonitor(f.guard, f.config.Auth.LockCountdownInterval, f.config.Auth.SessionCheckInterval,
		func(snap guard.Snapshot) {
			if !first && snap.State == last.State {
				return
			}
			first, last = false, snap
			util.Info("Gate state",
				util.String("state", snap.State.String()),
				util.Int("failed_attempts", snap.FailedAttempts),
				util.Int("remaining_lock_seconds", snap.RemainingLockSeconds),
			)
		})
	return monitor.Run(ctx)
}

// HealthCheck checks the store and every audit client concurrently and
// returns the first failure.
func (f *Factory) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	if f.redisClient != nil {
		g.Go(func() error { return named("redis", f.redisClient.HealthCheck(ctx)) })
	}
	if f.scyllaClient != nil {
		g.Go(func() error { return named("scylla", f.scyllaClient.HealthCheck(ctx)) })
	}
	if f.kafkaProducer != nil {
		g.Go(func() error { return named("kafka", f.kafkaProducer.HealthCheck(ctx)) })
	}
	if f.esClient != nil {
		g.Go(func() error { return named("elasticsearch", f.esClient.HealthCheck(ctx)) })
	}
	if f.clickhouseClient != nil {
		g.Go(func() error { return named("clickhouse", f.clickhouseClient.HealthCheck(ctx)) })
	}

	return g.Wait()
}

func named(component string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", component, err)
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("Shutting down factory...")

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				util.Error("Failed to close ClickHouse client", util.ErrorField(err))
			} else {
				util.Info("ClickHouse client closed")
			}
		}

		if f.esClient != nil {
			f.esClient.Close()
			util.Info("Elasticsearch client closed")
		}

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			} else {
				util.Info("Kafka producer closed")
			}
		}

		if f.scyllaClient != nil {
			f.scyllaClient.Close()
			util.Info("ScyllaDB client closed")
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			} else {
				util.Info("Redis client closed")
			}
		}

		util.Info("Factory shutdown completed")
		util.Sync()
	})

	return nil
}

func (f *Factory) WaitForClose() {
	<-f.closed
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) TLSManager() *tls.TLSManager {
	return f.tlsManager
}

func (f *Factory) Guard() *guard.Guard {
	return f.guard
}

func (f *Factory) Store() guard.Store {
	return f.store
}
