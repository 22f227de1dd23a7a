package scylla

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"admin-gate/internal/config"
	"admin-gate/internal/util"
)

var identifier = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]{0,47}$`)

// PreparedStatements holds the statements used by the key-value store.
type PreparedStatements struct {
	Get    string
	Set    string
	Delete string
}

type ScyllaClient struct {
	Session      *gocql.Session
	config       *config.ScyllaConfig
	Prepared     *PreparedStatements
	prepareMutex sync.RWMutex
	isPrepared   bool
}

func NewScyllaClient(cfg *config.Config) (*ScyllaClient, error) {
	scyllaConfig := cfg.Scylla

	statements, err := buildStatements(scyllaConfig.Table)
	if err != nil {
		return nil, err
	}

	cluster := gocql.NewCluster(scyllaConfig.Nodes...)
	cluster.Keyspace = scyllaConfig.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	cluster.Timeout = 5 * time.Second
	cluster.ConnectTimeout = 10 * time.Second
	cluster.NumConns = 2
	cluster.SocketKeepalive = 30 * time.Second
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		Min:        100 * time.Millisecond,
		Max:        time.Second,
		NumRetries: 3,
	}

	if scyllaConfig.CAPath != "" {
		cluster.SslOpts = &gocql.SslOptions{
			CaPath:                 scyllaConfig.CAPath,
			CertPath:               scyllaConfig.CertPath,
			KeyPath:                scyllaConfig.KeyPath,
			EnableHostVerification: true,
		}
	}

	if scyllaConfig.Username != "" && scyllaConfig.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: scyllaConfig.Username,
			Password: scyllaConfig.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create scylla session: %w", err)
	}

	client := &ScyllaClient{
		Session: session,
		config:  &scyllaConfig,
	}

	if err := client.ensureTable(statements); err != nil {
		session.Close()
		return nil, err
	}

	util.Info("ScyllaDB client initialized",
		zap.Strings("nodes", scyllaConfig.Nodes),
		zap.String("keyspace", scyllaConfig.Keyspace),
		zap.String("table", scyllaConfig.Table))

	return client, nil
}

// buildStatements renders the CQL for table. The name is interpolated so it
// must be a plain identifier.
func buildStatements(table string) (*PreparedStatements, error) {
	if !identifier.MatchString(table) {
		return nil, fmt.Errorf("invalid scylla table name %q", table)
	}
	return &PreparedStatements{
		Get:    fmt.Sprintf(`SELECT value FROM %s WHERE key = ?`, table),
		Set:    fmt.Sprintf(`INSERT INTO %s (key, value) VALUES (?, ?)`, table),
		Delete: fmt.Sprintf(`DELETE FROM %s WHERE key IN ?`, table),
	}, nil
}

func createTableStatement(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (key text PRIMARY KEY, value text)`, table)
}

func (s *ScyllaClient) ensureTable(statements *PreparedStatements) error {
	s.prepareMutex.Lock()
	defer s.prepareMutex.Unlock()

	if s.isPrepared {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.Session.Query(createTableStatement(s.config.Table)).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("failed to create table %s: %w", s.config.Table, err)
	}

	s.Prepared = statements
	s.isPrepared = true
	return nil
}

func (s *ScyllaClient) Close() {
	if s.Session != nil {
		s.Session.Close()
		util.Info("ScyllaDB client closed")
	}
}

func (s *ScyllaClient) HealthCheck(ctx context.Context) error {
	var clusterName string
	err := s.Session.Query(`SELECT cluster_name FROM system.local`).WithContext(ctx).Scan(&clusterName)
	if err != nil {
		return fmt.Errorf("scylla health check failed: %w", err)
	}

	util.Debug("ScyllaDB health check passed", zap.String("cluster_name", clusterName))
	return nil
}
