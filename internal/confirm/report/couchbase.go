package report

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/couchbase/gocb/v2"
	"go.uber.org/zap"

	"pubconfirm/internal/confirm"
	"pubconfirm/internal/couchbase"
	"pubconfirm/internal/validator"
)

type CouchbaseConfig struct {
	Enabled          bool          `env:"COUCHBASE_ENABLED" envDefault:"false"`
	ConnectionString string        `env:"COUCHBASE_CONNECTION_STRING" envDefault:"couchbase://localhost"`
	Username         string        `env:"COUCHBASE_USERNAME" envDefault:"Administrator"`
	Password         string        `env:"COUCHBASE_PASSWORD" envDefault:"password"`
	BucketName       string        `env:"COUCHBASE_BUCKET_NAME" envDefault:"pubconfirm"`
	ScopeName        string        `env:"COUCHBASE_SCOPE_NAME" envDefault:"_default"`
	ReportTTL        time.Duration `env:"COUCHBASE_REPORT_TTL" envDefault:"168h"`

	// TransactionTimeout bounds the stats update of one report.
	TransactionTimeout time.Duration `env:"COUCHBASE_TRANSACTION_TIMEOUT" envDefault:"10s"`
}

// ConnectCouchbase opens the cluster and waits for the report bucket.
func ConnectCouchbase(config CouchbaseConfig) (*gocb.Cluster, *gocb.Bucket, error) {
	cluster, err := gocb.Connect(config.ConnectionString, gocb.ClusterOptions{
		Authenticator: gocb.PasswordAuthenticator{
			Username: config.Username,
			Password: config.Password,
		},
		TimeoutsConfig: gocb.TimeoutsConfig{
			ConnectTimeout: 10 * time.Second,
			KVTimeout:      5 * time.Second,
			QueryTimeout:   30 * time.Second,
		},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to cluster: %w", err)
	}

	bucket := cluster.Bucket(config.BucketName)

	if err := bucket.WaitUntilReady(5*time.Second, nil); err != nil {
		return nil, nil, fmt.Errorf("bucket not ready: %w", err)
	}

	return cluster, bucket, nil
}

// CouchbaseRecorder stores every report and keeps per-strategy stats up to date.
type CouchbaseRecorder struct {
	reports      *couchbase.Couchbase[confirm.Report]
	stats        *couchbase.Couchbase[confirm.StrategyStats]
	transactions *couchbase.Transactions
	logger       *zap.Logger
	ttl          time.Duration
}

func NewCouchbaseRecorder(
	reports *couchbase.Couchbase[confirm.Report],
	stats *couchbase.Couchbase[confirm.StrategyStats],
	transactions *couchbase.Transactions,
	logger *zap.Logger,
	ttl time.Duration,
) (*CouchbaseRecorder, error) {
	r := CouchbaseRecorder{
		reports:      reports,
		stats:        stats,
		transactions: transactions,
		logger:       logger,
		ttl:          ttl,
	}

	if err := validator.Validate("couchbase recorder", r.reports, r.stats, r.transactions, r.logger, r.ttl); err != nil {
		return nil, fmt.Errorf("failed to validate couchbase recorder dependencies: %w", err)
	}

	r.logger = logger.Named("couchbase-recorder")

	return &r, nil
}

// Record implements confirm.Recorder.Record. Re-recording a report is a no-op for the report
// document, and the stats are only folded in when the report was new.
func (c *CouchbaseRecorder) Record(ctx context.Context, r confirm.Report) error {
	err := c.reports.Insert(ctx, r.ID, r, &gocb.InsertOptions{Expiry: c.ttl})
	switch {
	case err == nil:
	case errors.Is(err, gocb.ErrDocumentExists):
		c.logger.Debug("report already recorded", zap.String("id", r.ID))
		return nil
	default:
		return fmt.Errorf("failed to insert report %s: %w", r.ID, err)
	}

	if err := c.addStats(r); err != nil {
		return fmt.Errorf("failed to update stats for %s: %w", r.Strategy, err)
	}

	return nil
}

// Stats returns the accumulated stats of strategy.
func (c *CouchbaseRecorder) Stats(ctx context.Context, strategy confirm.StrategyKind) (confirm.StrategyStats, error) {
	s, err := c.stats.Get(ctx, confirm.StatsKey(strategy), nil)
	switch {
	case err == nil:
		return *s, nil
	case errors.Is(err, gocb.ErrDocumentNotFound):
		return confirm.StrategyStats{ID: confirm.StatsKey(strategy), Strategy: strategy}, nil
	default:
		return confirm.StrategyStats{}, fmt.Errorf("failed to get stats: %w", err)
	}
}

func (c *CouchbaseRecorder) addStats(r confirm.Report) error {
	key := confirm.StatsKey(r.Strategy)

	_, err := c.transactions.Run(func(tx couchbase.Tx) error {
		return couchbase.Modify(tx, c.stats, key,
			func() confirm.StrategyStats {
				return confirm.StrategyStats{ID: key, Strategy: r.Strategy}
			},
			func(s *confirm.StrategyStats) {
				s.Add(r)
			},
		)
	})
	if err != nil {
		return fmt.Errorf("failed to commit stats transaction: %w", err)
	}

	return nil
}
