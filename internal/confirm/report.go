package confirm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/couchbase/gocb/v2"

	"pubconfirm/internal/couchbase"
)

// Report is the record of one campaign run, successful or not.
type Report struct {
	ID                 string        `json:"id"`
	CampaignID         string        `json:"campaignID"`
	Strategy           StrategyKind  `json:"strategy"`
	Messages           int           `json:"messages"`
	Window             int           `json:"window,omitempty"`
	Outcome            Outcome       `json:"outcome,omitempty"`
	Failure            FailureKind   `json:"failure,omitempty"`
	Detail             string        `json:"detail,omitempty"`
	Elapsed            time.Duration `json:"elapsed"`
	Throughput         float64       `json:"throughput"`
	Nacked             int           `json:"nacked"`
	SequenceMismatches int           `json:"sequenceMismatches"`
	StartedAt          time.Time     `json:"startedAt"`

	couchbase.Cas `json:"-"`
}

// NewReport builds the report of a finished campaign. A failed campaign reports no
// elapsed time or throughput.
func NewReport(c Campaign, startedAt time.Time, res Result, err error) Report {
	r := Report{
		ID:         ReportKey(c.Strategy, c.ID),
		CampaignID: c.ID,
		Strategy:   c.Strategy,
		Messages:   c.Messages,
		Window:     c.Window,
		StartedAt:  startedAt.UTC(),
	}

	if err != nil {
		var f *Failure
		if !errors.As(err, &f) {
			f = NewFailure(c, err)
		}
		r.Failure = f.Kind
		r.Detail = f.Err.Error()
		return r
	}

	r.Outcome = res.Outcome
	r.Elapsed = res.Elapsed
	r.Throughput = res.Throughput()
	r.Nacked = res.Nacked
	r.SequenceMismatches = res.SequenceMismatches

	return r
}

// Succeeded reports whether the campaign finished without a failure.
func (r Report) Succeeded() bool {
	return r.Failure == ""
}

// Recorder keeps campaign reports.
type Recorder interface {
	// Record stores one campaign report.
	Record(ctx context.Context, r Report) error
}

func NewReportsStore(cluster *gocb.Cluster, bucket *gocb.Bucket, scope string) (*couchbase.Couchbase[Report], error) {
	collection := bucket.Scope(scope).Collection("reports")
	store, err := couchbase.NewCouchbase[Report](cluster, bucket, collection)
	if err != nil {
		return nil, err
	}

	return store, nil
}

func ReportKey(strategy StrategyKind, campaignID string) string {
	return fmt.Sprintf("report::%s::%s", strategy, campaignID)
}

// StrategyStats aggregates every recorded run of one strategy.
type StrategyStats struct {
	ID        string        `json:"id"`
	Strategy  StrategyKind  `json:"strategy"`
	Runs      int           `json:"runs"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Nacked    int           `json:"nacked"`
	Fastest   time.Duration `json:"fastest,omitempty"`
	LastRunAt time.Time     `json:"lastRunAt"`

	couchbase.Cas `json:"-"`
}

// Add folds r into the stats.
func (s *StrategyStats) Add(r Report) {
	s.Runs++
	s.Nacked += r.Nacked
	if r.StartedAt.After(s.LastRunAt) {
		s.LastRunAt = r.StartedAt
	}

	if !r.Succeeded() {
		s.Failed++
		return
	}

	s.Succeeded++
	if s.Fastest == 0 || r.Elapsed < s.Fastest {
		s.Fastest = r.Elapsed
	}
}

func NewStatsStore(cluster *gocb.Cluster, bucket *gocb.Bucket, scope string) (*couchbase.Couchbase[StrategyStats], error) {
	collection := bucket.Scope(scope).Collection("stats")
	store, err := couchbase.NewCouchbase[StrategyStats](cluster, bucket, collection)
	if err != nil {
		return nil, err
	}

	return store, nil
}

func StatsKey(strategy StrategyKind) string {
	return fmt.Sprintf("stats::%s", strategy)
}
