// Package bam computes the business activity monitoring view: read-only
// roll-ups over the wait queue, operator registry and recent conversations.
// Snapshots are derived data, recomputed on demand and never consulted by the
// write path.
package bam

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/relayhq/intake-engine/pkg/logging"
)

// QueueStats is the waiting picture of a single queue.
type QueueStats struct {
	QueueID        string  `json:"queue_id,omitempty"`
	Name           string  `json:"name"`
	Waiting        int     `json:"waiting"`
	AvgWaitSeconds float64 `json:"avg_wait_seconds"`
	MaxWaitSeconds float64 `json:"max_wait_seconds"`
}

// Snapshot is one point-in-time aggregate of the intake operation.
type Snapshot struct {
	GeneratedAt    time.Time      `json:"generated_at"`
	Waiting        int            `json:"waiting"`
	AvgWaitSeconds float64        `json:"avg_wait_seconds"`
	MaxWaitSeconds float64        `json:"max_wait_seconds"`
	SLACompliance  float64        `json:"sla_compliance_pct"`
	Queues         []QueueStats   `json:"queues"`
	Operators      map[string]int `json:"operators"`
	Sentiment      map[string]int `json:"sentiment"`
}

// Aggregator recomputes snapshots from Postgres.
type Aggregator struct {
	db     *sql.DB
	logger *logging.Logger

	slaThreshold    time.Duration
	sentimentWindow time.Duration
}

// NewAggregator creates a snapshot aggregator with default tuning: a 5 minute
// first-response SLA and a 7 day sentiment window.
func NewAggregator(db *sql.DB, logger *logging.Logger) *Aggregator {
	if db == nil {
		panic("bam: db is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Aggregator{
		db:              db,
		logger:          logger,
		slaThreshold:    5 * time.Minute,
		sentimentWindow: 7 * 24 * time.Hour,
	}
}

func (a *Aggregator) WithSLAThreshold(d time.Duration) *Aggregator {
	if d > 0 {
		a.slaThreshold = d
	}
	return a
}

func (a *Aggregator) WithSentimentWindow(d time.Duration) *Aggregator {
	if d > 0 {
		a.sentimentWindow = d
	}
	return a
}

// Compute builds a fresh snapshot. Partial failure fails the whole snapshot;
// callers keep serving the previous one.
func (a *Aggregator) Compute(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{
		GeneratedAt: time.Now().UTC(),
		Operators:   make(map[string]int),
		Sentiment:   make(map[string]int),
	}

	if err := a.collectQueues(ctx, snap); err != nil {
		return nil, err
	}
	if err := a.collectSLA(ctx, snap); err != nil {
		return nil, err
	}
	if err := a.collectOperators(ctx, snap); err != nil {
		return nil, err
	}
	if err := a.collectSentiment(ctx, snap); err != nil {
		return nil, err
	}
	return snap, nil
}

func (a *Aggregator) collectQueues(ctx context.Context, snap *Snapshot) error {
	rows, err := a.db.QueryContext(ctx, `
		SELECT COALESCE(q.id::text, ''), COALESCE(q.name, 'unrouted'),
		       COUNT(e.id),
		       COALESCE(AVG(EXTRACT(EPOCH FROM now() - e.enqueued_at)), 0),
		       COALESCE(MAX(EXTRACT(EPOCH FROM now() - e.enqueued_at)), 0)
		FROM queue_entries e
		LEFT JOIN queues q ON q.id = e.queue_id
		WHERE e.resolved_at IS NULL
		GROUP BY q.id, q.name
		ORDER BY COUNT(e.id) DESC`)
	if err != nil {
		return fmt.Errorf("bam: queue depth query: %w", err)
	}
	defer rows.Close()

	var weighted float64
	for rows.Next() {
		var qs QueueStats
		if err := rows.Scan(&qs.QueueID, &qs.Name, &qs.Waiting, &qs.AvgWaitSeconds, &qs.MaxWaitSeconds); err != nil {
			return fmt.Errorf("bam: scan queue stats: %w", err)
		}
		snap.Queues = append(snap.Queues, qs)
		snap.Waiting += qs.Waiting
		weighted += qs.AvgWaitSeconds * float64(qs.Waiting)
		if qs.MaxWaitSeconds > snap.MaxWaitSeconds {
			snap.MaxWaitSeconds = qs.MaxWaitSeconds
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("bam: iterate queue stats: %w", err)
	}
	if snap.Waiting > 0 {
		snap.AvgWaitSeconds = weighted / float64(snap.Waiting)
	}
	return nil
}

// collectSLA measures the fraction of resolved entries whose claim happened
// within the threshold. An empty history counts as fully compliant.
func (a *Aggregator) collectSLA(ctx context.Context, snap *Snapshot) error {
	var within, total int
	err := a.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FILTER (WHERE EXTRACT(EPOCH FROM claimed_at - enqueued_at) <= $1),
		       COUNT(*)
		FROM queue_entries
		WHERE resolved_at IS NOT NULL AND claimed_at IS NOT NULL`,
		a.slaThreshold.Seconds(),
	).Scan(&within, &total)
	if err != nil {
		return fmt.Errorf("bam: sla query: %w", err)
	}
	if total == 0 {
		snap.SLACompliance = 100
		return nil
	}
	snap.SLACompliance = float64(within) / float64(total) * 100
	return nil
}

func (a *Aggregator) collectOperators(ctx context.Context, snap *Snapshot) error {
	rows, err := a.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM operators GROUP BY status`)
	if err != nil {
		return fmt.Errorf("bam: operator status query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return fmt.Errorf("bam: scan operator status: %w", err)
		}
		snap.Operators[status] = count
	}
	return rows.Err()
}

func (a *Aggregator) collectSentiment(ctx context.Context, snap *Snapshot) error {
	since := time.Now().UTC().Add(-a.sentimentWindow)
	rows, err := a.db.QueryContext(ctx, `
		SELECT sentiment, COUNT(*)
		FROM conversations
		WHERE sentiment IS NOT NULL AND sentiment <> '' AND created_at >= $1
		GROUP BY sentiment`, since)
	if err != nil {
		return fmt.Errorf("bam: sentiment query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var sentiment string
		var count int
		if err := rows.Scan(&sentiment, &count); err != nil {
			return fmt.Errorf("bam: scan sentiment: %w", err)
		}
		snap.Sentiment[sentiment] = count
	}
	return rows.Err()
}
