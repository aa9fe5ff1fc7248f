// Package db persists verdicts and offline-learning feature rows to
// PostgreSQL. The engine runs fine without it; a nil store just means
// records are dropped.
package db

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/perimeterlab/botshield-engine/pkg/models"
)

// schemaSQL is compiled into the binary so schema init works inside the
// runtime image, which does not ship internal/db/schema.sql.
//
//go:embed schema.sql
var schemaSQL string

type LearningStore struct {
	pool *pgxpool.Pool
}

// Connect initializes the PostgreSQL connection pool.
func Connect(connStr string) (*LearningStore, error) {
	pool, err := pgxpool.New(context.Background(), connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %v", err)
	}
	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping failed: %v", err)
	}

	log.Println("[DB] connected to PostgreSQL")
	return &LearningStore{pool: pool}, nil
}

// Close gracefully closes the connection pool.
func (s *LearningStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InitSchema executes the embedded DDL statements.
func (s *LearningStore) InitSchema() error {
	if _, err := s.pool.Exec(context.Background(), schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema migrations: %v", err)
	}
	log.Println("[DB] verdict schema initialized")
	return nil
}

// SaveEvidence persists one aggregated verdict row.
func (s *LearningStore) SaveEvidence(ctx context.Context, ev *models.Evidence) error {
	sql := `
		INSERT INTO verdicts
			(evaluation_id, signature, is_bot, bot_probability, confidence,
			 risk_band, bot_type, bot_name, action, policy_name, partial, processing_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12);
	`
	_, err := s.pool.Exec(ctx, sql,
		ev.EvaluationID, ev.PrimarySignature, ev.IsBot, ev.BotProbability, ev.Confidence,
		ev.RiskBand.String(), string(ev.BotType), ev.BotName,
		ev.RecommendedAction.String(), ev.PolicyName, ev.Partial, ev.ProcessingMs)
	return err
}

// SaveLearningRecords batch-inserts the feature rows drained from one
// evaluation in a single transaction.
func (s *LearningStore) SaveLearningRecords(ctx context.Context, recs []models.LearningRecord) error {
	if len(recs) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	sql := `
		INSERT INTO learning_records
			(signature, label, bot_probability, features, source, observed_ms)
		VALUES ($1, $2, $3, $4, $5, $6);
	`
	for _, rec := range recs {
		var features []byte
		if len(rec.Features) > 0 {
			features, err = json.Marshal(rec.Features)
			if err != nil {
				return fmt.Errorf("failed to encode features: %v", err)
			}
		}
		if _, err := tx.Exec(ctx, sql,
			rec.Signature, rec.Label, rec.BotProbability, features, rec.Source, rec.UnixMs); err != nil {
			return fmt.Errorf("failed to insert learning record: %v", err)
		}
	}
	return tx.Commit(ctx)
}

// VerdictRow is one persisted verdict as served by the history endpoint.
type VerdictRow struct {
	EvaluationID   string  `json:"evaluationId"`
	Signature      string  `json:"signature"`
	IsBot          bool    `json:"isBot"`
	BotProbability float64 `json:"botProbability"`
	RiskBand       string  `json:"riskBand"`
	BotType        string  `json:"botType"`
	BotName        string  `json:"botName,omitempty"`
	Action         string  `json:"action"`
	PolicyName     string  `json:"policyName"`
	ProcessingMs   int64   `json:"processingMs"`
}

// RecentVerdicts returns persisted verdicts, newest first, paginated.
func (s *LearningStore) RecentVerdicts(ctx context.Context, page, limit int) ([]VerdictRow, int, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * limit

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM verdicts`).Scan(&total); err != nil {
		return nil, 0, err
	}

	sql := `
		SELECT evaluation_id, signature, is_bot, bot_probability, risk_band,
		       bot_type, bot_name, action, policy_name, processing_ms
		FROM verdicts
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2;
	`
	rows, err := s.pool.Query(ctx, sql, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := make([]VerdictRow, 0, limit)
	for rows.Next() {
		var v VerdictRow
		if err := rows.Scan(&v.EvaluationID, &v.Signature, &v.IsBot, &v.BotProbability,
			&v.RiskBand, &v.BotType, &v.BotName, &v.Action, &v.PolicyName, &v.ProcessingMs); err != nil {
			return nil, 0, err
		}
		out = append(out, v)
	}
	if rows.Err() != nil {
		return nil, 0, rows.Err()
	}
	return out, total, nil
}
