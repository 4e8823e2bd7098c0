package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx driver for database/sql

	"github.com/splunk-chatops/dispatcher/internal/config"
	"github.com/splunk-chatops/dispatcher/internal/models"
)

//go:embed migrations
var migrationsFS embed.FS

// PostgresStore implements Store over database/sql with the pgx driver,
// schema-managed by embedded golang-migrate migrations. List/map fields
// (params, result, blocks) are serialized as JSONB.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a pooled connection to cfg.URL, pings it, and
// applies any pending migrations.
func NewPostgresStore(ctx context.Context, cfg config.StoreConfig) (*PostgresStore, error) {
	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// runMigrations applies embedded SQL migrations to the connected database.
func runMigrations(db *sql.DB) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("loading migration source: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("creating migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("creating migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func (p *PostgresStore) Jobs() JobStore                             { return pgJobStore{p.db} }
func (p *PostgresStore) Conversations() ConversationStore           { return pgConversationStore{p.db} }
func (p *PostgresStore) Messages() MessageStore                     { return pgMessageStore{p.db} }
func (p *PostgresStore) CachedQueryResults() CachedQueryResultStore { return pgCachedQueryStore{p.db} }

func (p *PostgresStore) Close() error { return p.db.Close() }

// DB exposes the underlying pool for health checks.
func (p *PostgresStore) DB() *sql.DB { return p.db }

type pgJobStore struct{ db *sql.DB }

func (s pgJobStore) Create(ctx context.Context, jobType models.JobType, params map[string]any, conversationID string) (*models.Job, error) {
	if params == nil {
		params = map[string]any{}
	}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal job params: %w", err)
	}

	job := &models.Job{
		ID:             uuid.New().String(),
		Type:           jobType,
		Params:         params,
		Status:         models.JobStatusQueued,
		ConversationID: conversationID,
	}

	row := s.db.QueryRowContext(ctx,
		`INSERT INTO jobs (id, type, params, status, progress, conversation_id)
		 VALUES ($1, $2, $3, $4, 0, $5)
		 RETURNING created_at, updated_at`,
		job.ID, job.Type, paramsJSON, job.Status, conversationID)
	if err := row.Scan(&job.CreatedAt, &job.UpdatedAt); err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return job, nil
}

// Transition locks the row, re-validates the requested change against the
// current state, and applies it — all in one transaction, so two writers
// racing on the same id serialize and the loser observes the winner's
// state.
func (s pgJobStore) Transition(ctx context.Context, id string, t models.JobTransition) (*models.Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transition: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	job, err := scanJob(tx.QueryRowContext(ctx,
		`SELECT id, type, params, status, progress, result, error, conversation_id, created_at, updated_at
		 FROM jobs WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, err
	}

	if err := validateTransition(job, t); err != nil {
		return nil, err
	}

	job.Status = t.Status
	if t.Progress != nil {
		job.Progress = *t.Progress
	}
	if t.Status == models.JobStatusCompleted {
		job.Progress = 100
		job.Result = t.Result
	}
	if t.Status == models.JobStatusFailed {
		job.Error = t.Error
	}

	var resultJSON any
	if job.Result != nil {
		buf, err := json.Marshal(job.Result)
		if err != nil {
			return nil, fmt.Errorf("marshal job result: %w", err)
		}
		resultJSON = buf
	}

	err = tx.QueryRowContext(ctx,
		`UPDATE jobs SET status = $2, progress = $3, result = $4, error = $5, updated_at = now()
		 WHERE id = $1 RETURNING updated_at`,
		id, job.Status, job.Progress, resultJSON, job.Error).Scan(&job.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("update job: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transition: %w", err)
	}
	return job, nil
}

func (s pgJobStore) Get(ctx context.Context, id string) (*models.Job, error) {
	return scanJob(s.db.QueryRowContext(ctx,
		`SELECT id, type, params, status, progress, result, error, conversation_id, created_at, updated_at
		 FROM jobs WHERE id = $1`, id))
}

func (s pgJobStore) ListByConversation(ctx context.Context, conversationID string) ([]*models.Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, type, params, status, progress, result, error, conversation_id, created_at, updated_at
		 FROM jobs WHERE conversation_id = $1 ORDER BY created_at DESC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(r rowScanner) (*models.Job, error) {
	var job models.Job
	var paramsJSON []byte
	var resultJSON []byte

	err := r.Scan(&job.ID, &job.Type, &paramsJSON, &job.Status, &job.Progress,
		&resultJSON, &job.Error, &job.ConversationID, &job.CreatedAt, &job.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job: %w", models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	if len(paramsJSON) > 0 {
		if err := json.Unmarshal(paramsJSON, &job.Params); err != nil {
			return nil, fmt.Errorf("unmarshal job params: %w", err)
		}
	}
	if len(resultJSON) > 0 {
		if err := json.Unmarshal(resultJSON, &job.Result); err != nil {
			return nil, fmt.Errorf("unmarshal job result: %w", err)
		}
	}
	return &job, nil
}

type pgConversationStore struct{ db *sql.DB }

func (s pgConversationStore) Create(ctx context.Context, title string) (*models.Conversation, error) {
	c := &models.Conversation{ID: uuid.New().String(), Title: title}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO conversations (id, title) VALUES ($1, $2) RETURNING created_at, updated_at`,
		c.ID, title).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert conversation: %w", err)
	}
	return c, nil
}

func (s pgConversationStore) Get(ctx context.Context, id string) (*models.Conversation, error) {
	var c models.Conversation
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, created_at, updated_at FROM conversations WHERE id = $1`, id).
		Scan(&c.ID, &c.Title, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("conversation %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s pgConversationStore) Touch(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("conversation %s: %w", id, models.ErrNotFound)
	}
	return nil
}

// Delete cascades to messages via the schema's ON DELETE CASCADE; jobs
// deliberately survive.
func (s pgConversationStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("conversation %s: %w", id, models.ErrNotFound)
	}
	return nil
}

type pgMessageStore struct{ db *sql.DB }

func (s pgMessageStore) Create(ctx context.Context, msg *models.Message) (*models.Message, error) {
	cp := *msg
	if cp.ID == "" {
		cp.ID = uuid.New().String()
	}
	blocks := cp.Blocks
	if blocks == nil {
		blocks = []models.Block{}
	}
	blocksJSON, err := json.Marshal(blocks)
	if err != nil {
		return nil, fmt.Errorf("marshal message blocks: %w", err)
	}

	err = s.db.QueryRowContext(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, blocks, job_id)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING created_at, updated_at`,
		cp.ID, cp.ConversationID, cp.Role, cp.Content, blocksJSON, cp.JobID).
		Scan(&cp.CreatedAt, &cp.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return &cp, nil
}

func (s pgMessageStore) Get(ctx context.Context, id string) (*models.Message, error) {
	return scanMessage(s.db.QueryRowContext(ctx,
		`SELECT id, conversation_id, role, content, blocks, job_id, created_at, updated_at
		 FROM messages WHERE id = $1`, id))
}

func (s pgMessageStore) AppendContent(ctx context.Context, id string, chunk string) (*models.Message, error) {
	return scanMessage(s.db.QueryRowContext(ctx,
		`UPDATE messages SET content = content || $2, updated_at = now()
		 WHERE id = $1
		 RETURNING id, conversation_id, role, content, blocks, job_id, created_at, updated_at`,
		id, chunk))
}

func (s pgMessageStore) Finalize(ctx context.Context, id string, content string, blocks []models.Block) (*models.Message, error) {
	if blocks == nil {
		blocks = []models.Block{}
	}
	blocksJSON, err := json.Marshal(blocks)
	if err != nil {
		return nil, fmt.Errorf("marshal message blocks: %w", err)
	}
	return scanMessage(s.db.QueryRowContext(ctx,
		`UPDATE messages SET content = $2, blocks = $3, updated_at = now()
		 WHERE id = $1
		 RETURNING id, conversation_id, role, content, blocks, job_id, created_at, updated_at`,
		id, content, blocksJSON))
}

func (s pgMessageStore) ListByConversation(ctx context.Context, conversationID string) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, role, content, blocks, job_id, created_at, updated_at
		 FROM messages WHERE conversation_id = $1 ORDER BY created_at ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

func scanMessage(r rowScanner) (*models.Message, error) {
	var msg models.Message
	var blocksJSON []byte

	err := r.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content,
		&blocksJSON, &msg.JobID, &msg.CreatedAt, &msg.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("message: %w", models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if len(blocksJSON) > 0 {
		if err := json.Unmarshal(blocksJSON, &msg.Blocks); err != nil {
			return nil, fmt.Errorf("unmarshal message blocks: %w", err)
		}
	}
	return &msg, nil
}

type pgCachedQueryStore struct{ db *sql.DB }

// Upsert relies on the (user_id, fingerprint) unique constraint: the row
// is updated in place on conflict so repeated executions of the same
// fingerprint return the same id.
func (s pgCachedQueryStore) Upsert(ctx context.Context, userID, fingerprint, query, earliest, latest string, result models.AnalyticsResult) (*models.CachedQueryResult, error) {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal cached result: %w", err)
	}

	row := &models.CachedQueryResult{
		UserID:      userID,
		Fingerprint: fingerprint,
		Query:       query,
		Earliest:    earliest,
		Latest:      latest,
		Result:      result,
	}
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO cached_query_results (id, user_id, fingerprint, query, earliest, latest, result)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (user_id, fingerprint) DO UPDATE
		 SET query = EXCLUDED.query, earliest = EXCLUDED.earliest, latest = EXCLUDED.latest,
		     result = EXCLUDED.result, updated_at = now()
		 RETURNING id, created_at, updated_at`,
		uuid.New().String(), userID, fingerprint, query, earliest, latest, resultJSON).
		Scan(&row.ID, &row.CreatedAt, &row.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("upsert cached result: %w", err)
	}
	return row, nil
}

func (s pgCachedQueryStore) GetByFingerprint(ctx context.Context, userID, fingerprint string) (*models.CachedQueryResult, error) {
	var row models.CachedQueryResult
	var resultJSON []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, fingerprint, query, earliest, latest, result, created_at, updated_at
		 FROM cached_query_results WHERE user_id = $1 AND fingerprint = $2`,
		userID, fingerprint).
		Scan(&row.ID, &row.UserID, &row.Fingerprint, &row.Query, &row.Earliest, &row.Latest,
			&resultJSON, &row.CreatedAt, &row.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("cached result for user %s: %w", userID, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if len(resultJSON) > 0 {
		if err := json.Unmarshal(resultJSON, &row.Result); err != nil {
			return nil, fmt.Errorf("unmarshal cached result: %w", err)
		}
	}
	return &row, nil
}

var _ Store = (*PostgresStore)(nil)

// Health pings the database with a short deadline.
func (p *PostgresStore) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return p.db.PingContext(ctx)
}
