package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/careerforge/orchestrator/pkg/models"
)

// stepHolds enforces single-executor exclusivity per goal in-process. The
// database has no row-level advisory lock story shared across sqlite and
// postgres, so exclusivity is scoped to one running orchestrator instance.
type stepHolds struct {
	mu   sync.Mutex
	held map[string]bool
}

func newStepHolds() *stepHolds { return &stepHolds{held: make(map[string]bool)} }

func (h *stepHolds) acquire(goalID string) (func(), bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.held[goalID] {
		return nil, false
	}
	h.held[goalID] = true
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.held, goalID)
	}, true
}

// Dialect selects the SQL driver and placeholder syntax a SQLStore talks.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// SQLConfig configures a SQLStore connection pool.
type SQLConfig struct {
	Dialect         Dialect
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultSQLConfig returns sane pool sizing for a single-node deployment.
func DefaultSQLConfig() SQLConfig {
	return SQLConfig{
		Dialect:         DialectSQLite,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// SQLStore implements Store against either sqlite or postgres, chosen by
// SQLConfig.Dialect. Schema DDL lives in Migrate.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	holds   *stepHolds
}

// NewSQLStore opens a connection pool and verifies it with a ping.
func NewSQLStore(cfg SQLConfig) (*SQLStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	driver := "sqlite"
	if cfg.Dialect == DialectPostgres {
		driver = "postgres"
	}

	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	dialect := cfg.Dialect
	if dialect == "" {
		dialect = DialectSQLite
	}
	return &SQLStore{db: db, dialect: dialect, holds: newStepHolds()}, nil
}

func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Migrate creates the schema if it does not already exist. Safe to call on
// every startup.
func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements(s.dialect) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// ph returns the i-th (1-based) bind placeholder for the active dialect.
func (s *SQLStore) ph(i int) string {
	if s.dialect == DialectPostgres {
		return fmt.Sprintf("$%d", i)
	}
	return "?"
}

func schemaStatements(d Dialect) []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			title TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			ordinal INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS traces (
			id TEXT PRIMARY KEY,
			parent_turn_id TEXT,
			parent_step_id TEXT,
			agent_name TEXT NOT NULL,
			inputs_digest TEXT,
			entries TEXT,
			status TEXT NOT NULL,
			latency_ms INTEGER,
			feedback_rating INTEGER,
			feedback_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS goals (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT,
			status TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS steps (
			id TEXT PRIMARY KEY,
			goal_id TEXT NOT NULL,
			ordinal INTEGER NOT NULL,
			title TEXT NOT NULL,
			rationale TEXT,
			assigned_agent TEXT,
			status TEXT NOT NULL,
			captured_output TEXT,
			trace_id TEXT,
			created_at TIMESTAMP NOT NULL,
			completed_at TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS notifications (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			type TEXT NOT NULL,
			title TEXT NOT NULL,
			body TEXT,
			payload TEXT,
			read INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS task_runs (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			type TEXT NOT NULL,
			config TEXT,
			status TEXT NOT NULL,
			result_summary TEXT,
			error TEXT,
			scheduled_at TIMESTAMP NOT NULL,
			started_at TIMESTAMP,
			finished_at TIMESTAMP
		)`,
	}
}

// --- ConversationStore ---

func (s *SQLStore) CreateConversation(ctx context.Context, c *models.Conversation) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO conversations (id, user_id, title, created_at, updated_at) VALUES (%s, %s, %s, %s, %s)`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5)),
		c.ID, c.UserID, c.Title, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}
	return nil
}

func (s *SQLStore) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT id, user_id, title, created_at, updated_at FROM conversations WHERE id = %s`, s.ph(1)), id)
	var c models.Conversation
	var title sql.NullString
	if err := row.Scan(&c.ID, &c.UserID, &title, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	c.Title = title.String
	return &c, nil
}

func (s *SQLStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var maxOrdinal sql.NullInt64
	row := tx.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT MAX(ordinal) FROM messages WHERE conversation_id = %s`, s.ph(1)), msg.ConversationID)
	if err := row.Scan(&maxOrdinal); err != nil {
		return fmt.Errorf("scan max ordinal: %w", err)
	}
	msg.Ordinal = int(maxOrdinal.Int64) + 1

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO messages (id, conversation_id, ordinal, role, content, created_at) VALUES (%s, %s, %s, %s, %s, %s)`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6)),
		msg.ID, msg.ConversationID, msg.Ordinal, string(msg.Role), msg.Content, msg.CreatedAt); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(
		`UPDATE conversations SET updated_at = %s WHERE id = %s`, s.ph(1), s.ph(2)),
		time.Now(), msg.ConversationID); err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}

	return tx.Commit()
}

func (s *SQLStore) ListMessages(ctx context.Context, conversationID string) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT id, conversation_id, ordinal, role, content, created_at FROM messages WHERE conversation_id = %s ORDER BY ordinal ASC`,
		s.ph(1)), conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []*models.Message
	for rows.Next() {
		var m models.Message
		var role string
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Ordinal, &role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Role = models.Role(role)
		out = append(out, &m)
	}
	return out, rows.Err()
}

// --- TraceStore ---

func (s *SQLStore) CreateTrace(ctx context.Context, t *models.Trace) error {
	entries, err := json.Marshal(t.Entries)
	if err != nil {
		return fmt.Errorf("marshal entries: %w", err)
	}
	_, err = s.db.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO traces (id, parent_turn_id, parent_step_id, agent_name, inputs_digest, entries, status, latency_ms, created_at)
		 VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s)`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6), s.ph(7), s.ph(8), s.ph(9)),
		t.ID, t.ParentTurnID, t.ParentStepID, t.AgentName, t.InputsDigest, string(entries), t.Status, t.LatencyMS, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("create trace: %w", err)
	}
	return nil
}

func (s *SQLStore) GetTrace(ctx context.Context, id string) (*models.Trace, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT id, parent_turn_id, parent_step_id, agent_name, inputs_digest, entries, status, latency_ms, feedback_rating, feedback_at, created_at
		 FROM traces WHERE id = %s`, s.ph(1)), id)

	var t models.Trace
	var entries string
	var rating sql.NullInt64
	var feedbackAt sql.NullTime
	if err := row.Scan(&t.ID, &t.ParentTurnID, &t.ParentStepID, &t.AgentName, &t.InputsDigest, &entries, &t.Status, &t.LatencyMS, &rating, &feedbackAt, &t.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get trace: %w", err)
	}
	if err := json.Unmarshal([]byte(entries), &t.Entries); err != nil {
		return nil, fmt.Errorf("unmarshal entries: %w", err)
	}
	if rating.Valid {
		t.Feedback = &models.Feedback{Rating: int(rating.Int64), CreatedAt: feedbackAt.Time}
	}
	return &t, nil
}

func (s *SQLStore) AppendEntries(ctx context.Context, traceID string, entries []models.TraceEntry) error {
	existing, err := s.GetTrace(ctx, traceID)
	if err != nil {
		return err
	}
	merged, err := json.Marshal(append(existing.Entries, entries...))
	if err != nil {
		return fmt.Errorf("marshal entries: %w", err)
	}
	_, err = s.db.ExecContext(ctx, fmt.Sprintf(
		`UPDATE traces SET entries = %s WHERE id = %s`, s.ph(1), s.ph(2)), string(merged), traceID)
	if err != nil {
		return fmt.Errorf("append entries: %w", err)
	}
	return nil
}

func (s *SQLStore) Complete(ctx context.Context, traceID string, status string, latencyMS int64) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`UPDATE traces SET status = %s, latency_ms = %s WHERE id = %s`, s.ph(1), s.ph(2), s.ph(3)),
		status, latencyMS, traceID)
	if err != nil {
		return fmt.Errorf("complete trace: %w", err)
	}
	return nil
}

func (s *SQLStore) SetFeedback(ctx context.Context, traceID string, feedback models.Feedback) error {
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`UPDATE traces SET feedback_rating = %s, feedback_at = %s WHERE id = %s AND feedback_rating IS NULL`,
		s.ph(1), s.ph(2), s.ph(3)), feedback.Rating, feedback.CreatedAt, traceID)
	if err != nil {
		return fmt.Errorf("set feedback: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil // already recorded; first write wins
	}
	return nil
}

// --- GoalStore ---

func (s *SQLStore) CreateGoal(ctx context.Context, g *models.Goal) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO goals (id, user_id, title, description, status, created_at, updated_at) VALUES (%s, %s, %s, %s, %s, %s, %s)`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6), s.ph(7)),
		g.ID, g.UserID, g.Title, g.Description, string(g.Status), g.CreatedAt, g.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create goal: %w", err)
	}
	return nil
}

func (s *SQLStore) GetGoal(ctx context.Context, id string) (*models.Goal, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT id, user_id, title, description, status, created_at, updated_at FROM goals WHERE id = %s`, s.ph(1)), id)
	var g models.Goal
	var status string
	if err := row.Scan(&g.ID, &g.UserID, &g.Title, &g.Description, &status, &g.CreatedAt, &g.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get goal: %w", err)
	}
	g.Status = models.GoalStatus(status)
	return &g, nil
}

func (s *SQLStore) UpdateGoalStatus(ctx context.Context, id string, status models.GoalStatus) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`UPDATE goals SET status = %s, updated_at = %s WHERE id = %s AND status != %s`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4)),
		string(status), time.Now(), id, string(models.GoalCompleted))
	if err != nil {
		return fmt.Errorf("update goal status: %w", err)
	}
	return nil
}

func (s *SQLStore) CreateSteps(ctx context.Context, steps []*models.Step) error {
	for _, st := range steps {
		if err := s.insertStep(ctx, st); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLStore) insertStep(ctx context.Context, st *models.Step) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO steps (id, goal_id, ordinal, title, rationale, assigned_agent, status, captured_output, trace_id, created_at, completed_at)
		 VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s)`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6), s.ph(7), s.ph(8), s.ph(9), s.ph(10), s.ph(11)),
		st.ID, st.GoalID, st.Ordinal, st.Title, st.Rationale, st.AssignedAgent, string(st.Status), st.CapturedOutput, st.TraceID, st.CreatedAt, st.CompletedAt)
	if err != nil {
		return fmt.Errorf("insert step: %w", err)
	}
	return nil
}

func (s *SQLStore) ReplaceTailSteps(ctx context.Context, goalID string, fromOrdinal int, newSteps []*models.Step) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(
		`DELETE FROM steps WHERE goal_id = %s AND ordinal > %s`, s.ph(1), s.ph(2)), goalID, fromOrdinal); err != nil {
		return fmt.Errorf("delete tail steps: %w", err)
	}
	for _, st := range newSteps {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(
			`INSERT INTO steps (id, goal_id, ordinal, title, rationale, assigned_agent, status, captured_output, trace_id, created_at, completed_at)
			 VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s)`,
			s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6), s.ph(7), s.ph(8), s.ph(9), s.ph(10), s.ph(11)),
			st.ID, st.GoalID, st.Ordinal, st.Title, st.Rationale, st.AssignedAgent, string(st.Status), st.CapturedOutput, st.TraceID, st.CreatedAt, st.CompletedAt); err != nil {
			return fmt.Errorf("insert replacement step: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLStore) ListSteps(ctx context.Context, goalID string) ([]*models.Step, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT id, goal_id, ordinal, title, rationale, assigned_agent, status, captured_output, trace_id, created_at, completed_at
		 FROM steps WHERE goal_id = %s ORDER BY ordinal ASC`, s.ph(1)), goalID)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	defer rows.Close()

	var out []*models.Step
	for rows.Next() {
		var st models.Step
		var status string
		var rationale, assignedAgent, capturedOutput, traceID sql.NullString
		var completedAt sql.NullTime
		if err := rows.Scan(&st.ID, &st.GoalID, &st.Ordinal, &st.Title, &rationale, &assignedAgent, &status, &capturedOutput, &traceID, &st.CreatedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		st.Status = models.StepStatus(status)
		st.Rationale = rationale.String
		st.AssignedAgent = assignedAgent.String
		st.CapturedOutput = capturedOutput.String
		st.TraceID = traceID.String
		if completedAt.Valid {
			st.CompletedAt = &completedAt.Time
		}
		out = append(out, &st)
	}
	return out, rows.Err()
}

func (s *SQLStore) UpdateStep(ctx context.Context, step *models.Step) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`UPDATE steps SET title = %s, rationale = %s, assigned_agent = %s, status = %s, captured_output = %s, trace_id = %s, completed_at = %s
		 WHERE id = %s`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6), s.ph(7), s.ph(8)),
		step.Title, step.Rationale, step.AssignedAgent, string(step.Status), step.CapturedOutput, step.TraceID, step.CompletedAt, step.ID)
	if err != nil {
		return fmt.Errorf("update step: %w", err)
	}
	return nil
}

// AcquireStepHold relies on an in-process registry rather than the database:
// exclusivity only needs to hold within one orchestrator instance's executor,
// so a SQLStore composes with a shared *memoryHolds.
func (s *SQLStore) AcquireStepHold(ctx context.Context, goalID string) (func(), bool) {
	return s.holds.acquire(goalID)
}

func (s *SQLStore) ListActiveGoalUserIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT DISTINCT user_id FROM goals WHERE status = %s`, s.ph(1)), string(models.GoalActive))
	if err != nil {
		return nil, fmt.Errorf("list active goal user ids: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		out = append(out, userID)
	}
	return out, rows.Err()
}

// --- NotificationStore ---

func (s *SQLStore) CreateNotification(ctx context.Context, n *models.Notification) error {
	payload, err := json.Marshal(n.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	readVal := 0
	if n.Read {
		readVal = 1
	}
	_, err = s.db.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO notifications (id, user_id, type, title, body, payload, read, created_at) VALUES (%s, %s, %s, %s, %s, %s, %s, %s)`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6), s.ph(7), s.ph(8)),
		n.ID, n.UserID, n.Type, n.Title, n.Body, string(payload), readVal, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}

func (s *SQLStore) ListNotifications(ctx context.Context, userID string, limit int) ([]*models.Notification, error) {
	query := fmt.Sprintf(
		`SELECT id, user_id, type, title, body, payload, read, created_at FROM notifications WHERE user_id = %s ORDER BY created_at DESC`,
		s.ph(1))
	args := []any{userID}
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %s", s.ph(2))
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var out []*models.Notification
	for rows.Next() {
		var n models.Notification
		var payload string
		var readVal int
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Body, &payload, &readVal, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.Read = readVal != 0
		if payload != "" {
			if err := json.Unmarshal([]byte(payload), &n.Payload); err != nil {
				return nil, fmt.Errorf("unmarshal payload: %w", err)
			}
		}
		out = append(out, &n)
	}
	return out, rows.Err()
}

// --- TaskStore ---

func (s *SQLStore) CreateTaskRun(ctx context.Context, tr *models.TaskRun) error {
	config, err := json.Marshal(tr.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	_, err = s.db.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO task_runs (id, user_id, type, config, status, result_summary, error, scheduled_at, started_at, finished_at)
		 VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s)`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6), s.ph(7), s.ph(8), s.ph(9), s.ph(10)),
		tr.ID, tr.UserID, tr.Type, string(config), string(tr.Status), tr.ResultSummary, tr.Error, tr.ScheduledAt, tr.StartedAt, tr.FinishedAt)
	if err != nil {
		return fmt.Errorf("create task run: %w", err)
	}
	return nil
}

func (s *SQLStore) scanTaskRun(row interface {
	Scan(dest ...any) error
}) (*models.TaskRun, error) {
	var tr models.TaskRun
	var status string
	var config, resultSummary, taskErr sql.NullString
	var startedAt, finishedAt sql.NullTime
	if err := row.Scan(&tr.ID, &tr.UserID, &tr.Type, &config, &status, &resultSummary, &taskErr, &tr.ScheduledAt, &startedAt, &finishedAt); err != nil {
		return nil, err
	}
	tr.Status = models.TaskRunStatus(status)
	tr.ResultSummary = resultSummary.String
	tr.Error = taskErr.String
	if config.Valid && config.String != "" {
		if err := json.Unmarshal([]byte(config.String), &tr.Config); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}
	if startedAt.Valid {
		tr.StartedAt = &startedAt.Time
	}
	if finishedAt.Valid {
		tr.FinishedAt = &finishedAt.Time
	}
	return &tr, nil
}

func (s *SQLStore) GetTaskRun(ctx context.Context, id string) (*models.TaskRun, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT id, user_id, type, config, status, result_summary, error, scheduled_at, started_at, finished_at
		 FROM task_runs WHERE id = %s`, s.ph(1)), id)
	tr, err := s.scanTaskRun(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get task run: %w", err)
	}
	return tr, nil
}

func (s *SQLStore) UpdateTaskRun(ctx context.Context, tr *models.TaskRun) error {
	config, err := json.Marshal(tr.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`UPDATE task_runs SET config = %s, status = %s, result_summary = %s, error = %s, started_at = %s, finished_at = %s WHERE id = %s`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6), s.ph(7)),
		string(config), string(tr.Status), tr.ResultSummary, tr.Error, tr.StartedAt, tr.FinishedAt, tr.ID)
	if err != nil {
		return fmt.Errorf("update task run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) ListTaskRuns(ctx context.Context, userID string, limit int) ([]*models.TaskRun, error) {
	query := fmt.Sprintf(
		`SELECT id, user_id, type, config, status, result_summary, error, scheduled_at, started_at, finished_at
		 FROM task_runs WHERE user_id = %s ORDER BY scheduled_at DESC`, s.ph(1))
	args := []any{userID}
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %s", s.ph(2))
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list task runs: %w", err)
	}
	defer rows.Close()

	var out []*models.TaskRun
	for rows.Next() {
		tr, err := s.scanTaskRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task run: %w", err)
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}

// ClaimDueTaskRuns transitions pending, due runs to running inside a
// transaction. On postgres it uses SELECT ... FOR UPDATE SKIP LOCKED so
// concurrent claimers never double-assign a row; sqlite has no row-level
// locking story, so a single transaction with immediate commit serves the
// same purpose for the common single-process deployment.
func (s *SQLStore) ClaimDueTaskRuns(ctx context.Context, now time.Time, limit int) ([]*models.TaskRun, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	selectQuery := fmt.Sprintf(
		`SELECT id, user_id, type, config, status, result_summary, error, scheduled_at, started_at, finished_at
		 FROM task_runs WHERE status = %s AND scheduled_at <= %s ORDER BY scheduled_at ASC LIMIT %s`,
		s.ph(1), s.ph(2), s.ph(3))
	if s.dialect == DialectPostgres {
		selectQuery += " FOR UPDATE SKIP LOCKED"
	}

	rows, err := tx.QueryContext(ctx, selectQuery, string(models.TaskRunPending), now, limit)
	if err != nil {
		return nil, fmt.Errorf("select due task runs: %w", err)
	}
	var claimed []*models.TaskRun
	for rows.Next() {
		tr, err := s.scanTaskRun(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan task run: %w", err)
		}
		claimed = append(claimed, tr)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for _, tr := range claimed {
		tr.Status = models.TaskRunRunning
		started := now
		tr.StartedAt = &started
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(
			`UPDATE task_runs SET status = %s, started_at = %s WHERE id = %s`, s.ph(1), s.ph(2), s.ph(3)),
			string(models.TaskRunRunning), started, tr.ID); err != nil {
			return nil, fmt.Errorf("claim task run: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	return claimed, nil
}

func (s *SQLStore) CountRunning(ctx context.Context, taskType string) (int, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT COUNT(*) FROM task_runs WHERE type = %s AND status = %s`, s.ph(1), s.ph(2)),
		taskType, string(models.TaskRunRunning))
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count running task runs: %w", err)
	}
	return count, nil
}
