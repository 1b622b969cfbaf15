package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	StatusPending = "pending"
	StatusSent    = "sent"
	StatusFailed  = "failed"
)

var ErrEventNotFound = errors.New("outbox event not found")

// Event 是 outbox_events 表中的一行
type Event struct {
	ID            int64           `db:"id"`
	AggregateType string          `db:"aggregate_type"`
	AggregateID   string          `db:"aggregate_id"`
	RoutingKey    string          `db:"routing_key"`
	Payload       json.RawMessage `db:"payload"`
	Status        string          `db:"status"`
	RetryCount    int             `db:"retry_count"`
	NextRetryAt   *time.Time      `db:"next_retry_at"`
	CreatedAt     time.Time       `db:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at"`
}

// NewEvent 序列化 payload，构造一条 pending 事件
func NewEvent(aggregateType, aggregateID, routingKey string, payload any) (*Event, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", routingKey, err)
	}
	return &Event{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		RoutingKey:    routingKey,
		Payload:       body,
		Status:        StatusPending,
	}, nil
}

// Store 是 Dispatcher 和 ReplayService 依赖的读写接口
type Store interface {
	GetPendingEvents(ctx context.Context, limit int) ([]*Event, error)
	GetFailedEvents(ctx context.Context, limit int) ([]*Event, error)
	GetEventByID(ctx context.Context, eventID int64) (*Event, error)
	MarkAsSent(ctx context.Context, eventID int64) error
	MarkAsFailed(ctx context.Context, eventID int64, maxRetries int) error
	ReplayEvent(ctx context.Context, eventID int64) error
}

// Publisher 发布事件到 MQ
type Publisher interface {
	PublishWithContext(ctx context.Context, routingKey string, payload any) error
}

const retryStep = 5 * time.Second

// RetryDelay 第 n 次失败后的等待时间，线性递增
func RetryDelay(retryCount int) time.Duration {
	return time.Duration(retryCount) * retryStep
}

// Repository 基于 PostgreSQL 的 Store 实现
type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Append 在业务事务 tx 中写入事件，随事务一起提交或回滚
func (r *Repository) Append(ctx context.Context, tx pgx.Tx, aggregateType, aggregateID, routingKey string, payload any) (*Event, error) {
	event, err := NewEvent(aggregateType, aggregateID, routingKey, payload)
	if err != nil {
		return nil, err
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO outbox_events (aggregate_type, aggregate_id, routing_key, payload, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`, event.AggregateType, event.AggregateID, event.RoutingKey, event.Payload, event.Status,
	).Scan(&event.ID, &event.CreatedAt, &event.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert outbox event %s: %w", routingKey, err)
	}
	return event, nil
}

const eventColumns = `id, aggregate_type, aggregate_id, routing_key, payload, status,
	retry_count, next_retry_at, created_at, updated_at`

func (r *Repository) list(ctx context.Context, where string, args ...any) ([]*Event, error) {
	rows, err := r.db.Query(ctx, `SELECT `+eventColumns+` FROM outbox_events `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("query outbox events: %w", err)
	}
	events, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[Event])
	if err != nil {
		return nil, fmt.Errorf("collect outbox events: %w", err)
	}
	return events, nil
}

// GetPendingEvents 返回已到重试时间的 pending 事件，按写入顺序
func (r *Repository) GetPendingEvents(ctx context.Context, limit int) ([]*Event, error) {
	return r.list(ctx, `
		WHERE status = $1 AND (next_retry_at IS NULL OR next_retry_at <= NOW())
		ORDER BY created_at, id
		LIMIT $2`, StatusPending, limit)
}

func (r *Repository) GetFailedEvents(ctx context.Context, limit int) ([]*Event, error) {
	return r.list(ctx, `WHERE status = $1 ORDER BY created_at, id LIMIT $2`, StatusFailed, limit)
}

func (r *Repository) GetEventByID(ctx context.Context, eventID int64) (*Event, error) {
	rows, err := r.db.Query(ctx, `SELECT `+eventColumns+` FROM outbox_events WHERE id = $1`, eventID)
	if err != nil {
		return nil, fmt.Errorf("query outbox event %d: %w", eventID, err)
	}
	e, err := pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByName[Event])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrEventNotFound, eventID)
	}
	if err != nil {
		return nil, fmt.Errorf("collect outbox event %d: %w", eventID, err)
	}
	return e, nil
}

// update 执行单行更新，事件不存在时返回 ErrEventNotFound
func (r *Repository) update(ctx context.Context, op string, eventID int64, sql string, args ...any) error {
	tag, err := r.db.Exec(ctx, sql, append([]any{eventID}, args...)...)
	if err != nil {
		return fmt.Errorf("%s outbox event %d: %w", op, eventID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %d", ErrEventNotFound, eventID)
	}
	return nil
}

func (r *Repository) MarkAsSent(ctx context.Context, eventID int64) error {
	return r.update(ctx, "mark sent", eventID, `
		UPDATE outbox_events
		SET status = $2, next_retry_at = NULL, updated_at = NOW()
		WHERE id = $1`, StatusSent)
}

// MarkAsFailed 记录一次发布失败：未达上限时延后重试，达到上限后置为 failed 等待重放
func (r *Repository) MarkAsFailed(ctx context.Context, eventID int64, maxRetries int) error {
	return r.update(ctx, "mark failed", eventID, `
		UPDATE outbox_events
		SET retry_count = retry_count + 1,
		    status = CASE WHEN retry_count + 1 >= $2 THEN $3 ELSE $4 END,
		    next_retry_at = CASE WHEN retry_count + 1 >= $2 THEN NULL
		                         ELSE NOW() + (retry_count + 1) * make_interval(secs => $5) END,
		    updated_at = NOW()
		WHERE id = $1`, maxRetries, StatusFailed, StatusPending, retryStep.Seconds())
}

// ReplayEvent 把事件放回 pending 队列并清零重试次数
func (r *Repository) ReplayEvent(ctx context.Context, eventID int64) error {
	return r.update(ctx, "replay", eventID, `
		UPDATE outbox_events
		SET status = $2, retry_count = 0, next_retry_at = NULL, updated_at = NOW()
		WHERE id = $1`, StatusPending)
}
