package monitor

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

type history interface {
	append(ctx context.Context, event Event) error
	recent(ctx context.Context, limit int) ([]Event, error)
}

// ringHistory 在内存中保留最近 limit 条事件。
type ringHistory struct {
	limit  int
	events []Event
}

func newRingHistory(limit int) *ringHistory {
	return &ringHistory{limit: limit, events: make([]Event, 0, limit)}
}

func (r *ringHistory) append(_ context.Context, event Event) error {
	r.events = append(r.events, event)
	if over := len(r.events) - r.limit; over > 0 {
		r.events = append(r.events[:0], r.events[over:]...)
	}
	return nil
}

func (r *ringHistory) recent(_ context.Context, limit int) ([]Event, error) {
	start := 0
	if limit > 0 && len(r.events) > limit {
		start = len(r.events) - limit
	}
	out := make([]Event, len(r.events)-start)
	copy(out, r.events[start:])
	return out, nil
}

// sqlHistory 把当前进程的事件镜像到 SQLite，并裁剪到 limit 条。
type sqlHistory struct {
	db    *sql.DB
	limit int
}

func newSQLHistory(db *sql.DB, limit int) (*sqlHistory, error) {
	stmt := `
CREATE TABLE IF NOT EXISTS monitor_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	seq INTEGER NOT NULL,
	level TEXT NOT NULL,
	message TEXT NOT NULL,
	fields TEXT,
	created_at TEXT NOT NULL
);
`
	if _, err := db.Exec(stmt); err != nil {
		return nil, fmt.Errorf("monitor: 初始化表失败: %w", err)
	}
	// 镜像只服务于当前进程：序号从 1 重新开始，上次运行的事件（含信号）不保留。
	if _, err := db.Exec(`DELETE FROM monitor_events`); err != nil {
		return nil, fmt.Errorf("monitor: 清理历史事件失败: %w", err)
	}
	return &sqlHistory{db: db, limit: limit}, nil
}

func (h *sqlHistory) append(ctx context.Context, event Event) error {
	var fields sql.NullString
	if len(event.Fields) > 0 {
		raw, err := json.Marshal(event.Fields)
		if err != nil {
			return fmt.Errorf("monitor: 序列化事件失败: %w", err)
		}
		fields = sql.NullString{String: string(raw), Valid: true}
	}

	res, err := h.db.ExecContext(ctx,
		`INSERT INTO monitor_events (seq, level, message, fields, created_at) VALUES (?, ?, ?, ?, ?)`,
		event.Seq, string(event.Level), event.Message, fields, event.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("monitor: 写入事件失败: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil
	}
	if _, err = h.db.ExecContext(ctx, `DELETE FROM monitor_events WHERE id <= ?`, id-int64(h.limit)); err != nil {
		return fmt.Errorf("monitor: 裁剪事件失败: %w", err)
	}
	return nil
}

func (h *sqlHistory) recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 || limit > h.limit {
		limit = h.limit
	}

	rows, err := h.db.QueryContext(ctx,
		`SELECT seq, level, message, fields, created_at FROM monitor_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("monitor: 查询事件失败: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0, limit)
	for rows.Next() {
		var (
			ev      Event
			level   string
			fields  sql.NullString
			created string
		)
		if scanErr := rows.Scan(&ev.Seq, &level, &ev.Message, &fields, &created); scanErr != nil {
			return nil, fmt.Errorf("monitor: 解析事件失败: %w", scanErr)
		}
		ev.Level = Level(level)
		if fields.Valid {
			_ = json.Unmarshal([]byte(fields.String), &ev.Fields)
		}
		ts, parseErr := time.Parse(time.RFC3339Nano, created)
		if parseErr != nil {
			ts = time.Now().UTC()
		}
		ev.Timestamp = ts
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("monitor: 读取事件失败: %w", err)
	}

	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}
