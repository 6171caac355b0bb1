package monitor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"chart-signal/internal/store"
)

const (
	defaultHistoryLimit = 100
	subscriberBuffer    = 256
)

// Service 是日志事件的唯一出口：按顺序编号、保留有限历史并广播给订阅者。
type Service struct {
	mu      sync.Mutex
	seq     int64
	ring    *ringHistory
	durable history
	subs    map[int]chan Event
	nextSub int
	now     func() time.Time
	logger  *zap.Logger
}

// NewService 初始化事件服务。store 为空时只在内存中保留历史。
func NewService(st *store.Store, historyLimit int, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if historyLimit <= 0 {
		historyLimit = defaultHistoryLimit
	}

	ring := newRingHistory(historyLimit)
	s := &Service{
		ring:   ring,
		subs:   make(map[int]chan Event),
		now:    time.Now,
		logger: logger,
	}

	if st != nil && st.DB() != nil {
		h, err := newSQLHistory(st.DB(), historyLimit)
		if err != nil {
			return nil, err
		}
		s.durable = h
	}

	return s, nil
}

// Publish 写入单个事件并推送给所有订阅者。
func (s *Service) Publish(ctx context.Context, event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	event.Seq = s.seq
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now()
	}
	if event.Level == "" {
		event.Level = LevelInfo
	}

	s.mirror(event)

	_ = s.ring.append(ctx, event)
	if s.durable != nil {
		if err := s.durable.append(ctx, event); err != nil {
			s.logger.Warn("记录监控事件失败", zap.Error(err))
		}
	}

	for id, ch := range s.subs {
		select {
		case ch <- event:
		default:
			// 订阅者跟不上时断开，由其重新拉取历史。
			close(ch)
			delete(s.subs, id)
			s.logger.Warn("订阅者消费过慢，已断开", zap.Int("subscriber", id))
		}
	}
}

// Info 通过 sink 记录普通事件。
func Info(ctx context.Context, sink Sink, msg string, fields map[string]interface{}) {
	sink.Publish(ctx, Event{Level: LevelInfo, Message: msg, Fields: fields})
}

// Warn 通过 sink 记录告警事件。
func Warn(ctx context.Context, sink Sink, msg string, fields map[string]interface{}) {
	sink.Publish(ctx, Event{Level: LevelWarn, Message: msg, Fields: fields})
}

// RecordError 通过 sink 记录异常，错误文本附加到消息与 fields["error"]。
func RecordError(ctx context.Context, sink Sink, msg string, err error, fields map[string]interface{}) {
	if err != nil {
		merged := make(map[string]interface{}, len(fields)+1)
		for k, v := range fields {
			merged[k] = v
		}
		merged["error"] = err.Error()
		fields = merged
		msg = msg + ": " + err.Error()
	}
	sink.Publish(ctx, Event{Level: LevelError, Message: msg, Fields: fields})
}

// History 返回最近的事件，按时间先后排列。
func (s *Service) History(ctx context.Context, limit int) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.durable == nil {
		return s.ring.recent(ctx, limit)
	}
	events, err := s.durable.recent(ctx, limit)
	if err != nil {
		s.logger.Warn("读取持久化事件失败，改用内存历史", zap.Error(err))
		return s.ring.recent(ctx, limit)
	}
	return events, nil
}

// Subscribe 返回新的事件通道以及取消函数。通道被关闭表示订阅已失效。
func (s *Service) Subscribe() (<-chan Event, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSub
	s.nextSub++
	ch := make(chan Event, subscriberBuffer)
	s.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if existing, ok := s.subs[id]; ok {
				close(existing)
				delete(s.subs, id)
			}
		})
	}
	return ch, cancel
}

func (s *Service) mirror(event Event) {
	fields := make([]zap.Field, 0, len(event.Fields)+1)
	fields = append(fields, zap.Int64("seq", event.Seq))
	for k, v := range event.Fields {
		fields = append(fields, zap.Any(k, v))
	}
	switch event.Level {
	case LevelError:
		s.logger.Error(event.Message, fields...)
	case LevelWarn:
		s.logger.Warn(event.Message, fields...)
	default:
		s.logger.Info(event.Message, fields...)
	}
}
