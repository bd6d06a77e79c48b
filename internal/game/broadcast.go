package game

import (
	"errors"
	"sync"
)

// 訂閱結束原因
var (
	// ErrLagged 訂閱者緩衝區已滿，被移出廣播
	ErrLagged = errors.New("subscriber lagged behind the broadcast")
	// ErrClosed 廣播已關閉或訂閱已取消
	ErrClosed = errors.New("broadcast channel closed")
)

// Broadcaster 單一發布者、多訂閱者的事件廣播
//
//   - 每個訂閱者有自己的緩衝 channel，Publish 永不阻塞
//   - 不重播歷史：訂閱只收到之後發布的事件
//   - 緩衝區滿的訂閱者視為落後（ErrLagged），其 channel 被關閉並移除
//
// 同一訂閱者收到的順序等於發布順序。
type Broadcaster struct {
	mu       sync.Mutex
	subs     map[*Subscription]struct{}
	capacity int
	closed   bool
}

// Subscription 廣播的接收端
type Subscription struct {
	b   *Broadcaster
	ch  chan ServerEvent
	err error // 受 b.mu 保護
}

// NewBroadcaster 創建廣播，capacity 為每個訂閱者的緩衝大小
func NewBroadcaster(capacity int) *Broadcaster {
	if capacity <= 0 {
		capacity = 1
	}
	return &Broadcaster{
		subs:     make(map[*Subscription]struct{}),
		capacity: capacity,
	}
}

// Subscribe 新增訂閱
func (b *Broadcaster) Subscribe() *Subscription {
	s := &Subscription{
		b:  b,
		ch: make(chan ServerEvent, b.capacity),
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		s.err = ErrClosed
		close(s.ch)
		return s
	}
	b.subs[s] = struct{}{}
	return s
}

// Publish 發送事件給所有當前訂閱者，返回成功送達的數量
//
// 沒有訂閱者時事件直接丟棄。
func (b *Broadcaster) Publish(ev ServerEvent) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	delivered := 0
	for s := range b.subs {
		select {
		case s.ch <- ev:
			delivered++
		default:
			b.dropLocked(s, ErrLagged)
		}
	}
	return delivered
}

// SubscriberCount 當前訂閱者數量
func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close 關閉廣播，所有訂閱者收到 ErrClosed；可重複呼叫
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subs {
		b.dropLocked(s, ErrClosed)
	}
}

// dropLocked 移除訂閱並關閉其 channel（需持有 b.mu）
func (b *Broadcaster) dropLocked(s *Subscription, reason error) {
	if _, ok := b.subs[s]; !ok {
		return
	}
	delete(b.subs, s)
	s.err = reason
	close(s.ch)
}

// C 事件 channel；關閉後以 Err 查詢原因
func (s *Subscription) C() <-chan ServerEvent {
	return s.ch
}

// Err 訂閱結束的原因，仍在訂閱中時為 nil
func (s *Subscription) Err() error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	return s.err
}

// Close 取消訂閱；可重複呼叫，也可在落後或廣播關閉後呼叫
func (s *Subscription) Close() {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	s.b.dropLocked(s, ErrClosed)
}
