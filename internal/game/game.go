// Package game 實現賓果遊戲實體、事件廣播與遊戲註冊表
package game

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/Juliapixel/chat-bingo/pkg/errors"
)

// 棋盤尺寸限制
const (
	MinSize = 5
	MaxSize = 23
)

// DefaultEventBuffer 每個訂閱者的預設事件緩衝
const DefaultEventBuffer = 8

// Game 一局賓果
//
// 註冊表與每個連線中的 session 共享同一個 *Game；
// 從註冊表移除不會影響已持有參考的一方。
//
// 並發控制：
//   - id、size、items 建立後不可變，讀取不需加鎖
//   - players、drawn、ended 由 mu 保護
//   - 事件廣播自帶鎖；鎖順序固定為 mu → Broadcaster.mu
type Game struct {
	id        uuid.UUID
	size      int
	items     []Item
	createdAt time.Time

	mu       sync.RWMutex
	players  map[string]Board
	drawn    map[int]struct{}
	ended    bool
	strategy BoardStrategy
	rng      Rand

	events *Broadcaster
}

// Option 遊戲選項
type Option func(*gameOptions)

type gameOptions struct {
	eventBuffer int
	strategy    BoardStrategy
	rng         Rand
	createdAt   time.Time
}

// WithEventBuffer 設定每個訂閱者的事件緩衝大小
func WithEventBuffer(n int) Option {
	return func(o *gameOptions) { o.eventBuffer = n }
}

// WithBoardStrategy 設定棋盤生成策略
func WithBoardStrategy(s BoardStrategy) Option {
	return func(o *gameOptions) { o.strategy = s }
}

// WithRand 注入隨機來源（測試用）
func WithRand(r Rand) Option {
	return func(o *gameOptions) { o.rng = r }
}

// WithCreatedAt 覆寫建立時間（測試過期清理用）
func WithCreatedAt(t time.Time) Option {
	return func(o *gameOptions) { o.createdAt = t }
}

// New 創建遊戲
//
// 前置條件 len(items) >= size*size 必須由請求層先以 ValidateCreate 檢查；
// 違反時直接 panic。
func New(id uuid.UUID, size int, items []Item, opts ...Option) *Game {
	if len(items) < size*size {
		panic(fmt.Sprintf("there must be at least %d items in a board of size %d, but there were only %d",
			size*size, size, len(items)))
	}

	o := gameOptions{
		eventBuffer: DefaultEventBuffer,
		strategy:    BoardIndependent,
		rng:         globalRand{},
		createdAt:   time.Now(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	owned := make([]Item, len(items))
	copy(owned, items)

	return &Game{
		id:        id,
		size:      size,
		items:     owned,
		createdAt: o.createdAt,
		players:   make(map[string]Board),
		drawn:     make(map[int]struct{}),
		strategy:  o.strategy,
		rng:       o.rng,
		events:    NewBroadcaster(o.eventBuffer),
	}
}

// ValidateCreate 檢查建立遊戲的參數
//
// 檢查順序：太大 → 太小 → 非奇數 → 項目不足
func ValidateCreate(size, itemsLen int) error {
	switch {
	case size > MaxSize:
		return apperrors.ErrTooBig
	case size < MinSize:
		return apperrors.ErrTooSmall
	case size%2 != 1:
		return apperrors.ErrSizeNotOdd
	case itemsLen < size*size:
		return apperrors.ErrNotEnoughItems
	}
	return nil
}

// ID 遊戲 ID
func (g *Game) ID() uuid.UUID { return g.id }

// Size 棋盤邊長
func (g *Game) Size() int { return g.size }

// CreatedAt 建立時間
func (g *Game) CreatedAt() time.Time { return g.createdAt }

// Items 項目列表的副本
func (g *Game) Items() []Item {
	items := make([]Item, len(g.items))
	copy(items, g.items)
	return items
}

// Subscribe 訂閱遊戲事件；只會收到訂閱之後發布的事件
func (g *Game) Subscribe() *Subscription {
	return g.events.Subscribe()
}

// Publish 廣播事件，返回送達的訂閱者數
func (g *Game) Publish(ev ServerEvent) int {
	return g.events.Publish(ev)
}

// SubscriberCount 當前訂閱者數量
func (g *Game) SubscriberCount() int {
	return g.events.SubscriberCount()
}

// AddPlayer 為玩家生成新棋盤，覆蓋既有棋盤
func (g *Game) AddPlayer(playerID string) Board {
	g.mu.Lock()
	defer g.mu.Unlock()

	board := NewBoard(g.size, len(g.items), g.strategy, g.rng)
	g.players[playerID] = board
	return board
}

// Board 取得玩家棋盤
func (g *Game) Board(playerID string) (Board, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	board, ok := g.players[playerID]
	return board, ok
}

// PlayerCount 玩家數量
func (g *Game) PlayerCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.players)
}

// Draw 主持人指定號碼，廣播 NewBall
func (g *Game) Draw(idx int) (int, error) {
	if idx < 0 || idx >= len(g.items) {
		return 0, apperrors.ErrBallOutOfRange.WithDetails(
			fmt.Sprintf("idx %d not in [0, %d)", idx, len(g.items)))
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.drawn[idx] = struct{}{}
	return g.events.Publish(NewBall{Idx: idx}), nil
}

// DrawRandom 從尚未抽出的項目中隨機抽一個並廣播
func (g *Game) DrawRandom() (idx, delivered int, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	remaining := make([]int, 0, len(g.items)-len(g.drawn))
	for i := range g.items {
		if _, ok := g.drawn[i]; !ok {
			remaining = append(remaining, i)
		}
	}
	if len(remaining) == 0 {
		return 0, 0, apperrors.ErrNoBallsLeft
	}

	idx = remaining[g.rng.IntN(len(remaining))]
	g.drawn[idx] = struct{}{}
	return idx, g.events.Publish(NewBall{Idx: idx}), nil
}

// Drawn 已抽出的號碼（遞增排序）
func (g *Game) Drawn() []int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	drawn := make([]int, 0, len(g.drawn))
	for idx := range g.drawn {
		drawn = append(drawn, idx)
	}
	sort.Ints(drawn)
	return drawn
}

// End 結束遊戲並廣播 GameOver；只有第一次呼叫會發布，first 表示是否為第一次
func (g *Game) End() (delivered int, first bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.ended {
		return 0, false
	}
	g.ended = true
	return g.events.Publish(GameOver{}), true
}

// Ended 遊戲是否已結束
func (g *Game) Ended() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.ended
}

// Close 關閉事件廣播，所有訂閱者的 channel 被關閉
func (g *Game) Close() {
	g.events.Close()
}
