package game

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Manager 遊戲註冊表
//
// 全進程共享，在啟動時建立並以參考傳遞。
// 讀多寫少：查詢用讀鎖，建立／移除用寫鎖；鎖只保護 map 本身，
// 從不在持鎖期間發布事件或等待 I/O。
type Manager struct {
	games  map[uuid.UUID]*Game
	mu     sync.RWMutex
	logger *slog.Logger

	gameOpts        []Option
	maxAge          time.Duration
	cleanupInterval time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// ManagerConfig 註冊表配置
type ManagerConfig struct {
	// GameOptions 套用到 NewGame 建立的每一局
	GameOptions []Option
	// MaxAge 遊戲最長存活時間，0 表示不自動清理
	MaxAge time.Duration
	// CleanupInterval 清理掃描間隔
	CleanupInterval time.Duration
}

// NewManager 創建遊戲註冊表
func NewManager(logger *slog.Logger, cfg ManagerConfig) *Manager {
	m := &Manager{
		games:           make(map[uuid.UUID]*Game),
		logger:          logger,
		gameOpts:        cfg.GameOptions,
		maxAge:          cfg.MaxAge,
		cleanupInterval: cfg.CleanupInterval,
		stopCh:          make(chan struct{}),
	}

	if m.maxAge > 0 && m.cleanupInterval > 0 {
		m.wg.Add(1)
		go m.cleanupLoop()
	}

	return m
}

// Create 以 g.ID() 註冊遊戲
//
// ID 由 NewGame 新生成，不應碰撞；碰撞代表程式錯誤，直接 panic。
func (m *Manager) Create(g *Game) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.games[g.ID()]; exists {
		panic(fmt.Sprintf("game id collision: %s", g.ID()))
	}
	m.games[g.ID()] = g
}

// NewGame 驗證參數、生成 ID、建立並註冊遊戲
func (m *Manager) NewGame(size int, texts []string) (*Game, error) {
	if err := ValidateCreate(size, len(texts)); err != nil {
		return nil, err
	}

	g := New(m.generateID(), size, NewItems(texts), m.gameOpts...)
	m.Create(g)

	m.logger.Info("遊戲已創建",
		"game_id", g.ID(),
		"size", size,
		"items", len(texts))

	return g, nil
}

// Get 查詢遊戲
func (m *Manager) Get(id uuid.UUID) (*Game, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.games[id]
	return g, ok
}

// Remove 從註冊表移除遊戲，返回是否存在
//
// 只阻止新的查詢；已訂閱的 session 仍可繼續收到事件。
func (m *Manager) Remove(id uuid.UUID) bool {
	m.mu.Lock()
	_, ok := m.games[id]
	delete(m.games, id)
	m.mu.Unlock()

	if ok {
		m.logger.Info("遊戲已移除", "game_id", id)
	}
	return ok
}

// Len 遊戲數量
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.games)
}

// Games 當前所有遊戲的快照
func (m *Manager) Games() []*Game {
	m.mu.RLock()
	defer m.mu.RUnlock()

	games := make([]*Game, 0, len(m.games))
	for _, g := range m.games {
		games = append(games, g)
	}
	return games
}

// cleanupLoop 定期清理過期遊戲
func (m *Manager) cleanupLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Cleanup(time.Now())
		case <-m.stopCh:
			return
		}
	}
}

// Cleanup 移除在 now 時已超過 MaxAge 的遊戲，返回移除數量
//
// 被清理的遊戲先廣播 GameOver 再移除。MaxAge 為 0 時不做任何事。
func (m *Manager) Cleanup(now time.Time) int {
	if m.maxAge <= 0 {
		return 0
	}

	var expired []*Game
	m.mu.RLock()
	for _, g := range m.games {
		if now.Sub(g.CreatedAt()) > m.maxAge {
			expired = append(expired, g)
		}
	}
	m.mu.RUnlock()

	for _, g := range expired {
		g.End()
		if m.Remove(g.ID()) {
			m.logger.Info("遊戲已過期清理", "game_id", g.ID())
		}
	}
	return len(expired)
}

// Stop 停止清理並關閉所有遊戲的事件廣播；可重複呼叫
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		m.wg.Wait()

		for _, g := range m.Games() {
			g.Close()
		}

		m.logger.Info("遊戲管理器已停止")
	})
}

// Stats 統計資訊
func (m *Manager) Stats() map[string]any {
	games := m.Games()

	totalPlayers := 0
	totalSubscribers := 0
	ended := 0
	for _, g := range games {
		totalPlayers += g.PlayerCount()
		totalSubscribers += g.SubscriberCount()
		if g.Ended() {
			ended++
		}
	}

	return map[string]any{
		"total_games":       len(games),
		"ended_games":       ended,
		"total_players":     totalPlayers,
		"total_subscribers": totalSubscribers,
	}
}

// generateID 生成遊戲 ID（時間排序的 UUIDv7）
func (m *Manager) generateID() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		// 隨機來源失敗時退回 v4
		return uuid.New()
	}
	return id
}
