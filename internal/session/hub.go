package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Juliapixel/chat-bingo/internal/game"
	apperrors "github.com/Juliapixel/chat-bingo/pkg/errors"
)

// IdentifyFunc 從請求取得玩家身份
type IdentifyFunc func(r *http.Request) string

// DefaultIdentify 使用 player 查詢參數，沒有時生成匿名 ID
func DefaultIdentify(r *http.Request) string {
	if p := r.URL.Query().Get("player"); p != "" {
		return p
	}
	return "anon-" + uuid.NewString()
}

// HubConfig Hub 配置
type HubConfig struct {
	Session Config
	// ReconnectDelay 關閉時通知客戶端的重連延遲
	ReconnectDelay time.Duration
	// AllowedOrigins 為空時接受任何來源
	AllowedOrigins []string
	// Identify 為 nil 時使用 DefaultIdentify
	Identify IdentifyFunc
}

// Hub WebSocket 連線中心
//
// 負責升級、追蹤所有 Session 以及關閉流程。
// 連線映射：map[gameID]map[*Session]struct{}，讀多寫少用 RWMutex。
type Hub struct {
	manager  *game.Manager
	logger   *slog.Logger
	upgrader websocket.Upgrader
	cfg      HubConfig

	sessions map[uuid.UUID]map[*Session]struct{}
	closing  bool
	mu       sync.RWMutex
	wg       sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// NewHub 創建 Hub
func NewHub(manager *game.Manager, log *slog.Logger, cfg HubConfig) *Hub {
	if cfg.Identify == nil {
		cfg.Identify = DefaultIdentify
	}
	cfg.Session.ReconnectDelay = cfg.ReconnectDelay

	ctx, cancel := context.WithCancel(context.Background())
	hub := &Hub{
		manager:  manager,
		logger:   log,
		cfg:      cfg,
		sessions: make(map[uuid.UUID]map[*Session]struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
	hub.upgrader = websocket.Upgrader{
		CheckOrigin:     hub.checkOrigin,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	return hub
}

// checkOrigin 沒有 Origin 標頭（非瀏覽器客戶端）一律接受
func (hub *Hub) checkOrigin(r *http.Request) bool {
	if len(hub.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return slices.Contains(hub.cfg.AllowedOrigins, origin)
}

// ServeWS 處理 WebSocket 連線
//
// 在請求 goroutine 上執行 Session，直到連線結束才返回。
func (hub *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	gameID, err := uuid.Parse(r.URL.Query().Get("game"))
	if err != nil {
		writeError(w, http.StatusBadRequest, apperrors.ErrInvalidGameID)
		return
	}

	// 不存在的遊戲回 400（不是 404），與建立遊戲的驗證錯誤一致
	g, ok := hub.manager.Get(gameID)
	if !ok {
		writeError(w, http.StatusBadRequest, apperrors.ErrNoSuchGame)
		return
	}

	if hub.isClosing() {
		writeError(w, http.StatusServiceUnavailable, apperrors.ErrShuttingDown)
		return
	}

	playerID := hub.cfg.Identify(r)

	conn, err := hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade 已寫出錯誤響應
		hub.logger.Warn("升級 WebSocket 失敗", "error", err, "game_id", gameID)
		return
	}

	sess := New(g, playerID, conn, hub.cfg.Session, hub.logger)
	if !hub.register(sess) {
		sess.teardown(sess.logContext(hub.ctx), CauseShutdown)
		return
	}
	defer hub.unregister(sess)

	sess.Run(hub.ctx)
}

func (hub *Hub) isClosing() bool {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	return hub.closing
}

// register 註冊 Session；Hub 已在關閉中時返回 false
func (hub *Hub) register(s *Session) bool {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	if hub.closing {
		return false
	}

	gameID := s.Game().ID()
	if hub.sessions[gameID] == nil {
		hub.sessions[gameID] = make(map[*Session]struct{})
	}
	hub.sessions[gameID][s] = struct{}{}
	hub.wg.Add(1)
	return true
}

// unregister 取消註冊
func (hub *Hub) unregister(s *Session) {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	gameID := s.Game().ID()
	if sessions, exists := hub.sessions[gameID]; exists {
		delete(sessions, s)
		if len(sessions) == 0 {
			delete(hub.sessions, gameID)
		}
	}
	hub.wg.Done()
}

// Shutdown 結束所有 Session 並等待
//
// 每個 Session 先送出已排隊的事件，再直接寫出 Reconnect 並以 1001 關閉。
// ctx 到期時返回 ctx.Err()。
func (hub *Hub) Shutdown(ctx context.Context) error {
	hub.mu.Lock()
	hub.closing = true
	games := len(hub.sessions)
	hub.mu.Unlock()

	hub.cancel()

	done := make(chan struct{})
	go func() {
		hub.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		hub.logger.Info("WebSocket Hub 已停止", "games", games)
		return nil
	case <-ctx.Done():
		hub.logger.Warn("等待 session 結束逾時", "error", ctx.Err())
		return ctx.Err()
	}
}

// ConnectionCount 每個遊戲的連線數
func (hub *Hub) ConnectionCount() map[string]int {
	hub.mu.RLock()
	defer hub.mu.RUnlock()

	counts := make(map[string]int, len(hub.sessions))
	for gameID, sessions := range hub.sessions {
		counts[gameID.String()] = len(sessions)
	}
	return counts
}

// TotalConnections 全部連線數
func (hub *Hub) TotalConnections() int {
	hub.mu.RLock()
	defer hub.mu.RUnlock()

	total := 0
	for _, sessions := range hub.sessions {
		total += len(sessions)
	}
	return total
}

// writeError 以 {"error":code} 格式寫出錯誤
func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": apperrors.Code(err)})
}
