// Package session 管理每條 WebSocket 連線的生命週期
//
// 每條連線一個 Session：一個 goroutine 執行 select 迴圈，
// 同時處理心跳、事件轉發、客戶端訊框與關閉；另一個 goroutine
// 只負責阻塞讀取並把訊框送進迴圈。
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/Juliapixel/chat-bingo/internal/game"
	"github.com/Juliapixel/chat-bingo/pkg/logger"
)

// CloseTimedOut 心跳逾時的關閉碼（私有範圍 4000-4999）
//
// 1006 是保留碼，不能出現在關閉訊框中。
const CloseTimedOut = 4000

// Conn Session 使用的連線操作，*websocket.Conn 滿足此介面
//
// 同一時間只有一個 goroutine 呼叫讀取方法、一個呼叫寫入方法；
// WriteControl 與 Close 可並發呼叫。
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPingHandler(h func(appData string) error)
	SetPongHandler(h func(appData string) error)
	Close() error
}

// State Session 狀態
type State int32

const (
	StateStarting State = iota
	StateActive
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateActive:
		return "active"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Cause 結束原因
type Cause string

const (
	CauseClientClosed      Cause = "client_closed"
	CauseTimedOut          Cause = "timed_out"
	CauseShutdown          Cause = "shutdown"
	CauseSubscriptionEnded Cause = "subscription_ended"
	CauseReadError         Cause = "read_error"
	CauseWriteError        Cause = "write_error"
)

// ClientEventHandler 處理解碼成功的客戶端事件
type ClientEventHandler func(ctx context.Context, s *Session, ev game.ClientEvent)

// Config Session 配置
type Config struct {
	Heartbeat     Heartbeat
	WriteTimeout  time.Duration
	ReadLimit     int64
	InboundBuffer int
	// ReconnectDelay 伺服器關閉時以 Reconnect 事件告知客戶端的重連延遲
	ReconnectDelay time.Duration
	// OnClientEvent 為 nil 時只記錄 debug 日誌
	OnClientEvent ClientEventHandler
}

// DefaultConfig 預設配置
func DefaultConfig() Config {
	return Config{
		Heartbeat:     DefaultHeartbeat(),
		WriteTimeout:  10 * time.Second,
		ReadLimit:     4096,
		InboundBuffer: 16,
	}
}

// frame 讀取端送進迴圈的訊框
type frame struct {
	messageType int
	data        []byte
	err         error
}

// Session 一條連線
//
// lastActivity 與 sub 只由 Run 所在的 goroutine 存取。
type Session struct {
	id       uuid.UUID
	playerID string
	game     *game.Game
	conn     Conn
	cfg      Config
	logger   *slog.Logger

	sub          *game.Subscription
	lastActivity time.Time
	state        atomic.Int32
	now          func() time.Time
}

// New 建立 Session 並立即訂閱遊戲事件
//
// 訂閱發生在此處而非 Run，升級完成後發布的事件不會遺失。
func New(g *game.Game, playerID string, conn Conn, cfg Config, log *slog.Logger) *Session {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}

	s := &Session{
		id:       id,
		playerID: playerID,
		game:     g,
		conn:     conn,
		cfg:      cfg,
		logger:   log.With("player_id", playerID),
		sub:      g.Subscribe(),
		now:      time.Now,
	}
	s.state.Store(int32(StateStarting))
	return s
}

// ID Session ID
func (s *Session) ID() uuid.UUID { return s.id }

// PlayerID 玩家 ID
func (s *Session) PlayerID() string { return s.playerID }

// Game 所屬遊戲
func (s *Session) Game() *game.Game { return s.game }

// State 當前狀態
func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(ctx context.Context, st State) {
	s.state.Store(int32(st))
	s.logger.DebugContext(ctx, "session 狀態變更", "state", st.String())
}

// Run 執行 Session 直到結束，返回結束原因
//
// ctx 取消代表伺服器關閉：已排隊的事件會先送出，接著送出 Reconnect，
// 再以 1001 關閉。返回時連線已關閉、訂閱已取消、讀取 goroutine 已結束。
func (s *Session) Run(ctx context.Context) Cause {
	ctx = s.logContext(ctx)

	if s.cfg.ReadLimit > 0 {
		s.conn.SetReadLimit(s.cfg.ReadLimit)
	}

	frames := make(chan frame, max(s.cfg.InboundBuffer, 1))
	stop := make(chan struct{})

	s.lastActivity = s.now()
	s.installHandlers(frames, stop)
	s.setState(ctx, StateActive)
	s.logger.InfoContext(ctx, "session 已開始")

	var cause Cause
	var g errgroup.Group

	g.Go(func() error {
		s.readPump(frames, stop)
		return nil
	})

	g.Go(func() error {
		cause = s.loop(ctx, frames)

		s.setState(ctx, StateStopping)
		close(stop)
		s.teardown(ctx, cause)
		return nil
	})

	_ = g.Wait()
	s.setState(ctx, StateStopped)

	s.logger.InfoContext(ctx, "session 已結束", "cause", string(cause))
	return cause
}

// logContext 讓 Session 的日誌帶上 session_id 與 game_id
func (s *Session) logContext(ctx context.Context) context.Context {
	ctx = logger.WithGameID(ctx, s.game.ID().String())
	return logger.WithSessionID(ctx, s.id.String())
}

// installHandlers ping/pong 也算活動
//
// 處理器在 ReadMessage 內執行（讀取 goroutine），
// 只把訊框轉交給迴圈；pong 回覆以 WriteControl 送出。
func (s *Session) installHandlers(frames chan<- frame, stop <-chan struct{}) {
	s.conn.SetPingHandler(func(appData string) error {
		deliver(frames, stop, frame{messageType: websocket.PingMessage})

		err := s.conn.WriteControl(websocket.PongMessage, []byte(appData), s.now().Add(s.cfg.WriteTimeout))
		if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
			return err
		}
		return nil
	})

	s.conn.SetPongHandler(func(string) error {
		deliver(frames, stop, frame{messageType: websocket.PongMessage})
		return nil
	})
}

// readPump 阻塞讀取，直到讀取失敗或迴圈結束
func (s *Session) readPump(frames chan<- frame, stop <-chan struct{}) {
	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			deliver(frames, stop, frame{err: err})
			return
		}
		if !deliver(frames, stop, frame{messageType: messageType, data: data}) {
			return
		}
	}
}

// deliver 送出訊框；迴圈已結束時返回 false
func deliver(frames chan<- frame, stop <-chan struct{}, f frame) bool {
	select {
	case frames <- f:
		return true
	case <-stop:
		return false
	}
}

// loop 主迴圈
func (s *Session) loop(ctx context.Context, frames <-chan frame) Cause {
	ticker := time.NewTicker(s.cfg.Heartbeat.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.drain(ctx)
			return CauseShutdown

		case f := <-frames:
			if cause, done := s.handleFrame(ctx, f); done {
				return cause
			}

		case <-ticker.C:
			now := s.now()
			if s.cfg.Heartbeat.Expired(now, s.lastActivity) {
				s.logger.InfoContext(ctx, "心跳逾時",
					"last_activity", s.lastActivity,
					"silence", now.Sub(s.lastActivity))
				return CauseTimedOut
			}
			s.ping(ctx, now)

		case ev, ok := <-s.sub.C():
			if !ok {
				// 關閉中落後仍以關閉處理，客戶端照樣收到 Reconnect
				if ctx.Err() != nil {
					return CauseShutdown
				}
				s.logger.WarnContext(ctx, "事件訂閱已結束", "error", s.sub.Err())
				return CauseSubscriptionEnded
			}
			if err := s.send(ev); err != nil {
				s.logger.WarnContext(ctx, "轉發事件失敗", "event", ev.EventName(), "error", err)
				return CauseWriteError
			}
		}
	}
}

// handleFrame 處理一個入站訊框，done 表示迴圈應結束
func (s *Session) handleFrame(ctx context.Context, f frame) (Cause, bool) {
	if f.err != nil {
		var closeErr *websocket.CloseError
		if errors.As(f.err, &closeErr) {
			s.logger.InfoContext(ctx, "客戶端關閉連線", "code", closeErr.Code, "reason", closeErr.Text)
			return CauseClientClosed, true
		}
		s.logger.WarnContext(ctx, "讀取失敗", "error", f.err)
		return CauseReadError, true
	}

	s.lastActivity = s.now()

	switch f.messageType {
	case websocket.TextMessage:
		s.handleText(ctx, f.data)
	case websocket.CloseMessage:
		return CauseClientClosed, true
	default:
		// binary、ping、pong 只刷新活動時間
	}
	return "", false
}

// handleText 解碼客戶端事件；解碼失敗只記錄，不中斷連線
func (s *Session) handleText(ctx context.Context, data []byte) {
	ev, err := game.UnmarshalClientEvent(data)
	if err != nil {
		s.logger.WarnContext(ctx, "無法解析客戶端事件", "error", err, "size", len(data))
		return
	}

	if s.cfg.OnClientEvent == nil {
		s.logger.DebugContext(ctx, "收到客戶端事件", "event", ev.EventName())
		return
	}
	s.cfg.OnClientEvent(ctx, s, ev)
}

// send 編碼並寫出一個事件
func (s *Session) send(ev game.ServerEvent) error {
	data, err := game.MarshalServerEvent(ev)
	if err != nil {
		return err
	}
	if err := s.conn.SetWriteDeadline(s.now().Add(s.cfg.WriteTimeout)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// ping 不等待回應；失敗只記錄，連線真的斷了讀取端會發現
func (s *Session) ping(ctx context.Context, now time.Time) {
	if err := s.conn.WriteControl(websocket.PingMessage, nil, now.Add(s.cfg.WriteTimeout)); err != nil {
		s.logger.DebugContext(ctx, "發送 ping 失敗", "error", err)
	}
}

// drain 送出已排隊但尚未轉發的事件；訂閱已因落後關閉時送到最後一個為止
func (s *Session) drain(ctx context.Context) {
	for {
		select {
		case ev, ok := <-s.sub.C():
			if !ok {
				return
			}
			if err := s.send(ev); err != nil {
				s.logger.DebugContext(ctx, "關閉前轉發事件失敗", "error", err)
				return
			}
		default:
			return
		}
	}
}

// teardown 取消訂閱、送出關閉訊框、關閉連線
//
// 伺服器關閉時先直接寫出 Reconnect，不經過廣播，落後的客戶端也收得到。
func (s *Session) teardown(ctx context.Context, cause Cause) {
	s.sub.Close()

	if cause == CauseShutdown {
		if err := s.send(game.ReconnectAfter(s.cfg.ReconnectDelay)); err != nil {
			s.logger.DebugContext(ctx, "發送重連通知失敗", "error", err)
		}
	}

	if code, reason, ok := closeFrameFor(cause, s.sub.Err()); ok {
		msg := websocket.FormatCloseMessage(code, reason)
		if err := s.conn.WriteControl(websocket.CloseMessage, msg, s.now().Add(time.Second)); err != nil {
			s.logger.DebugContext(ctx, "發送關閉訊框失敗", "error", err)
		}
	}

	if err := s.conn.Close(); err != nil {
		s.logger.DebugContext(ctx, "關閉連線失敗", "error", err)
	}
}

// closeFrameFor 結束原因對應的關閉碼
//
// 客戶端主動關閉時 gorilla 已回覆關閉訊框；讀寫失敗時連線已不可用。
func closeFrameFor(cause Cause, subErr error) (code int, reason string, ok bool) {
	switch cause {
	case CauseTimedOut:
		return CloseTimedOut, "timed out", true
	case CauseShutdown:
		return websocket.CloseGoingAway, "server shutting down", true
	case CauseSubscriptionEnded:
		if errors.Is(subErr, game.ErrLagged) {
			return websocket.CloseTryAgainLater, "lagged", true
		}
		return websocket.CloseNormalClosure, "game closed", true
	default:
		return 0, "", false
	}
}
