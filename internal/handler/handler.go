// Package handler 提供遊戲服務的 HTTP API
package handler

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/Juliapixel/chat-bingo/internal/game"
	"github.com/Juliapixel/chat-bingo/internal/session"
	apperrors "github.com/Juliapixel/chat-bingo/pkg/errors"
	"github.com/Juliapixel/chat-bingo/pkg/logger"
)

// maxBodyBytes 請求內容上限
const maxBodyBytes = 1 << 20

// Handler HTTP 請求處理器
type Handler struct {
	manager *game.Manager
	hub     *session.Hub
	logger  *slog.Logger
}

// NewHandler 創建 HTTP 處理器
func NewHandler(manager *game.Manager, hub *session.Hub, logger *slog.Logger) *Handler {
	return &Handler{
		manager: manager,
		hub:     hub,
		logger:  logger,
	}
}

// Routes 設定路由
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	// 中間件鏈
	wrap := func(handler http.HandlerFunc) http.HandlerFunc {
		return h.recoverer(h.loggerMiddleware(handler))
	}

	// 遊戲管理 API
	mux.HandleFunc("POST /game/create", wrap(h.createGame))
	mux.HandleFunc("GET /game/get", wrap(h.getGame))
	mux.HandleFunc("POST /game/{id}/join", wrap(h.joinGame))
	mux.HandleFunc("POST /game/{id}/ball", wrap(h.drawBall))
	mux.HandleFunc("POST /game/{id}/end", wrap(h.endGame))
	mux.HandleFunc("DELETE /game/{id}", wrap(h.removeGame))

	// WebSocket
	mux.HandleFunc("GET /ws", wrap(h.hub.ServeWS))

	// 健康檢查
	mux.HandleFunc("GET /health", wrap(h.health))
	mux.HandleFunc("GET /stats", wrap(h.stats))

	return mux
}

// 請求結構
type createGameRequest struct {
	Items []string `json:"items"`
	Size  int      `json:"size"`
}

type joinGameRequest struct {
	PlayerID string `json:"player_id"`
}

type drawBallRequest struct {
	// Idx 為 nil 時隨機抽出一個尚未抽過的號碼
	Idx *int `json:"idx,omitempty"`
}

// createGame 創建遊戲
func (h *Handler) createGame(w http.ResponseWriter, r *http.Request) {
	var req createGameRequest
	if err := h.decode(w, r, &req); err != nil {
		h.errorResponse(w, apperrors.ErrInvalidRequest)
		return
	}

	g, err := h.manager.NewGame(req.Size, req.Items)
	if err != nil {
		h.errorResponse(w, err)
		return
	}

	h.jsonResponse(w, map[string]any{
		"id": g.ID(),
	}, http.StatusOK)
}

// getGame 獲取遊戲內容
func (h *Handler) getGame(w http.ResponseWriter, r *http.Request) {
	g, err := h.lookup(r.URL.Query().Get("id"))
	if err != nil {
		h.errorResponse(w, err)
		return
	}

	h.jsonResponse(w, map[string]any{
		"items": g.Items(),
		"size":  g.Size(),
	}, http.StatusOK)
}

// joinGame 加入遊戲並生成棋盤
func (h *Handler) joinGame(w http.ResponseWriter, r *http.Request) {
	g, err := h.lookup(r.PathValue("id"))
	if err != nil {
		h.errorResponse(w, err)
		return
	}

	var req joinGameRequest
	if err := h.decode(w, r, &req); err != nil || req.PlayerID == "" {
		h.errorResponse(w, apperrors.ErrInvalidRequest.WithDetails("player_id is required"))
		return
	}

	board := g.AddPlayer(req.PlayerID)

	h.jsonResponse(w, map[string]any{
		"player_id": req.PlayerID,
		"board":     board,
	}, http.StatusOK)
}

// drawBall 抽號並廣播
func (h *Handler) drawBall(w http.ResponseWriter, r *http.Request) {
	g, err := h.lookup(r.PathValue("id"))
	if err != nil {
		h.errorResponse(w, err)
		return
	}

	// 空內容等同隨機抽號
	var req drawBallRequest
	if err := h.decode(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		h.errorResponse(w, apperrors.ErrInvalidRequest)
		return
	}

	var idx, delivered int
	if req.Idx != nil {
		idx = *req.Idx
		delivered, err = g.Draw(idx)
	} else {
		idx, delivered, err = g.DrawRandom()
	}
	if err != nil {
		h.errorResponse(w, err)
		return
	}

	h.logger.InfoContext(r.Context(), "抽出號碼",
		"game_id", g.ID(),
		"idx", idx,
		"delivered", delivered)

	h.jsonResponse(w, map[string]any{
		"idx":       idx,
		"delivered": delivered,
	}, http.StatusOK)
}

// endGame 結束遊戲
func (h *Handler) endGame(w http.ResponseWriter, r *http.Request) {
	g, err := h.lookup(r.PathValue("id"))
	if err != nil {
		h.errorResponse(w, err)
		return
	}

	delivered, first := g.End()

	h.jsonResponse(w, map[string]any{
		"delivered": delivered,
		"ended":     first,
	}, http.StatusOK)
}

// removeGame 從註冊表移除遊戲
func (h *Handler) removeGame(w http.ResponseWriter, r *http.Request) {
	id, err := parseGameID(r.PathValue("id"))
	if err != nil {
		h.errorResponse(w, err)
		return
	}

	if !h.manager.Remove(id) {
		h.errorResponse(w, apperrors.ErrNoSuchGame)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// health 健康檢查
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, map[string]any{
		"status": "healthy",
		"time":   time.Now().Unix(),
	}, http.StatusOK)
}

// stats 統計資訊
func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	stats := h.manager.Stats()
	stats["total_connections"] = h.hub.TotalConnections()
	stats["connections"] = h.hub.ConnectionCount()
	h.jsonResponse(w, stats, http.StatusOK)
}

// lookup 解析 ID 並查詢遊戲
func (h *Handler) lookup(raw string) (*game.Game, error) {
	id, err := parseGameID(raw)
	if err != nil {
		return nil, err
	}
	g, ok := h.manager.Get(id)
	if !ok {
		return nil, apperrors.ErrNoSuchGame
	}
	return g, nil
}

func parseGameID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperrors.Wrap(err, apperrors.ErrCodeInvalidGameID, "invalid game id")
	}
	return id, nil
}

// decode 解析 JSON 請求內容
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(v)
}

// jsonResponse 返回 JSON 響應
func (h *Handler) jsonResponse(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("編碼 JSON 失敗", "error", err)
	}
}

// errorResponse 以 {"error":code} 返回錯誤響應
func (h *Handler) errorResponse(w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("請求處理失敗", "error", err)
	}

	h.jsonResponse(w, map[string]any{
		"error": apperrors.Code(err),
	}, status)
}

// loggerMiddleware 日誌中間件
func (h *Handler) loggerMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)
		r = r.WithContext(logger.WithRequestID(r.Context(), requestID))

		// 包裝 ResponseWriter 以獲取狀態碼
		ww := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next(ww, r)

		h.logger.InfoContext(r.Context(), "HTTP 請求",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.statusCode,
			"duration", time.Since(start))
	}
}

// recoverer panic 恢復中間件
func (h *Handler) recoverer(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				if err == http.ErrAbortHandler {
					panic(err)
				}
				h.logger.Error("處理請求時發生 panic",
					"error", err,
					"method", r.Method,
					"path", r.URL.Path)

				h.errorResponse(w, apperrors.ErrInternal)
			}
		}()

		next(w, r)
	}
}

// responseWriter 包裝 ResponseWriter 以獲取狀態碼
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack WebSocket 升級需要
func (w *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	w.statusCode = http.StatusSwitchingProtocols
	return hj.Hijack()
}

// Unwrap 讓 http.ResponseController 取得底層 writer
func (w *responseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
