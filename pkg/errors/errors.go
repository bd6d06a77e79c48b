// Package errors 提供遊戲服務的應用程式錯誤
//
// 錯誤碼同時也是 HTTP 錯誤響應的 "error" 欄位，
// 客戶端依賴這些字串，不可任意更名。
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// 錯誤碼
const (
	// 建立遊戲的驗證錯誤
	ErrCodeTooBig         = "too_big"
	ErrCodeTooSmall       = "too_small"
	ErrCodeSizeNotOdd     = "size_not_odd"
	ErrCodeNotEnoughItems = "not_enough_items"

	// ErrCodeNoSuchGame 遊戲不存在
	ErrCodeNoSuchGame = "no_such_game"
	// ErrCodeInvalidGameID 遊戲 ID 格式錯誤
	ErrCodeInvalidGameID = "invalid_game_id"
	// ErrCodeInvalidRequest 請求格式錯誤
	ErrCodeInvalidRequest = "invalid_request"
	// ErrCodeNoBallsLeft 所有號碼都已抽出
	ErrCodeNoBallsLeft = "no_balls_left"
	// ErrCodeBallOutOfRange 號碼超出項目範圍
	ErrCodeBallOutOfRange = "ball_out_of_range"
	// ErrCodeShuttingDown 服務正在關閉
	ErrCodeShuttingDown = "shutting_down"
	// ErrCodeInternal 內部錯誤
	ErrCodeInternal = "internal_error"
)

// AppError 應用程式錯誤
type AppError struct {
	Code    string `json:"error"`
	Message string `json:"message,omitempty"`
	Details string `json:"details,omitempty"`
	Err     error  `json:"-"`
}

// Error 實現 error 介面
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 實現 errors.Unwrap
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is 以錯誤碼比對，讓 errors.Is(err, ErrNoSuchGame) 對包裝過的錯誤也成立
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New 創建新的應用程式錯誤
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap 包裝錯誤
func Wrap(err error, code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithDetails 返回附帶詳細資訊的副本（預定義錯誤是共享的，不能原地修改）
func (e *AppError) WithDetails(details string) *AppError {
	cp := *e
	cp.Details = details
	return &cp
}

// 預定義錯誤
var (
	ErrTooBig         = New(ErrCodeTooBig, "the board was too big")
	ErrTooSmall       = New(ErrCodeTooSmall, "the board was too small")
	ErrSizeNotOdd     = New(ErrCodeSizeNotOdd, "the size of the requested bingo board was not odd")
	ErrNotEnoughItems = New(ErrCodeNotEnoughItems, "there were not enough items to fill a bingo card")

	ErrNoSuchGame     = New(ErrCodeNoSuchGame, "there is no such game")
	ErrInvalidGameID  = New(ErrCodeInvalidGameID, "the game id is not a valid identifier")
	ErrInvalidRequest = New(ErrCodeInvalidRequest, "the request body could not be decoded")
	ErrNoBallsLeft    = New(ErrCodeNoBallsLeft, "every item has already been drawn")
	ErrBallOutOfRange = New(ErrCodeBallOutOfRange, "the ball index is outside of the item list")
	ErrShuttingDown   = New(ErrCodeShuttingDown, "the server is shutting down")
	ErrInternal       = New(ErrCodeInternal, "internal server error")
)

// Code 取出錯誤碼，非 AppError 一律視為內部錯誤
func Code(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

// HTTPStatus 將錯誤映射為 HTTP 狀態碼
func HTTPStatus(err error) int {
	switch Code(err) {
	case ErrCodeTooBig, ErrCodeTooSmall, ErrCodeSizeNotOdd, ErrCodeNotEnoughItems,
		ErrCodeInvalidGameID, ErrCodeInvalidRequest, ErrCodeBallOutOfRange:
		return http.StatusBadRequest
	case ErrCodeNoSuchGame:
		return http.StatusNotFound
	case ErrCodeNoBallsLeft:
		return http.StatusConflict
	case ErrCodeShuttingDown:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// IsNotFound 檢查是否為遊戲不存在錯誤
func IsNotFound(err error) bool {
	return Code(err) == ErrCodeNoSuchGame
}

// IsValidation 檢查是否為建立遊戲的驗證錯誤
func IsValidation(err error) bool {
	switch Code(err) {
	case ErrCodeTooBig, ErrCodeTooSmall, ErrCodeSizeNotOdd, ErrCodeNotEnoughItems:
		return true
	}
	return false
}
