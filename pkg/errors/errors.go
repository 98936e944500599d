// Package errors 提供應用程式錯誤處理
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// 定義錯誤碼
const (
	// ErrCodeMissingAuth 缺少身分標頭
	ErrCodeMissingAuth = "MISSING_AUTH"
	// ErrCodeMalformedAuth 身分標頭格式錯誤或缺少欄位
	ErrCodeMalformedAuth = "MALFORMED_AUTH"
	// ErrCodeStaleVersion 客戶端版本過舊
	ErrCodeStaleVersion = "STALE_VERSION"
	// ErrCodeInvalidHash 防重放雜湊重複或不正確
	ErrCodeInvalidHash = "INVALID_HASH"
	// ErrCodeRoomFull 房間已滿
	ErrCodeRoomFull = "ROOM_FULL"
	// ErrCodeMissingParam 缺少查詢參數
	ErrCodeMissingParam = "MISSING_PARAM"
	// ErrCodePollTimeout 長輪詢逾時
	ErrCodePollTimeout = "POLL_TIMEOUT"
	// ErrCodeBadScoreCheck 分數校驗失敗
	ErrCodeBadScoreCheck = "BAD_SCORE_CHECK"
	// ErrCodePersistence 封存寫入失敗
	ErrCodePersistence = "PERSISTENCE_FAILURE"
	// ErrCodeForbiddenStatus 狀態快照密鑰不符
	ErrCodeForbiddenStatus = "FORBIDDEN_STATUS"
	// ErrCodeInternal 內部錯誤
	ErrCodeInternal = "INTERNAL_ERROR"
	// ErrCodeUnavailable 服務不可用
	ErrCodeUnavailable = "SERVICE_UNAVAILABLE"
)

// AppError 應用程式錯誤
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
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

// Is 實現 errors.Is，只比較錯誤碼
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

// WithDetails 返回帶有詳細資訊的副本
//
// 預定義錯誤是共用的變數，因此不能原地修改。
func (e *AppError) WithDetails(details string) *AppError {
	cp := *e
	cp.Details = details
	return &cp
}

// StatusCode 返回錯誤碼對應的 HTTP 狀態碼
//
// 418 用於缺少身分與版本過舊，這是舊版客戶端依賴的行為。
func (e *AppError) StatusCode() int {
	switch e.Code {
	case ErrCodeMissingAuth, ErrCodeStaleVersion, ErrCodeForbiddenStatus:
		return http.StatusTeapot
	case ErrCodeMalformedAuth, ErrCodeInvalidHash, ErrCodeMissingParam:
		return http.StatusBadRequest
	case ErrCodeRoomFull:
		return http.StatusForbidden
	case ErrCodePollTimeout:
		return http.StatusNoContent
	case ErrCodeBadScoreCheck:
		return http.StatusGone
	case ErrCodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// 預定義錯誤
var (
	// ErrMissingAuth 缺少 X-User 標頭
	ErrMissingAuth = New(ErrCodeMissingAuth, "missing user header")

	// ErrMalformedAuth X-User 標頭無法解析
	ErrMalformedAuth = New(ErrCodeMalformedAuth, "malformed user header")

	// ErrStaleVersion 客戶端版本低於伺服器版本
	ErrStaleVersion = New(ErrCodeStaleVersion, "client version is outdated")

	// ErrReplayedHash 雜湊與上次相同
	ErrReplayedHash = New(ErrCodeInvalidHash, "hash was already used")

	// ErrInvalidHash 雜湊不正確
	ErrInvalidHash = New(ErrCodeInvalidHash, "hash does not match")

	// ErrRoomFull 房間已滿
	ErrRoomFull = New(ErrCodeRoomFull, "room is full")

	// ErrMissingParam 缺少必要參數
	ErrMissingParam = New(ErrCodeMissingParam, "missing required parameter")

	// ErrPollTimeout 長輪詢沒有新事件
	ErrPollTimeout = New(ErrCodePollTimeout, "no new events")

	// ErrBadScoreCheck 分數校驗碼不符
	ErrBadScoreCheck = New(ErrCodeBadScoreCheck, "score check failed")

	// ErrForbiddenStatus 快照密鑰不符
	ErrForbiddenStatus = New(ErrCodeForbiddenStatus, "status secret mismatch")

	// ErrRedisUnavailable Redis 不可用
	ErrRedisUnavailable = New(ErrCodeUnavailable, "redis service unavailable")

	// ErrDatabaseUnavailable 資料庫不可用
	ErrDatabaseUnavailable = New(ErrCodeUnavailable, "database service unavailable")
)

// StatusOf 返回任意錯誤對應的 HTTP 狀態碼，非 AppError 一律視為 500
func StatusOf(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode()
	}
	return http.StatusInternalServerError
}

// IsRoomFull 檢查是否為房間已滿錯誤
func IsRoomFull(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeRoomFull
	}
	return false
}

// IsInvalidHash 檢查是否為雜湊錯誤
func IsInvalidHash(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeInvalidHash
	}
	return false
}

// IsPollTimeout 檢查是否為輪詢逾時
func IsPollTimeout(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodePollTimeout
	}
	return false
}
