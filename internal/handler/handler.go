// Package handler 提供遊戲同步服務的 HTTP 介面
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/koopa0/system-design/racesync/internal/archive"
	"github.com/koopa0/system-design/racesync/internal/config"
	"github.com/koopa0/system-design/racesync/internal/game"
	"github.com/koopa0/system-design/racesync/internal/guard"
	apperrors "github.com/koopa0/system-design/racesync/pkg/errors"
)

const (
	headerUser      = "X-User"
	headerRoom      = "X-Room"
	headerOpponents = "X-Opponents"
	headerCrashes   = "X-Crashes"
	headerTimestamp = "X-Timestamp"

	// maxBodyBytes 請求內容上限
	maxBodyBytes = 1 << 20
)

// Options HTTP 介面參數
type Options struct {
	StatusSecret       string // /current-status 的密鑰
	HeaderHash         string
	HeaderControlCount string
}

// OptionsFromConfig 從配置建立參數
func OptionsFromConfig(c *config.Config) Options {
	return Options{
		StatusSecret:       c.Node.Secret,
		HeaderHash:         c.Security.HeaderHash,
		HeaderControlCount: c.Security.HeaderControlCount,
	}
}

// Pinger 就緒檢查的外部相依
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler HTTP 請求處理器
type Handler struct {
	svc     *game.Service
	gate    *guard.Gate
	archive archive.Archive
	pingers map[string]Pinger
	opts    Options
	logger  *slog.Logger
}

// NewHandler 創建 HTTP 處理器
func NewHandler(svc *game.Service, gate *guard.Gate, arch archive.Archive, opts Options, logger *slog.Logger) *Handler {
	if opts.HeaderHash == "" {
		opts.HeaderHash = "X-Hash"
	}
	if opts.HeaderControlCount == "" {
		opts.HeaderControlCount = "X-Control-Count"
	}
	return &Handler{
		svc:     svc,
		gate:    gate,
		archive: arch,
		pingers: make(map[string]Pinger),
		opts:    opts,
		logger:  logger.With("component", "http"),
	}
}

// AddReadiness 加入 /ready 需要檢查的相依
func (h *Handler) AddReadiness(name string, p Pinger) {
	h.pingers[name] = p
}

// Routes 設定路由
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	// 中間件鏈：恢復 -> 請求 ID -> 日誌 -> 業務處理
	wrap := func(handler http.HandlerFunc) http.HandlerFunc {
		return h.recoverer(h.requestID(h.loggerMiddleware(handler)))
	}

	// 遊戲路由
	mux.HandleFunc("GET /connect", wrap(h.authHash(h.connect)))
	mux.HandleFunc("POST /game", wrap(h.auth(h.joinGame)))
	mux.HandleFunc("GET /poll", wrap(h.auth(h.poll)))
	mux.HandleFunc("POST /{$}", wrap(h.authHash(h.post)))
	mux.HandleFunc("POST /stats", wrap(h.authHash(h.stats)))
	mux.HandleFunc("POST /score", wrap(h.auth(h.score)))
	mux.HandleFunc("POST /messages", wrap(h.authHash(h.messages)))

	// 節點間與維運
	mux.HandleFunc("GET /current-status", wrap(h.currentStatus))
	mux.HandleFunc("GET /users", wrap(h.users))
	mux.HandleFunc("GET /health", wrap(h.health))
	mux.HandleFunc("GET /ready", wrap(h.ready))

	return mux
}

// connect 玩家上線
func (h *Handler) connect(w http.ResponseWriter, r *http.Request, p game.Player) {
	res, err := h.svc.Connect(r.Context(), p, clientIP(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, res)
}

// joinGame 加入房間
func (h *Handler) joinGame(w http.ResponseWriter, r *http.Request, p game.Player) {
	room := r.URL.Query().Get("game")
	if room == "" {
		h.respondError(w, r, apperrors.ErrMissingParam.WithDetails("game"))
		return
	}

	res, err := h.svc.JoinGame(r.Context(), p, room)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, res)
}

// poll 長輪詢
func (h *Handler) poll(w http.ResponseWriter, r *http.Request, p game.Player) {
	q := r.URL.Query()
	room := q.Get("room")
	if room == "" {
		h.respondError(w, r, apperrors.ErrMissingParam.WithDetails("room"))
		return
	}
	since, err := strconv.ParseInt(q.Get("time"), 10, 64)
	if err != nil {
		h.respondError(w, r, apperrors.ErrMissingParam.WithDetails("time"))
		return
	}

	res, err := h.svc.Poll(r.Context(), p, room, since)
	switch {
	case err == nil:
		h.respondJSON(w, res)
	case apperrors.IsPollTimeout(err):
		w.Header().Set(headerRoom, room)
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// 客戶端已斷線
	default:
		h.respondError(w, r, err)
	}
}

// post 送出一筆事件
func (h *Handler) post(w http.ResponseWriter, r *http.Request, p game.Player) {
	q := r.URL.Query()
	room, eventType := q.Get("room"), q.Get("type")
	if room == "" || eventType == "" {
		h.respondError(w, r, apperrors.ErrMissingParam.WithDetails("room and type"))
		return
	}

	car := h.svc.Post(r.Context(), p, room, eventType, q.Get("message"))
	h.respondJSON(w, car)
}

type statsRequest struct {
	Config json.RawMessage `json:"config"`
}

// stats 客戶端統計與推薦獎勵
func (h *Handler) stats(w http.ResponseWriter, r *http.Request, p game.Player) {
	var req statsRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err == nil && len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			h.logger.DebugContext(r.Context(), "ignoring malformed stats body", "error", err)
		}
	}

	res := h.svc.Stats(r.Context(), p, req.Config, r.URL.Query().Get("referrer"))
	w.Header().Set(headerOpponents, strconv.Itoa(res.Opponents))
	w.Header().Set(headerCrashes, strconv.FormatInt(res.Crashes, 10))
	w.WriteHeader(http.StatusNoContent)
}

// score 提交分數
func (h *Handler) score(w http.ResponseWriter, r *http.Request, _ game.Player) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.respondError(w, r, apperrors.Wrap(err, apperrors.ErrCodeMissingParam, "read body"))
		return
	}
	if err := h.svc.SubmitScore(r.Context(), body); err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondText(w, http.StatusOK, "Thanks for the scores")
}

// messages 封存自由格式訊息
func (h *Handler) messages(w http.ResponseWriter, r *http.Request, p game.Player) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.respondError(w, r, apperrors.Wrap(err, apperrors.ErrCodeMissingParam, "read body"))
		return
	}

	var msg struct {
		Message any `json:"message"`
	}
	if err := json.Unmarshal(body, &msg); err != nil || !present(msg.Message) {
		h.respondError(w, r, apperrors.ErrMissingParam.WithDetails("message"))
		return
	}

	ts := time.Now().UnixMilli()
	if err := h.archive.Save(r.Context(), p.ID, ts, body); err != nil {
		h.respondError(w, r, apperrors.Wrap(err, apperrors.ErrCodePersistence, "archive message"))
		return
	}

	h.logger.InfoContext(r.Context(), "message archived", "timestamp", ts)
	w.Header().Set(headerTimestamp, strconv.FormatInt(ts, 10))
	w.WriteHeader(http.StatusOK)
}

// present 訊息欄位存在且不是空值
func present(v any) bool {
	switch m := v.(type) {
	case nil:
		return false
	case string:
		return m != ""
	case bool:
		return m
	case float64:
		return m != 0
	}
	return true
}

// currentStatus 返回完整狀態快照，供副本節點啟動
func (h *Handler) currentStatus(w http.ResponseWriter, r *http.Request) {
	if h.opts.StatusSecret == "" || r.URL.Query().Get("secret") != h.opts.StatusSecret {
		h.respondError(w, r, apperrors.ErrForbiddenStatus)
		return
	}

	snap, err := h.svc.Store().Snapshot()
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, snap)
}

// users 目前玩家數（純文字）
func (h *Handler) users(w http.ResponseWriter, _ *http.Request) {
	h.respondText(w, http.StatusOK, strconv.Itoa(h.svc.UserCount()))
}

// health 健康檢查
func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	h.respondText(w, http.StatusOK, "OK")
}

// ready 就緒檢查
func (h *Handler) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.svc.Ready(ctx); err != nil {
		h.respondError(w, r, err)
		return
	}
	for name, p := range h.pingers {
		if err := p.Ping(ctx); err != nil {
			h.respondError(w, r, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, name+" not ready"))
			return
		}
	}
	h.respondText(w, http.StatusOK, "Ready")
}

type errorResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (h *Handler) respondJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) respondText(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	if _, err := io.WriteString(w, body); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

// respondError 依錯誤碼決定狀態碼
func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.StatusOf(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed", "error", err)
	}

	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		h.respondStatus(w, status, "internal server error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if encErr := json.NewEncoder(w).Encode(errorResponse{Code: appErr.Code, Error: appErr.Message}); encErr != nil {
		h.logger.Error("failed to encode error response", "error", encErr)
	}
}

func (h *Handler) respondStatus(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(errorResponse{Error: message}); err != nil {
		h.logger.Error("failed to encode error response", "error", err, "message", message)
	}
}
