package handler

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/koopa0/system-design/racesync/internal/game"
	"github.com/koopa0/system-design/racesync/internal/guard"
	"github.com/koopa0/system-design/racesync/pkg/logger"
)

// headerRequestID 請求 ID 標頭
const headerRequestID = "X-Request-ID"

// playerHandler 已通過身分驗證的處理函數
type playerHandler func(w http.ResponseWriter, r *http.Request, p game.Player)

// auth 解析 X-User 標頭
func (h *Handler) auth(next playerHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := guard.ParseIdentity(r.Header.Get(headerUser))
		if err != nil {
			h.respondError(w, r, err)
			return
		}

		ctx := logger.WithUserID(r.Context(), id.ID)
		next(w, r.WithContext(ctx), game.Player{
			ID:      id.ID,
			Name:    id.Name,
			Version: id.Version,
			Mail:    id.Mail,
		})
	}
}

// authHash 解析 X-User 並檢查防重放雜湊
func (h *Handler) authHash(next playerHandler) http.HandlerFunc {
	return h.auth(func(w http.ResponseWriter, r *http.Request, p game.Player) {
		count := r.Header.Get(h.opts.HeaderControlCount)
		hash := r.Header.Get(h.opts.HeaderHash)
		if err := h.gate.Check(p.ID, p.Version, count, hash); err != nil {
			h.logger.WarnContext(r.Context(), "hash rejected", "count", count, "error", err)
			h.respondError(w, r, err)
			return
		}
		next(w, r, p)
	})
}

// requestID 為每個請求指定 ID
func (h *Handler) requestID(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(headerRequestID, id)
		next(w, r.WithContext(logger.WithRequestID(r.Context(), id)))
	}
}

// loggerMiddleware 記錄請求日誌
func (h *Handler) loggerMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// 包裝 ResponseWriter 以捕獲狀態碼
		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next(ww, r)

		level := h.logger.DebugContext
		if ww.statusCode >= http.StatusInternalServerError {
			level = h.logger.ErrorContext
		}
		level(r.Context(), "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.statusCode,
			"duration", time.Since(start),
			"remote", clientIP(r),
		)
	}
}

// recoverer 恢復 panic
func (h *Handler) recoverer(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				h.logger.ErrorContext(r.Context(), "panic recovered", "error", err)
				h.respondStatus(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next(w, r)
	}
}

// responseWriter 包裝以捕獲狀態碼
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (w *responseWriter) WriteHeader(code int) {
	if !w.written {
		w.statusCode = code
		w.written = true
		w.ResponseWriter.WriteHeader(code)
	}
}

func (w *responseWriter) Write(b []byte) (int, error) {
	w.written = true
	return w.ResponseWriter.Write(b)
}

// clientIP 客戶端位址，優先採用負載平衡器加上的 X-Forwarded-For
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
