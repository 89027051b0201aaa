package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// statusRecorder はhttp.ResponseWriterをラップし、ステータスコードを記録する。
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

// WriteHeader はステータスコードを記録してから委譲する。
func (sr *statusRecorder) WriteHeader(code int) {
	if !sr.written {
		sr.statusCode = code
		sr.written = true
	}
	sr.ResponseWriter.WriteHeader(code)
}

// Write はデータを書き込む。WriteHeaderが未呼び出しの場合は200を記録する。
func (sr *statusRecorder) Write(b []byte) (int, error) {
	if !sr.written {
		sr.statusCode = http.StatusOK
		sr.written = true
	}
	return sr.ResponseWriter.Write(b)
}

// Unwrap はhttp.ResponseControllerのために元のResponseWriterを返す。
func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

// requestAnnotations は内側のミドルウェアがリクエストログに追記する情報。
// ゲートはリクエストを新しいコンテキストで後続に渡すため、ポインタ経由で外側に伝える。
type requestAnnotations struct {
	userID string
	gate   string
}

type requestAnnotationsKey struct{}

// annotateRequest はリクエストログに認証ゲートの判定結果を記録する。
// ロギングミドルウェアの外側で呼ばれた場合は何もしない。
func annotateRequest(ctx context.Context, userID, gate string) {
	a, ok := ctx.Value(requestAnnotationsKey{}).(*requestAnnotations)
	if !ok {
		return
	}
	a.userID = userID
	a.gate = gate
}

// NewLoggingMiddleware はリクエストのJSON構造化ログを出力するミドルウェアを返す。
// ログにはmethod、path、status、duration_ms に加え、設定されていれば request_id、user_id、gate（ゲートの判定）を含む。
// 認証ゲートより外側に配置する。
func NewLoggingMiddleware(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rec := &statusRecorder{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}
			notes := &requestAnnotations{}
			r = r.WithContext(context.WithValue(r.Context(), requestAnnotationsKey{}, notes))

			next.ServeHTTP(rec, r)

			durationMs := float64(time.Since(start).Nanoseconds()) / float64(time.Millisecond)

			args := []any{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.statusCode),
				slog.Float64("duration_ms", durationMs),
			}
			if reqID := chimw.GetReqID(r.Context()); reqID != "" {
				args = append(args, slog.String("request_id", reqID))
			}
			if notes.userID != "" {
				args = append(args, slog.String("user_id", notes.userID))
			}
			if notes.gate != "" {
				args = append(args, slog.String("gate", notes.gate))
			}

			level := slog.LevelInfo
			if rec.statusCode >= 500 {
				level = slog.LevelError
			} else if rec.statusCode >= 400 {
				level = slog.LevelWarn
			}

			logger.Log(r.Context(), level, "http_request", args...)
		})
	}
}
