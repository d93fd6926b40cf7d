// logging.go — журнал HTTP-запросов fileshare через slog.
// Каждая строка несёт нормализованный маршрут и владельца запроса,
// если JWT middleware его установил.
package middleware

import (
	"bufio"
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// ownerKey — ключ контекста с владельцем запроса для журнала.
type ownerKey struct{}

// requestOwner — sub из JWT; заполняется после проверки токена,
// читается RequestLogger по завершении запроса.
type requestOwner struct {
	subject string
}

// noteOwner сообщает журналу запроса, кто его выполняет.
func noteOwner(ctx context.Context, subject string) {
	if o, ok := ctx.Value(ownerKey{}).(*requestOwner); ok {
		o.subject = subject
	}
}

// responseWriter перехватывает статус-код и число отданных байт тела.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    int64
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.written += int64(n)
	return n, err
}

// Hijack нужен для WebSocket-канала пиров.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	rw.statusCode = http.StatusSwitchingProtocols
	return http.NewResponseController(rw.ResponseWriter).Hijack()
}

// Unwrap даёт http.ResponseController доступ к Flush и Hijack исходного writer.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// RequestLogger пишет одну строку на HTTP-запрос.
// Уровень: INFO (1xx-3xx), WARN (4xx), ERROR (5xx и оборванные ответы).
// Скачивание, оборванное паникой http.ErrAbortHandler, попадает в журнал
// с aborted=true и числом успевших уйти байт, затем паника продолжается.
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	logger = logger.With(slog.String("component", "http"))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := newResponseWriter(w)
			owner := &requestOwner{}
			r = r.WithContext(context.WithValue(r.Context(), ownerKey{}, owner))

			defer func() {
				rec := recover()
				aborted := rec != nil

				level := slog.LevelInfo
				switch {
				case aborted || wrapped.statusCode >= 500:
					level = slog.LevelError
				case wrapped.statusCode >= 400:
					level = slog.LevelWarn
				}

				attrs := []slog.Attr{
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("route", normalizePath(r.URL.Path)),
					slog.Int("status", wrapped.statusCode),
					slog.Duration("duration", time.Since(start)),
					slog.Int64("bytes", wrapped.written),
					slog.String("remote_addr", r.RemoteAddr),
				}
				if owner.subject != "" {
					attrs = append(attrs, slog.String("owner_id", owner.subject))
				}
				if aborted {
					attrs = append(attrs, slog.Bool("aborted", true))
				}
				logger.LogAttrs(r.Context(), level, "HTTP запрос", attrs...)

				if rec != nil {
					panic(rec)
				}
			}()

			next.ServeHTTP(wrapped, r)
		})
	}
}
