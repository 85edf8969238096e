package middleware

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"sync"

	"go.uber.org/zap"

	appsession "github.com/MiguelLoboBR/vistoria-pro-frontend-sub001/internal/admin/session"
	"github.com/MiguelLoboBR/vistoria-pro-frontend-sub001/internal/platform/observability"
)

type sessionContextKey struct{}

// SessionStore abstracts the session manager for middleware integration.
type SessionStore interface {
	Load(*http.Request) (*appsession.Session, error)
	New() *appsession.Session
	Save(http.ResponseWriter, *appsession.Session) error
	Destroy(http.ResponseWriter)
}

type requestSession struct {
	sess  *appsession.Session
	mu    sync.Mutex
	hooks []func(*appsession.Session)
}

// Session attaches the decoded session to the request context and writes it back right
// before the response headers go out, after running the hooks registered with BeforeSave.
func Session(store SessionStore, fallback *zap.Logger) func(http.Handler) http.Handler {
	if store == nil {
		panic("session store is required")
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger := loggerFor(r.Context(), fallback)
			sess, err := store.Load(r)
			switch {
			case errors.Is(err, appsession.ErrExpired):
				logger.Info("session expired; resetting")
				sess = store.New()
			case err != nil || sess == nil:
				if err != nil {
					logger.Warn("session load failed", zap.Error(err))
				}
				sess = store.New()
			}

			state := &requestSession{sess: sess}
			sw := &sessionWriter{ResponseWriter: w}
			sw.save = func() {
				state.mu.Lock()
				hooks := slices.Clone(state.hooks)
				state.mu.Unlock()
				for _, hook := range hooks {
					hook(sess)
				}
				if !sess.Dirty() && !sess.Destroyed() {
					return
				}
				if err := store.Save(w, sess); err != nil {
					logger.Error("session save failed", zap.Error(err))
				}
			}

			ctx := context.WithValue(r.Context(), sessionContextKey{}, state)
			next.ServeHTTP(sw, r.WithContext(ctx))
			sw.flushSession()
		})
	}
}

// SessionFromContext retrieves the session attached to this request.
func SessionFromContext(ctx context.Context) (*appsession.Session, bool) {
	state, ok := ctx.Value(sessionContextKey{}).(*requestSession)
	if !ok || state == nil || state.sess == nil {
		return nil, false
	}
	return state.sess, true
}

// BeforeSave registers fn to run once, just before the session cookie is written.
func BeforeSave(ctx context.Context, fn func(*appsession.Session)) {
	state, ok := ctx.Value(sessionContextKey{}).(*requestSession)
	if !ok || state == nil || fn == nil {
		return
	}
	state.mu.Lock()
	state.hooks = append(state.hooks, fn)
	state.mu.Unlock()
}

type sessionWriter struct {
	http.ResponseWriter
	save func()
	once sync.Once
}

func (w *sessionWriter) flushSession() {
	w.once.Do(w.save)
}

func (w *sessionWriter) WriteHeader(code int) {
	w.flushSession()
	w.ResponseWriter.WriteHeader(code)
}

func (w *sessionWriter) Write(b []byte) (int, error) {
	w.flushSession()
	return w.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *sessionWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// loggerFor prefers the request logger. A no-op core reports every level disabled.
func loggerFor(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	logger := observability.FromContext(ctx)
	if logger.Core().Enabled(zap.FatalLevel) || fallback == nil {
		return logger
	}
	return fallback
}
