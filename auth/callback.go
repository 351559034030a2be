package auth

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// AwaitCallback serves the OAuth redirect on the configured loopback address
// and blocks until one callback has been handled, the listener fails, or ctx
// is cancelled. The path is taken from the redirect URI so the two always
// agree.
func (m *Manager) AwaitCallback(ctx context.Context, listenAddr string) error {
	u, err := url.Parse(m.oauth.RedirectURL)
	if err != nil {
		return fmt.Errorf("parsing redirect URI: %w", err)
	}
	path := u.Path
	if path == "" {
		path = "/"
	}

	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", listenAddr, err)
	}

	done := make(chan error, 1)
	mux := http.NewServeMux()
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if e := q.Get("error"); e != "" {
			http.Error(w, "Authorization was denied.", http.StatusBadRequest)
			select {
			case done <- fmt.Errorf("authorization denied: %s", e):
			default:
			}
			return
		}
		code := q.Get("code")
		if code == "" {
			http.Error(w, "Missing 'code' parameter", http.StatusBadRequest)
			return
		}
		if err := m.HandleCallback(r.Context(), code, q.Get("state")); err != nil {
			http.Error(w, "Authorization failed. Check the application log.", http.StatusBadRequest)
			select {
			case done <- err:
			default:
			}
			return
		}
		fmt.Fprintln(w, "Gmail connected. You can close this window.")
		select {
		case done <- nil:
		default:
		}
	})

	go func() { _ = srv.Serve(ln) }()
	defer srv.Shutdown(context.Background())

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if err != nil {
			m.log.Warn("oauth callback failed", zap.Error(err))
		}
		return err
	}
}
