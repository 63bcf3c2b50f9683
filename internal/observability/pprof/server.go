package pprof

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"time"

	logx "pushbridge/pkg/logx"
)

// serve runs one server generation: listen, serve, clean up. Failures return
// an error so the supervisor redials with backoff.
func (s *Service) serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	cur := s.cfg
	s.mu.Unlock()

	if !cur.Enabled {
		return context.Canceled
	}

	addr := strings.TrimSpace(cur.Addr)
	if addr == "" {
		addr = "127.0.0.1:6060"
	}
	if !cur.AllowInsecure && cur.Token == "" && !loopback(addr) {
		s.log.Error("pprof refused to start: non-loopback addr requires token or allow_insecure",
			logx.String("addr", addr))
		return errors.New("pprof refused to start: insecure bind")
	}
	if cur.AllowInsecure && cur.Token == "" && !loopback(addr) {
		s.log.Warn("pprof running without token on non-loopback addr (insecure)", logx.String("addr", addr))
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.log.Error("pprof listen failed", logx.String("addr", addr), logx.Err(err))
		if ctx.Err() != nil {
			return context.Canceled
		}
		return err
	}
	defer func() { _ = ln.Close() }()

	srv := &http.Server{
		Handler:      buildMux(cur),
		ReadTimeout:  cur.ReadTimeout,
		WriteTimeout: cur.WriteTimeout,
		IdleTimeout:  cur.IdleTimeout,
	}
	defer func() { _ = srv.Close() }()

	s.mu.Lock()
	s.ln, s.srv = ln, srv
	s.mu.Unlock()

	// Stop(ctx) does the graceful shutdown; this guard just keeps cancel from
	// leaving the serve loop hanging.
	go func() {
		<-ctx.Done()
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(cctx)
		cancel()
	}()

	prefix := canonicalPrefix(cur.Prefix)
	s.log.Info("pprof started",
		logx.String("addr", ln.Addr().String()),
		logx.String("prefix", prefix),
		logx.Bool("token_set", cur.Token != ""),
		logx.String("hint", fmt.Sprintf("http://%s%s", ln.Addr(), prefix)))

	err = srv.Serve(ln)

	s.mu.Lock()
	if s.srv == srv {
		s.srv, s.ln = nil, nil
	}
	stopping := s.stopDone != nil
	s.mu.Unlock()

	if stopping || ctx.Err() != nil {
		return context.Canceled
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("pprof server exited unexpectedly")
	}
	return err
}

func buildMux(cfg Config) *http.ServeMux {
	prefix := canonicalPrefix(cfg.Prefix)
	base := strings.TrimSuffix(prefix, "/")
	guard := func(h http.HandlerFunc) http.HandlerFunc { return requireToken(cfg.Token, h) }

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", guard(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))

	mux.HandleFunc(prefix, guard(indexAt(prefix)))
	mux.HandleFunc(base+"/cmdline", guard(hpprof.Cmdline))
	mux.HandleFunc(base+"/profile", guard(hpprof.Profile))
	mux.HandleFunc(base+"/symbol", guard(hpprof.Symbol))
	mux.HandleFunc(base+"/trace", guard(hpprof.Trace))

	// The slashless form redirects to the canonical prefix.
	mux.HandleFunc(base, func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, prefix, http.StatusPermanentRedirect)
	})
	return mux
}

// requireToken accepts "Authorization: Bearer <token>" or "?token=<token>".
// An empty configured token disables the check.
func requireToken(token string, h http.HandlerFunc) http.HandlerFunc {
	tok := strings.TrimSpace(token)
	if tok == "" {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("token"); got != "" {
			if got == tok {
				h(w, r)
				return
			}
			unauthorized(w)
			return
		}
		if ah := r.Header.Get("Authorization"); ah != "" {
			const p = "Bearer "
			if strings.HasPrefix(ah, p) && strings.TrimSpace(strings.TrimPrefix(ah, p)) == tok {
				h(w, r)
				return
			}
		}
		unauthorized(w)
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}

func canonicalPrefix(prefix string) string {
	p := strings.TrimSpace(prefix)
	if p == "" {
		p = "/debug/pprof/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}

// indexAt rebases requests onto /debug/pprof/ before handing them to the
// stock index handler, which assumes that root.
func indexAt(prefix string) http.HandlerFunc {
	canon := canonicalPrefix(prefix)
	return func(w http.ResponseWriter, r *http.Request) {
		r2 := r.Clone(r.Context())
		r2.URL.Path = "/debug/pprof/" + strings.TrimPrefix(r.URL.Path, canon)
		hpprof.Index(w, r2)
	}
}

func loopback(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
