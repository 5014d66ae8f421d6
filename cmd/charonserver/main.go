// File: main.go

// Command charonserver is a minimal net/http demonstrator for the charon
// session library: it wires the token factory, session store, session
// engine and token pipeline together behind four plain REST endpoints.
// It is a demonstrator, not a framework adapter; HTTP framework binding,
// GraphQL middleware and cookie serialization policy stay out of the
// core library, so this command sticks to net/http directly rather than
// smuggling that scope back in.
package main

import (
	"encoding/json"
	"flag"
	"net"
	"net/http"
	"os"
	"strconv"

	"github.com/zeromicro/go-zero/core/logx"

	"github.com/suleymanmyradov/charon"
	"github.com/suleymanmyradov/charon/sqlstore"
	"github.com/suleymanmyradov/charon/third_party/cache"
	"github.com/suleymanmyradov/charon/third_party/database"
)

func main() {
	var (
		addr      = flag.String("addr", ":8080", "listen address")
		issuer    = flag.String("issuer", envOr("CHARON_ISSUER", "charonserver"), "token issuer (iss claim)")
		backend   = flag.String("store", envOr("CHARON_STORE", "memory"), "session store backend: memory|redis|sql")
		redisAddr = flag.String("redis-addr", envOr("CHARON_REDIS_ADDR", "localhost:6379"), "redis address, when -store=redis")
	)
	flag.Parse()

	signingKey := []byte(envOr("CHARON_SIGNING_KEY", "dev-only-signing-key-change-me"))
	cfg := charon.DefaultConfig(*issuer, signingKey)

	store, err := buildStore(*backend, *redisAddr, cfg)
	if err != nil {
		logx.Errorf("charonserver: build store: %v", err)
		os.Exit(1)
	}

	factory := charon.NewJWTFactory(cfg.SigningKey)
	engine, err := charon.NewEngine(cfg, store, factory, nil)
	if err != nil {
		logx.Errorf("charonserver: build engine: %v", err)
		os.Exit(1)
	}

	srv := &server{cfg: cfg, store: store, factory: factory, engine: engine}

	mux := http.NewServeMux()
	mux.HandleFunc("/login", srv.handleLogin)
	mux.HandleFunc("/refresh", srv.handleRefresh)
	mux.HandleFunc("/logout", srv.handleLogout)
	mux.HandleFunc("/whoami", srv.handleWhoAmI)

	logx.Infof("charonserver: listening on %s (store=%s)", *addr, *backend)
	if err := http.ListenAndServe(*addr, mux); err != nil {
		logx.Errorf("charonserver: serve: %v", err)
		os.Exit(1)
	}
}

func buildStore(backend, redisAddr string, cfg charon.Config) (charon.SessionStore, error) {
	switch backend {
	case "redis":
		host, portStr, err := net.SplitHostPort(redisAddr)
		if err != nil {
			return nil, err
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, err
		}
		conn, err := cache.NewRedisConnection(cache.RedisConfig{Host: host, Port: port}, nil)
		if err != nil {
			return nil, err
		}
		return charon.NewRedisSessionStore(conn.GetClient(), cfg.KeyPrefix, cfg.AtRestKey, nil)
	case "sql":
		pgPort, err := strconv.Atoi(envOr("CHARON_PG_PORT", "5432"))
		if err != nil {
			return nil, err
		}
		db, err := database.NewPostgresConnection(database.PostgresConfig{
			Host:     envOr("CHARON_PG_HOST", "localhost"),
			Port:     pgPort,
			User:     envOr("CHARON_PG_USER", "charon"),
			Password: envOr("CHARON_PG_PASSWORD", "charon"),
			DBName:   envOr("CHARON_PG_DBNAME", "charon"),
			SSLMode:  envOr("CHARON_PG_SSLMODE", "disable"),
		}, nil)
		if err != nil {
			return nil, err
		}
		if _, err := db.Exec(sqlstore.Schema); err != nil {
			return nil, err
		}
		return sqlstore.New(db, cfg.AtRestKey, nil)
	default:
		return charon.NewMemorySessionStore(cfg.AtRestKey, nil), nil
	}
}

// server holds the wiring every handler needs. Each handler builds a fresh
// *charon.RequestContext per request: the adapter is a plain value bag,
// never shared across requests. A Pipeline is cheap to construct, so
// handlers build one per request for whichever SignatureTransport the
// request actually used, rather than fixing it at startup.
type server struct {
	cfg     charon.Config
	store   charon.SessionStore
	factory charon.TokenFactory
	engine  *charon.Engine
}

func (s *server) pipelineFor(kind charon.TokenKind, transport charon.TransportMode) *charon.Pipeline {
	if transport == charon.TransportCookie {
		ct := charon.CookieTransport{
			AccessCookieName:  s.cfg.AccessCookieName,
			RefreshCookieName: s.cfg.RefreshCookieName,
			AccessCookieOpts:  s.cfg.AccessCookieOpts,
			RefreshCookieOpts: s.cfg.RefreshCookieOpts,
			ExpectedKind:      kind,
		}
		return charon.NewPipeline(s.factory, s.store, ct, kind)
	}
	return charon.NewPipeline(s.factory, s.store, charon.BearerTransport{}, kind)
}

type loginRequest struct {
	UserID    string `json:"user_id"`
	Type      string `json:"type"`
	Transport string `json:"transport"` // "bearer" or "cookie"
}

func (s *server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	transport := charon.TransportMode(req.Transport)
	if transport == "" {
		transport = charon.TransportBearer
	}

	rc := &charon.RequestContext{Transport: transport}
	opts := charon.UpsertOptions{UserID: req.UserID, Type: req.Type, Transport: transport}
	if err := s.engine.UpsertSession(r.Context(), rc, opts); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeResponse(w, rc)
}

func (s *server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rc := fromRequest(r, s.cfg.RefreshCookieName)
	pipeline := s.pipelineFor(charon.RefreshToken, rc.Transport)
	if err := pipeline.Process(r.Context(), rc); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if rc.Halted {
		writeAuthError(w, rc)
		return
	}

	if err := s.engine.UpsertSession(r.Context(), rc, charon.UpsertOptions{}); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if rc.Halted {
		writeAuthError(w, rc)
		return
	}

	writeResponse(w, rc)
}

func (s *server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rc := fromRequest(r, s.cfg.RefreshCookieName)
	pipeline := s.pipelineFor(charon.RefreshToken, rc.Transport)
	if err := pipeline.Process(r.Context(), rc); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if rc.Halted {
		writeAuthError(w, rc)
		return
	}

	if err := s.engine.Logout(r.Context(), rc); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	for _, c := range rc.RespCookies {
		http.SetCookie(w, c)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleWhoAmI(w http.ResponseWriter, r *http.Request) {
	rc := fromRequest(r, s.cfg.AccessCookieName)
	pipeline := s.pipelineFor(charon.AccessToken, rc.Transport)
	if err := pipeline.Process(r.Context(), rc); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if rc.Halted {
		writeAuthError(w, rc)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":    rc.UserID,
		"session_id": rc.Session.ID,
		"type":       rc.Session.Type,
	})
}

// fromRequest populates a RequestContext's inbound fields from an
// *http.Request: Authorization header plus, when present, the named
// signature cookie, the one piece of per-request wiring a host framework
// is responsible for.
func fromRequest(r *http.Request, signatureCookieName string) *charon.RequestContext {
	rc := &charon.RequestContext{
		AuthorizationHeader: r.Header.Get("Authorization"),
		Transport:           charon.TransportBearer,
	}
	if c, err := r.Cookie(signatureCookieName); err == nil {
		rc.SignatureCookie = c.Value
		rc.Transport = charon.TransportCookie
	}
	return rc
}

func writeResponse(w http.ResponseWriter, rc *charon.RequestContext) {
	for _, c := range rc.RespCookies {
		http.SetCookie(w, c)
	}
	if rc.Halted {
		writeAuthError(w, rc)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":  rc.Tokens.AccessToken,
		"refresh_token": rc.Tokens.RefreshToken,
		"user_id":       rc.UserID,
		"session_id":    rc.Session.ID,
	})
}

func writeAuthError(w http.ResponseWriter, rc *charon.RequestContext) {
	writeJSON(w, http.StatusUnauthorized, map[string]any{"error": rc.AuthError.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

