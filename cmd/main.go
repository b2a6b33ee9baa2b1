// 程序入口：读取配置、初始化依赖并启动服务；API 注册在 internal/api
package main

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"crs-api/internal/api"
	"crs-api/internal/catalog"
	"crs-api/internal/geoip"
	"crs-api/internal/logger"
	"crs-api/internal/metrics"
	"crs-api/internal/middleware"
	"crs-api/internal/migrate"
	"crs-api/internal/ntrip"
	"crs-api/internal/resolve"
	"crs-api/internal/store"
	"crs-api/internal/utils"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join("data", "env", ".env"))
	l := logger.Setup()
	l.Debug("log_init_ok")
	apiBase := utils.Env("API_BASE", "/api")
	l.Debug("config_api_base", "base", apiBase)

	catalogPath := utils.Env("CATALOG_PATH", filepath.Join("dist", "ntrip-catalog.json"))
	cat, err := catalog.Load(catalogPath)
	if err != nil {
		l.Error("catalog_load_error", "path", catalogPath, "err", err)
		os.Exit(1)
	}
	if err := cat.Validate(); err != nil {
		// 单个条目不合规不阻止启动，解析时按原样使用
		l.Warn("catalog_validate_warning", "err", err)
	}
	l.Info("catalog_ready", "path", catalogPath, "entries", len(cat.Entries))

	var stats api.Stats
	db, err := utils.OpenPostgresFromEnv()
	switch {
	case err != nil:
		l.Error("db_open_error", "err", err)
		os.Exit(1)
	case db == nil:
		l.Info("db_disabled")
	default:
		defer db.Close()
		if err := db.Ping(); err != nil {
			l.Error("db_ping_error", "err", err)
			os.Exit(1)
		}
		l.Info("db_ping_ok")
		if err := migrate.EnsureSchema(context.Background(), db); err != nil {
			l.Error("schema_error", "err", err)
			os.Exit(1)
		}
		stats = store.AttachDB(db)
	}

	rc := utils.OpenRedisFromEnv()
	if rc == nil {
		l.Info("redis_disabled")
	} else if err := rc.Ping(context.Background()).Err(); err != nil {
		// Redis 只是共享缓存，不可用时退化为进程内会话
		l.Error("redis_ping_error", "err", err)
		rc = nil
	} else {
		l.Info("redis_ping_ok")
	}

	session := ntrip.NewSessionFromEnv(ntrip.NewClientFromEnv(), rc)
	defer session.Close()

	var locator api.Locator
	if p := os.Getenv("GEOIP_CITY_PATH"); p != "" {
		g, err := geoip.Open(p)
		if err != nil {
			l.Error("geoip_open_error", "path", p, "err", err)
		} else {
			defer g.Close()
			locator = g
		}
	}

	apiMux := api.BuildRoutes(api.Deps{
		Catalog:      cat,
		Engine:       resolve.New(l),
		Sourcetables: session,
		Stats:        stats,
		Geo:          locator,
		AdminToken:   os.Getenv("ADMIN_TOKEN"),
	})
	mux := http.NewServeMux()
	mux.Handle(apiBase+"/", http.StripPrefix(apiBase, apiMux))
	mux.Handle(apiBase+"/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	addr := utils.Env("ADDR", ":8080")
	handler := logger.AccessMiddleware(l)(mux)
	handler = middleware.Wrap(handler)
	s := &http.Server{Addr: addr, Handler: handler}
	if utils.EnvBool("TLS_ENABLE", false) {
		certPath := utils.Env("TLS_CERT_PATH", filepath.Join("data", "certs", "server.crt"))
		keyPath := utils.Env("TLS_KEY_PATH", filepath.Join("data", "certs", "server.key"))
		if err := utils.EnsureSelfSignedCert(certPath, keyPath, "crs-api.local"); err != nil {
			l.Error("tls_cert_error", "err", err)
			os.Exit(1)
		}
		if utils.EnvBool("TLS_REDIRECT_ENABLE", false) {
			go redirectToHTTPS(utils.Env("TLS_REDIRECT_ADDR", ":80"), addr)
		}
		l.Info("listening_tls", "addr", addr, "cert", certPath)
		if err := s.ListenAndServeTLS(certPath, keyPath); err != nil && err != http.ErrServerClosed {
			l.Error("server_error", "err", err)
			os.Exit(1)
		}
		return
	}
	l.Info("listening", "addr", addr)
	if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		l.Error("server_error", "err", err)
		os.Exit(1)
	}
}

// redirectToHTTPS：HTTP 请求重定向到 HTTPS 服务端口
func redirectToHTTPS(redirAddr, httpsAddr string) {
	l := logger.L()
	httpsPort := strings.TrimPrefix(httpsAddr, ":")
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := r.Host
		if i := strings.LastIndex(host, ":"); i != -1 && !strings.HasSuffix(host, "]") {
			host = host[:i]
		}
		if httpsPort != "" && httpsPort != "443" {
			host = host + ":" + httpsPort
		}
		target := "https://" + host + r.URL.RequestURI()
		l.Debug("http_redirect", "from", r.Host, "to", target)
		http.Redirect(w, r, target, http.StatusMovedPermanently)
	})
	l.Info("http_redirect_listening", "addr", redirAddr, "to", "https"+httpsAddr)
	if err := http.ListenAndServe(redirAddr, logger.AccessMiddleware(l)(h)); err != nil {
		l.Error("http_redirect_error", "err", err)
	}
}
