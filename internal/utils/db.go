package utils

import (
	"database/sql"
	"net/url"

	_ "github.com/lib/pq"
)

// BuildPostgresDSNFromEnv：PG_HOST/PG_PORT/PG_USER/PG_PASSWORD/PG_DB/PG_SSLMODE
func BuildPostgresDSNFromEnv() string {
	u := url.URL{
		Scheme: "postgres",
		Host:   Env("PG_HOST", "localhost") + ":" + Env("PG_PORT", "5432"),
		Path:   "/" + Env("PG_DB", "crsapi"),
	}
	if pass := Env("PG_PASSWORD", ""); pass != "" {
		u.User = url.UserPassword(Env("PG_USER", "postgres"), pass)
	} else {
		u.User = url.User(Env("PG_USER", "postgres"))
	}
	q := url.Values{}
	q.Set("sslmode", Env("PG_SSLMODE", "disable"))
	u.RawQuery = q.Encode()
	return u.String()
}

// OpenPostgresFromEnv：打开连接池；PG_DISABLE=true 时返回 nil, nil（统计功能关闭）
// 约束：sql.Open 不建立连接，连通性由调用方 Ping 确认
func OpenPostgresFromEnv() (*sql.DB, error) {
	if EnvBool("PG_DISABLE", false) {
		return nil, nil
	}
	db, err := sql.Open("postgres", BuildPostgresDSNFromEnv())
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(EnvInt("PG_MAX_OPEN_CONNS", 10))
	db.SetMaxIdleConns(EnvInt("PG_MAX_IDLE_CONNS", 5))
	return db, nil
}
