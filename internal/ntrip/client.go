// 包 ntrip：从 NTRIP caster 获取 sourcetable，并在会话内共享获取结果
package ntrip

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"crs-api/internal/logger"
	"crs-api/internal/metrics"
	"crs-api/internal/utils"

	"golang.org/x/text/encoding/charmap"
)

const (
	ConnectTimeout = 3 * time.Second
	DefaultTimeout = 10 * time.Second
)

// maxBody：sourcetable 上限，超出部分截断并告警
var maxBody int64 = 8 << 20

var ErrStatus = errors.New("unexpected caster status")

// Client：sourcetable HTTP 客户端，可并发使用
type Client struct {
	HTTP *http.Client
}

// NewClient：连接超时 3s，总超时 timeout（<=0 时取 10s）
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.DialContext = (&net.Dialer{Timeout: ConnectTimeout}).DialContext
	return &Client{HTTP: &http.Client{Timeout: timeout, Transport: tr}}
}

// NewClientFromEnv：NTRIP_TIMEOUT_S 覆盖总超时
func NewClientFromEnv() *Client {
	return NewClient(time.Duration(utils.EnvInt("NTRIP_TIMEOUT_S", 10)) * time.Second)
}

// FetchSourcetable 获取 caster 根路径下的 sourcetable 文本
// 参数：casterURL 为规范化后的 scheme://host:port
// 返回：按 \r\n 重新拼接的文本；非 2xx、网络错误与超时均返回错误
// 约束：不重试；正文优先按 UTF-8 解释，非法时按 ISO-8859-1 逐字节转换
func (c *Client) FetchSourcetable(ctx context.Context, casterURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, casterURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Ntrip-Version", "Ntrip/2.0")
	req.Header.Set("User-Agent", "NTRIPClient/1.0")
	hc := c.HTTP
	if hc == nil {
		hc = NewClient(0).HTTP
	}
	t0 := time.Now()
	logger.L().Debug("sourcetable_req", "url", casterURL)
	resp, err := hc.Do(req)
	if err != nil {
		logger.L().Error("sourcetable_http_error", "url", casterURL, "err", err)
		metrics.SourcetableFetchTotal.WithLabelValues("fail").Inc()
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.SourcetableFetchTotal.WithLabelValues("fail").Inc()
		logger.L().Error("sourcetable_status", "url", casterURL, "status", resp.StatusCode)
		return "", fmt.Errorf("%w: %d", ErrStatus, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody+1))
	if err != nil {
		metrics.SourcetableFetchTotal.WithLabelValues("fail").Inc()
		logger.L().Error("sourcetable_read_error", "url", casterURL, "err", err)
		return "", fmt.Errorf("read sourcetable: %w", err)
	}
	if int64(len(body)) > maxBody {
		// 丢弃被截断的末行，避免产生残缺记录
		body = body[:maxBody]
		if i := bytes.LastIndexByte(body, '\n'); i >= 0 {
			body = body[:i+1]
		}
		logger.L().Warn("sourcetable_truncated", "url", casterURL, "limit_bytes", maxBody)
	}
	text, err := decodeBody(body)
	if err != nil {
		metrics.SourcetableFetchTotal.WithLabelValues("fail").Inc()
		logger.L().Error("sourcetable_decode_error", "url", casterURL, "err", err)
		return "", fmt.Errorf("decode sourcetable: %w", err)
	}
	dur := time.Since(t0).Milliseconds()
	metrics.SourcetableFetchDurationMs.Observe(float64(dur))
	metrics.SourcetableFetchTotal.WithLabelValues("ok").Inc()
	logger.L().Info("sourcetable_fetched", "url", casterURL, "bytes", len(body), "duration_ms", dur)
	return text, nil
}

// decodeBody：UTF-8 优先，非法时按 ISO-8859-1 解码；行尾统一为 \r\n
func decodeBody(b []byte) (string, error) {
	if !utf8.Valid(b) {
		dec, err := charmap.ISO8859_1.NewDecoder().Bytes(b)
		if err != nil {
			return "", err
		}
		b = dec
	}
	return strings.Join(splitLines(string(b)), "\r\n"), nil
}

// splitLines：任意 \r\n、\r、\n 均视为换行，末尾换行不产生空行
func splitLines(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = strings.TrimSuffix(s, "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}
