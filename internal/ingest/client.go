// internal/ingest/client.go
package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"alblog-bridge/internal/batch"
	"alblog-bridge/internal/config"
	"alblog-bridge/internal/metrics"
	"alblog-bridge/internal/pool"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog/log"
)

// Client 는 배치 하나를 Axiom ingest endpoint 로 전송한다.
//   - NDJSON 또는 JSON array envelope 직렬화 (설정 선택)
//   - gzip body + bearer token 인증
//   - retry + exponential backoff + jitter
//   - partial failure 응답 정규화
//
// Retry 정책 단일화
// --------------------------------------------
// 재시도 대상은 429 / 5xx / 네트워크 오류뿐이다.
// 그 외 4xx 는 endpoint 가 영원히 거절할 요청(payload 불량, 토큰 불량)
// 이므로 즉시 fatal — backlog 가 큰 상황에서 무의미한 재시도가
// 연쇄 지연을 만드는 것을 막는다.
type Client struct {
	cfg     config.Config
	metrics *metrics.Metrics
	http    *http.Client

	endpoint string // <base>/v1/datasets/<dataset>/ingest
}

// Outcome 은 배치 전송의 종결 결과다.
// Rejected > 0 이면 partial failure — endpoint 가 배치는 수락했지만
// 일부 레코드를 거절한 경우. 자동 재시도하지 않고 호출자에 보고만 한다.
type Outcome struct {
	Accepted int      // endpoint 가 수락한 레코드 수
	Rejected int      // per-record 실패 목록에 오른 레코드 수
	Reasons  []string // 거절 사유 (endpoint 응답 기준, 중복 제거 없음)
	Attempts int      // 이 배치에 사용된 HTTP 시도 횟수
}

// FatalError 는 해당 배치를 더 이상 전송할 수 없는 종결 실패다.
//   - 429 외 4xx (토큰/페이로드 불량)
//   - 재시도 상한 소진
//
// 운영자 진단을 위해 상태 코드와 truncate 된 응답 body 를 담는다.
type FatalError struct {
	StatusCode int    // HTTP 상태 코드 (네트워크 오류면 0)
	Body       string // 응답 body (maxBodySample 로 truncate)
	Attempts   int    // 소진한 시도 횟수
	Exhausted  bool   // true 면 재시도 상한 소진으로 인한 격상
	Err        error  // 네트워크 레벨 원인 (있는 경우)
}

func (e *FatalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ingest: delivery failed after %d attempt(s): %v", e.Attempts, e.Err)
	}
	return fmt.Sprintf("ingest: delivery failed after %d attempt(s): status=%d body=%q", e.Attempts, e.StatusCode, e.Body)
}

func (e *FatalError) Unwrap() error { return e.Err }

// FatalError.Body 에 담는 응답 최대 길이
const maxBodySample = 512

// 응답 body 읽기 상한 — 진단용이므로 전체를 메모리에 올릴 필요 없음
const maxRespRead = 4 * 1024

// retryableError 는 Deliver 내부에서만 도는 일시 오류 표현.
type retryableError struct {
	status int
	body   string
	err    error
}

func (e *retryableError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return fmt.Sprintf("status=%d body=%q", e.status, e.body)
}

func New(cfg config.Config, m *metrics.Metrics) *Client {
	return &Client{
		cfg:     cfg,
		metrics: m,
		// 전체 timeout 은 시도마다 context 로 거므로 Client 레벨은 0.
		http: &http.Client{},
		endpoint: strings.TrimRight(cfg.BaseURL, "/") +
			"/v1/datasets/" + url.PathEscape(cfg.Dataset) + "/ingest",
	}
}

// Deliver 는 배치를 전송하고 종결 결과를 반환한다.
//   - 성공 / partial failure → (*Outcome, nil)
//   - 종결 실패 → (nil, *FatalError)
//
// 재시도는 내부에서 소화한다: 각 시도는 HTTPTimeout 아래에서 수행되고,
// 일시 오류는 BackoffBase 에서 시작해 2배씩 BackoffCeiling 까지 커지는
// backoff + jitter 후 재시도된다. ctx 취소 시 즉시 중단.
func (c *Client) Deliver(ctx context.Context, b *batch.Batch) (*Outcome, error) {
	payload, contentType, err := c.encode(b)
	if err != nil {
		// 직렬화 실패는 재시도해도 동일 — 즉시 fatal
		return nil, &FatalError{Attempts: 0, Err: err}
	}

	backoff := c.cfg.BackoffBase
	var last *retryableError

	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, &FatalError{Attempts: attempt - 1, Err: ctx.Err()}
		default:
		}

		atomic.AddInt64(&c.metrics.DeliveryAttemptsTotal, 1)
		if attempt > 1 {
			atomic.AddInt64(&c.metrics.DeliveryRetriesTotal, 1)
		}

		out, rerr, ferr := c.attempt(ctx, payload, contentType, b.Len())
		if ferr != nil {
			atomic.AddInt64(&c.metrics.DeliveryErrorsTotal, 1)
			ferr.Attempts = attempt
			return nil, ferr
		}
		if rerr == nil {
			out.Attempts = attempt
			return out, nil
		}

		atomic.AddInt64(&c.metrics.DeliveryErrorsTotal, 1)
		last = rerr
		log.Warn().
			Int("attempt", attempt).
			Int("status", rerr.status).
			Dur("backoff", backoff).
			Msg("delivery attempt failed, backing off")

		// backoff + jitter. 마지막 시도 뒤에는 기다릴 필요 없음.
		if attempt == c.cfg.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, &FatalError{Attempts: attempt, Err: ctx.Err()}
		case <-time.After(backoff + jitter(backoff)):
			backoff *= 2
			if backoff > c.cfg.BackoffCeiling {
				backoff = c.cfg.BackoffCeiling
			}
		}
	}

	// 재시도 상한 소진 → fatal 로 격상
	return nil, &FatalError{
		StatusCode: last.status,
		Body:       last.body,
		Attempts:   c.cfg.MaxAttempts,
		Exhausted:  true,
		Err:        last.err,
	}
}

// jitter 는 [0, d/2) 범위의 랜덤 지연.
// 동시 재시도하는 run 들이 같은 박자로 endpoint 를 때리지 않게 한다.
func jitter(d time.Duration) time.Duration {
	if d <= 1 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(d / 2)))
}

// attempt 는 HTTP 1회 시도를 수행한다.
// 반환: (성공 Outcome, 일시 오류, 종결 오류) — 셋 중 하나만 non-nil/유효.
func (c *Client) attempt(ctx context.Context, payload []byte, contentType string, batchLen int) (*Outcome, *retryableError, *FatalError) {
	actx, cancel := context.WithTimeout(ctx, c.cfg.HTTPTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(actx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, nil, &FatalError{Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIToken)
	req.Header.Set("Content-Type", contentType)
	if c.cfg.GzipBody {
		req.Header.Set("Content-Encoding", "gzip")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// 연결/타임아웃 등 transport 레벨 오류 → 재시도 대상
		return nil, &retryableError{err: err}, nil
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxRespRead))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return normalizeResponse(body, batchLen), nil, nil

	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, &retryableError{status: resp.StatusCode, body: truncate(body)}, nil

	default:
		// 429 외 4xx: endpoint 가 영원히 거절할 요청
		return nil, nil, &FatalError{StatusCode: resp.StatusCode, Body: truncate(body)}
	}
}

// ingestResponse 는 Axiom ingest API 의 2xx 응답 형태다.
// per-record 실패는 failures 목록으로 내려온다.
type ingestResponse struct {
	Ingested int64 `json:"ingested"`
	Failed   int64 `json:"failed"`
	Failures []struct {
		Timestamp string `json:"timestamp"`
		Error     string `json:"error"`
	} `json:"failures"`
}

// normalizeResponse 는 endpoint 응답을 rejected-count + reasons 형태로
// 정규화한다. body 를 해석할 수 없는 2xx 는 전량 수락으로 간주한다
// (endpoint 가 요청을 받아들였다는 사실 자체가 2xx 의 계약이다).
func normalizeResponse(body []byte, batchLen int) *Outcome {
	var ir ingestResponse
	if err := json.Unmarshal(body, &ir); err != nil || (ir.Ingested == 0 && ir.Failed == 0 && len(ir.Failures) == 0) {
		return &Outcome{Accepted: batchLen}
	}

	rejected := int(ir.Failed)
	if rejected == 0 {
		rejected = len(ir.Failures)
	}
	accepted := int(ir.Ingested)
	if accepted == 0 && rejected < batchLen {
		accepted = batchLen - rejected
	}

	out := &Outcome{Accepted: accepted, Rejected: rejected}
	for _, f := range ir.Failures {
		out.Reasons = append(out.Reasons, f.Error)
	}
	return out
}

// encode 는 배치를 wire format 으로 직렬화한다.
// 레코드별 NDJSON 라인은 Batcher 가 이미 만들어 두었으므로
// 여기서는 조립(+ 선택적 array envelope)과 gzip 만 수행한다.
// 반환 바이트는 호출자 소유다 (pool 버퍼에서 복사해서 넘긴다).
func (c *Client) encode(b *batch.Batch) ([]byte, string, error) {
	buf := pool.BufferPool.Get().(*bytes.Buffer)
	buf.Reset()

	var w io.Writer = buf
	var gz *gzip.Writer
	if c.cfg.GzipBody {
		gz = pool.GzipPool.Get().(*gzip.Writer)
		gz.Reset(buf)
		w = gz
	}

	var contentType string
	switch c.cfg.WireFormat {
	case "json":
		contentType = "application/json"
		w.Write([]byte{'['})
		for i, line := range b.Lines() {
			if i > 0 {
				w.Write([]byte{','})
			}
			w.Write(line)
		}
		w.Write([]byte{']'})

	default: // "ndjson"
		contentType = "application/x-ndjson"
		for _, line := range b.Lines() {
			w.Write(line)
			w.Write([]byte{'\n'})
		}
	}

	if gz != nil {
		if err := gz.Close(); err != nil {
			pool.GzipPool.Put(gz)
			pool.PutBuffer(buf)
			return nil, "", err
		}
		pool.GzipPool.Put(gz)
	}

	// pool 버퍼는 재사용되므로 결과는 복사해서 소유권을 넘긴다.
	raw := buf.Bytes()
	data := make([]byte, len(raw))
	copy(data, raw)
	pool.PutBuffer(buf)

	return data, contentType, nil
}

func truncate(body []byte) string {
	s := string(bytes.TrimSpace(body))
	if len(s) > maxBodySample {
		s = s[:maxBodySample]
	}
	return s
}
