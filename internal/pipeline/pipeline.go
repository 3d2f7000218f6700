// internal/pipeline/pipeline.go
package pipeline

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"alblog-bridge/internal/batch"
	"alblog-bridge/internal/config"
	"alblog-bridge/internal/ingest"
	"alblog-bridge/internal/metrics"
	"alblog-bridge/internal/model"
	"alblog-bridge/internal/parser"
	"alblog-bridge/internal/pool"

	"github.com/rs/zerolog/log"
)

// Runner 는 오브젝트 1개 처리(run)의 전체 흐름을 제어한다.
//
//	라인 읽기 → Parse → Batch 적재 → (배치 닫힘 시) Deliver → drain flush
//
// run 내부는 엄격히 순차적이다. 레코드 순서가 배치 경계와
// downstream 정렬에 그대로 반영되어야 하므로 라인/배치를 병렬화하지 않는다.
// run 간에는 공유 상태가 없다 — Batcher 와 ingest client 는 run 소유.
type Runner struct {
	cfg     config.Config
	metrics *metrics.Metrics
	client  Deliverer
}

// Deliverer 는 배치 전송 의존성이다. 운영에서는 *ingest.Client.
type Deliverer interface {
	Deliver(ctx context.Context, b *batch.Batch) (*ingest.Outcome, error)
}

type Status string

const (
	StatusDone   Status = "done"
	StatusFailed Status = "failed"
)

// ErrParseAnomaly: parse error 비율이 임계치를 넘은 경우.
// 개별 라인 실패와 달리 포맷 변경 사고로 간주하고 run 을 중단시킨다 —
// 조용히 레코드 전량이 드랍되기 시작하는 것보다 시끄럽게 죽는 쪽이 낫다.
var ErrParseAnomaly = errors.New("pipeline: parse error rate exceeds threshold")

// ErrDeadline: ctx deadline 잔여 시간이 전송 1회 시도에도 부족한 경우.
// 배치 중간이 아니라 배치 경계에서 깨끗하게 중단한다.
var ErrDeadline = errors.New("pipeline: insufficient time budget for delivery")

// Summary 는 run 의 최종 보고다.
// Failed 로 끝나도 실패 이전까지 전송된 수치는 그대로 남는다 —
// 재처리 판단 시 이 값으로 어디까지 나갔는지 알 수 있다.
type Summary struct {
	LinesRead        int64
	RecordsParsed    int64
	ParseErrors      int64
	RecordsDropped   int64
	BatchesDelivered int64
	RecordsDelivered int64
	RecordsRejected  int64
	DeliveryAttempts int64
	DeliveryRetries  int64

	// 실패 라인 샘플 ("reason: line" 형태, truncate 됨)
	ParseErrorSamples []string

	Status Status
	Err    error
}

// Scanner 버퍼: access log 한 줄은 URL/UA 에 따라 수 KB 까지 간다.
const (
	scanBufInit = 64 * 1024
	scanBufMax  = 1 << 20
)

func New(cfg config.Config, m *metrics.Metrics, client Deliverer) *Runner {
	return &Runner{cfg: cfg, metrics: m, client: client}
}

// Run 은 오브젝트 바이트 스트림 하나를 끝까지 처리한다.
// 실패해도 panic/부분 상태 없이 Summary 로 종결한다.
func (r *Runner) Run(ctx context.Context, rd io.Reader) *Summary {
	b := batch.New(r.cfg.MaxBatchRecords, r.cfg.MaxBatchBytes)

	sc := bufio.NewScanner(rd)
	sc.Buffer(make([]byte, scanBufInit), scanBufMax)

	var samples []string

	for sc.Scan() {
		line := sc.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		atomic.AddInt64(&r.metrics.LinesReadTotal, 1)

		rec, err := parser.Parse(line)
		if err != nil {
			// 개별 parse error 는 fatal 이 아니다. 카운트 + 샘플만.
			atomic.AddInt64(&r.metrics.ParseErrorsTotal, 1)
			var pe *parser.ParseError
			if errors.As(err, &pe) && len(samples) < r.cfg.ParseErrorSamples {
				samples = append(samples, pe.Reason+": "+pe.Line)
			}
			continue
		}
		atomic.AddInt64(&r.metrics.RecordsParsedTotal, 1)

		closed, err := b.Add(rec)
		if err != nil {
			// 단독 초과 레코드 (또는 직렬화 불가) → 드랍하고 계속
			atomic.AddInt64(&r.metrics.RecordsDroppedTotal, 1)
			pool.RecycleRecords([]*model.LogRecord{rec})
			log.Warn().Err(err).Msg("record dropped")
			continue
		}
		if closed != nil {
			if err := r.deliver(ctx, closed); err != nil {
				return r.summarize(StatusFailed, err, samples)
			}
		}
	}
	if err := sc.Err(); err != nil {
		return r.summarize(StatusFailed, fmt.Errorf("pipeline: read object: %w", err), samples)
	}

	// 포맷 변경 이상 감지 — tail flush 전에 판정한다.
	// 작은 오브젝트의 오탐을 막기 위해 최소 라인 수(floor)를 둔다.
	lines := atomic.LoadInt64(&r.metrics.LinesReadTotal)
	perr := atomic.LoadInt64(&r.metrics.ParseErrorsTotal)
	if lines >= int64(r.cfg.ParseErrorRateFloor) &&
		float64(perr)/float64(lines) > r.cfg.ParseErrorRateMax {
		return r.summarize(StatusFailed,
			fmt.Errorf("%w: %d/%d lines failed", ErrParseAnomaly, perr, lines), samples)
	}

	// drain: 남은 열린 배치 flush
	if tail := b.Flush(); tail != nil {
		if err := r.deliver(ctx, tail); err != nil {
			return r.summarize(StatusFailed, err, samples)
		}
	}

	return r.summarize(StatusDone, nil, samples)
}

// deliver 는 닫힌 배치 하나를 전송하고 결과를 카운터에 반영한다.
// 전송 성공(partial 포함) 시 레코드는 풀로 반환되어 수명이 끝난다.
func (r *Runner) deliver(ctx context.Context, bt *batch.Batch) error {
	// 시간 예산 체크: 전송 1회 시도조차 돌릴 수 없으면
	// 배치 경계에서 중단한다. 중간에 끊긴 애매한 전송을 만들지 않는다.
	if dl, ok := ctx.Deadline(); ok {
		if remain := time.Until(dl); remain < r.cfg.HTTPTimeout {
			return fmt.Errorf("%w: %s remaining", ErrDeadline, remain)
		}
	}

	out, err := r.client.Deliver(ctx, bt)
	if err != nil {
		return err
	}

	atomic.AddInt64(&r.metrics.BatchesDeliveredTotal, 1)
	atomic.AddInt64(&r.metrics.RecordsDeliveredTotal, int64(out.Accepted))
	atomic.AddInt64(&r.metrics.RecordsRejectedTotal, int64(out.Rejected))

	if out.Rejected > 0 {
		log.Warn().
			Int("accepted", out.Accepted).
			Int("rejected", out.Rejected).
			Strs("reasons", out.Reasons).
			Msg("batch partially rejected")
	} else {
		log.Debug().
			Int("records", bt.Len()).
			Int("bytes", bt.Size()).
			Int("attempts", out.Attempts).
			Msg("batch delivered")
	}

	pool.RecycleRecords(bt.Records)
	return nil
}

// summarize 는 카운터 스냅샷으로 Summary 를 만든다.
func (r *Runner) summarize(st Status, err error, samples []string) *Summary {
	return &Summary{
		LinesRead:         atomic.LoadInt64(&r.metrics.LinesReadTotal),
		RecordsParsed:     atomic.LoadInt64(&r.metrics.RecordsParsedTotal),
		ParseErrors:       atomic.LoadInt64(&r.metrics.ParseErrorsTotal),
		RecordsDropped:    atomic.LoadInt64(&r.metrics.RecordsDroppedTotal),
		BatchesDelivered:  atomic.LoadInt64(&r.metrics.BatchesDeliveredTotal),
		RecordsDelivered:  atomic.LoadInt64(&r.metrics.RecordsDeliveredTotal),
		RecordsRejected:   atomic.LoadInt64(&r.metrics.RecordsRejectedTotal),
		DeliveryAttempts:  atomic.LoadInt64(&r.metrics.DeliveryAttemptsTotal),
		DeliveryRetries:   atomic.LoadInt64(&r.metrics.DeliveryRetriesTotal),
		ParseErrorSamples: samples,
		Status:            st,
		Err:               err,
	}
}
