package main

import (
	"context"
	"net/url"

	"alblog-bridge/internal/config"
	"alblog-bridge/internal/fetch"
	"alblog-bridge/internal/ingest"
	"alblog-bridge/internal/logger"
	"alblog-bridge/internal/metrics"
	"alblog-bridge/internal/pipeline"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog/log"
)

// alblog-bridge
//
// ALB access log 오브젝트가 S3 에 생성되면 S3 notification 으로 호출되어,
// 오브젝트를 읽고 → 줄 단위 파싱 → 배치 적재 → Axiom ingest 로 전송한다.
//
// 실행 모델:
//   - 오브젝트 1개 = run 1개. run 은 순차 파이프라인이며 run 간 공유 상태 없음.
//   - run 이 Failed 로 끝나면 handler 가 에러를 반환해
//     플랫폼 재시도(동일 오브젝트 재전달)에 맡긴다. 원격 ingest 가
//     중복 레코드를 허용하므로 레코드 레벨에서는 사실상 멱등이다.
type app struct {
	cfg     config.Config
	fetcher *fetch.Fetcher
}

func main() {

	// ====================================================================
	// Config & Logger 초기화
	// ====================================================================
	//
	// - Config: 환경변수 기반으로 콜드스타트 시 1회 로드 (fail-fast)
	// - Logger: zerolog, 운영에서는 JSON → CloudWatch 로 그대로 흘림
	//
	// core 로직은 환경변수를 직접 읽지 않는다. 여기서 만든 Config 를
	// 생성 시점에 주입받을 뿐이다.
	// ====================================================================
	cfg := config.Load()
	logger.Init(cfg)

	a := &app{
		cfg:     cfg,
		fetcher: fetch.New(cfg),
	}

	log.Info().
		Str("dataset", cfg.Dataset).
		Str("endpoint", cfg.BaseURL).
		Int("max_batch_records", cfg.MaxBatchRecords).
		Int("max_batch_bytes", cfg.MaxBatchBytes).
		Msg("bridge ready")

	lambda.Start(a.handle)
}

// handle 은 S3 notification 1건을 처리한다.
// notification 에는 오브젝트가 여러 개 실릴 수 있으므로 순서대로 처리하고,
// 하나라도 실패하면 에러를 반환해 전체 이벤트가 재전달되게 한다.
func (a *app) handle(ctx context.Context, ev events.S3Event) error {
	var firstErr error

	for _, rec := range ev.Records {
		bucket := rec.S3.Bucket.Name

		// S3 event 의 key 는 URL 인코딩되어 온다 (공백 → '+').
		key, err := url.QueryUnescape(rec.S3.Object.Key)
		if err != nil {
			key = rec.S3.Object.Key
		}

		if err := a.processObject(ctx, bucket, key); err != nil {
			log.Error().Err(err).
				Str("bucket", bucket).
				Str("key", key).
				Msg("object processing failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	return firstErr
}

// processObject 는 오브젝트 1개에 대한 run 을 수행한다.
// Batcher / ingest client / metrics 는 run 마다 새로 만든다 —
// 동시 실행되는 다른 run 과 상태를 공유하지 않기 위함.
func (a *app) processObject(ctx context.Context, bucket, key string) error {
	log.Info().Str("bucket", bucket).Str("key", key).Msg("run start")

	body, err := a.fetcher.Fetch(ctx, bucket, key)
	if err != nil {
		// NotFound / AccessDenied 포함 — 파싱 시작 전 fatal
		return err
	}
	defer body.Close()

	m := metrics.New()
	client := ingest.New(a.cfg, m)
	run := pipeline.New(a.cfg, m, client)

	sum := run.Run(ctx, body)

	ev := log.Info()
	if sum.Status == pipeline.StatusFailed {
		ev = log.Error().Err(sum.Err)
	}
	ev.Str("bucket", bucket).
		Str("key", key).
		Str("status", string(sum.Status)).
		Int64("lines_read", sum.LinesRead).
		Int64("records_parsed", sum.RecordsParsed).
		Int64("parse_errors", sum.ParseErrors).
		Int64("records_dropped", sum.RecordsDropped).
		Int64("batches_delivered", sum.BatchesDelivered).
		Int64("records_delivered", sum.RecordsDelivered).
		Int64("records_rejected", sum.RecordsRejected).
		Int64("delivery_attempts", sum.DeliveryAttempts).
		Strs("parse_error_samples", sum.ParseErrorSamples).
		Msg("run summary")

	if sum.Status == pipeline.StatusFailed {
		return sum.Err
	}
	return nil
}
