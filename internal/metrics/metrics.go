package metrics

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// Metrics 는 오브젝트 1개 처리(run) 동안의 카운터 모음이다.
// run 마다 새로 생성되어 pipeline 과 ingest client 에 주입되며,
// run 간에 공유되지 않는다 (invocation 간 shared state 없음).
type Metrics struct {

	// ======================
	// 파싱 레벨 지표
	// ======================

	// LinesReadTotal
	// - 오브젝트에서 읽은 전체 라인 수 (빈 라인 제외).
	LinesReadTotal int64

	// RecordsParsedTotal
	// - LogRecord 로 정상 디코딩된 라인 수.
	RecordsParsedTotal int64

	// ParseErrorsTotal
	// - ParseError 로 거부된 라인 수.
	// - RecordsParsedTotal 과 합치면 LinesReadTotal 이 되어야 정상.
	// - 이 값의 비율이 급증하면 업스트림 로그 포맷 변경 신호.
	ParseErrorsTotal int64

	// RecordsDroppedTotal
	// - 단독으로 배치 크기 상한을 초과해 전송 자체가 불가능했던 레코드 수.
	RecordsDroppedTotal int64

	// ======================
	// 전송 레벨 지표
	// ======================

	// DeliveryAttemptsTotal
	// - ingest endpoint 로의 HTTP 시도 횟수 (재시도 포함).
	DeliveryAttemptsTotal int64

	// DeliveryRetriesTotal
	// - 재시도 횟수 (429/5xx/네트워크 오류로 인한 2회차 이후 시도).
	// - DeliveryAttemptsTotal - 배치 수 와 일치해야 정상.
	DeliveryRetriesTotal int64

	// BatchesDeliveredTotal
	// - 2xx 로 종결된 배치 수 (partial failure 포함).
	BatchesDeliveredTotal int64

	// RecordsDeliveredTotal
	// - endpoint 가 수락한 레코드 수. 단위는 "레코드 수"이며 배치 수가 아니다.
	RecordsDeliveredTotal int64

	// RecordsRejectedTotal
	// - 2xx 응답이지만 per-record 실패 목록에 오른 레코드 수 (partial failure).
	// - 자동 재시도하지 않고 summary 로만 보고된다.
	RecordsRejectedTotal int64

	// DeliveryErrorsTotal
	// - 실패한 HTTP 시도 횟수 (재시도로 복구된 것 포함).
	DeliveryErrorsTotal int64
}

func New() *Metrics {
	return &Metrics{}
}

func (m *Metrics) String() string {
	var sb strings.Builder
	sb.Grow(256)

	fmt.Fprintf(&sb, "lines_read_total=%d\n", atomic.LoadInt64(&m.LinesReadTotal))
	fmt.Fprintf(&sb, "records_parsed_total=%d\n", atomic.LoadInt64(&m.RecordsParsedTotal))
	fmt.Fprintf(&sb, "parse_errors_total=%d\n", atomic.LoadInt64(&m.ParseErrorsTotal))
	fmt.Fprintf(&sb, "records_dropped_total=%d\n", atomic.LoadInt64(&m.RecordsDroppedTotal))

	fmt.Fprintf(&sb, "delivery_attempts_total=%d\n", atomic.LoadInt64(&m.DeliveryAttemptsTotal))
	fmt.Fprintf(&sb, "delivery_retries_total=%d\n", atomic.LoadInt64(&m.DeliveryRetriesTotal))
	fmt.Fprintf(&sb, "batches_delivered_total=%d\n", atomic.LoadInt64(&m.BatchesDeliveredTotal))
	fmt.Fprintf(&sb, "records_delivered_total=%d\n", atomic.LoadInt64(&m.RecordsDeliveredTotal))
	fmt.Fprintf(&sb, "records_rejected_total=%d\n", atomic.LoadInt64(&m.RecordsRejectedTotal))
	fmt.Fprintf(&sb, "delivery_errors_total=%d\n", atomic.LoadInt64(&m.DeliveryErrorsTotal))

	return sb.String()
}
