package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"alblog-bridge/internal/batch"
	"alblog-bridge/internal/config"
	"alblog-bridge/internal/ingest"
	"alblog-bridge/internal/metrics"
)

const validLine = `https 2024-03-12T08:15:42.123456Z app/k8s-default-ingress/50dc6c495c0c9188 203.0.113.9:48144 10.0.1.24:8080 0.001 0.082 0.000 200 200 457 1213 "GET https://api.example.com:443/v1/users?page=2 HTTP/2.0" "Mozilla/5.0" ECDHE-RSA-AES128-GCM-SHA256 TLSv1.2 arn:aws:elasticloadbalancing:ap-northeast-2:123456789012:targetgroup/web-api/73e2d6bc24d8a067 "Root=1-58337262-36d228ad5d99923122bbe354" "api.example.com" "-" 0 2024-03-12T08:15:42.120000Z "forward" "-" "-" "10.0.1.24:8080" "200" "-" "-" TID_1234567890abcdef`

func testConfig() config.Config {
	return config.Config{
		MaxBatchRecords:     1000,
		MaxBatchBytes:       1 << 20,
		HTTPTimeout:         time.Second,
		ParseErrorRateMax:   0.5,
		ParseErrorRateFloor: 100,
		ParseErrorSamples:   5,
	}
}

// fakeDeliverer 는 전송을 흉내낸다. failAfter 번째 배치부터 fatal 을 돌려준다.
type fakeDeliverer struct {
	batches   []int // 배치별 레코드 수
	failAfter int   // 0 이면 실패 없음 (1-base)
	rejectOne bool  // 배치마다 레코드 1개를 partial reject
}

func (f *fakeDeliverer) Deliver(_ context.Context, b *batch.Batch) (*ingest.Outcome, error) {
	if f.failAfter > 0 && len(f.batches)+1 >= f.failAfter {
		return nil, &ingest.FatalError{StatusCode: 401, Body: "bad token", Attempts: 1}
	}
	f.batches = append(f.batches, b.Len())
	out := &ingest.Outcome{Accepted: b.Len(), Attempts: 1}
	if f.rejectOne && b.Len() > 0 {
		out.Accepted--
		out.Rejected = 1
		out.Reasons = []string{"simulated reject"}
	}
	return out, nil
}

func TestRunScenarioMixedLines(t *testing.T) {
	input := strings.Join([]string{
		validLine,
		validLine,
		"this is not an access log line",
		validLine,
	}, "\n")

	fake := &fakeDeliverer{}
	sum := New(testConfig(), metrics.New(), fake).Run(context.Background(), strings.NewReader(input))

	if sum.Status != StatusDone {
		t.Fatalf("expected Done, got %s (%v)", sum.Status, sum.Err)
	}
	if sum.LinesRead != 4 || sum.RecordsParsed != 3 || sum.ParseErrors != 1 {
		t.Errorf("unexpected counts: lines=%d parsed=%d errors=%d",
			sum.LinesRead, sum.RecordsParsed, sum.ParseErrors)
	}
	if sum.BatchesDelivered != 1 || sum.RecordsDelivered != 3 {
		t.Errorf("unexpected delivery counts: batches=%d records=%d",
			sum.BatchesDelivered, sum.RecordsDelivered)
	}
	if len(fake.batches) != 1 || fake.batches[0] != 3 {
		t.Errorf("unexpected batches %v", fake.batches)
	}
	if len(sum.ParseErrorSamples) != 1 || !strings.Contains(sum.ParseErrorSamples[0], "field-count-mismatch") {
		t.Errorf("unexpected samples %v", sum.ParseErrorSamples)
	}
}

func TestRunEmptyObject(t *testing.T) {
	fake := &fakeDeliverer{}
	sum := New(testConfig(), metrics.New(), fake).Run(context.Background(), strings.NewReader(""))

	if sum.Status != StatusDone {
		t.Fatalf("expected Done, got %s", sum.Status)
	}
	if sum.LinesRead != 0 || sum.RecordsParsed != 0 || sum.BatchesDelivered != 0 {
		t.Errorf("expected zero counts, got %+v", sum)
	}
	if len(fake.batches) != 0 {
		t.Errorf("no delivery calls expected, got %v", fake.batches)
	}
}

func TestRunBatchBoundaries(t *testing.T) {
	cfg := testConfig()
	cfg.MaxBatchRecords = 2

	input := strings.Repeat(validLine+"\n", 5)
	fake := &fakeDeliverer{}
	sum := New(cfg, metrics.New(), fake).Run(context.Background(), strings.NewReader(input))

	if sum.Status != StatusDone {
		t.Fatalf("expected Done, got %s (%v)", sum.Status, sum.Err)
	}
	// 2 + 2 (count ceiling) + 1 (drain flush)
	want := []int{2, 2, 1}
	if len(fake.batches) != 3 {
		t.Fatalf("expected 3 batches, got %v", fake.batches)
	}
	for i, n := range want {
		if fake.batches[i] != n {
			t.Errorf("batch %d: expected %d records, got %d", i, n, fake.batches[i])
		}
	}
	if sum.RecordsDelivered != 5 {
		t.Errorf("expected 5 delivered, got %d", sum.RecordsDelivered)
	}
}

func TestRunFatalDeliveryAbortsPreservingCounts(t *testing.T) {
	cfg := testConfig()
	cfg.MaxBatchRecords = 2

	// 배치 1은 성공, 배치 2에서 fatal → run 중단.
	input := strings.Repeat(validLine+"\n", 4)
	fake := &fakeDeliverer{failAfter: 2}
	sum := New(cfg, metrics.New(), fake).Run(context.Background(), strings.NewReader(input))

	if sum.Status != StatusFailed {
		t.Fatalf("expected Failed, got %s", sum.Status)
	}
	var fe *ingest.FatalError
	if !errors.As(sum.Err, &fe) || fe.StatusCode != 401 {
		t.Fatalf("expected FatalError(401), got %v", sum.Err)
	}
	// 실패 이전에 나간 수치는 보존되어야 한다 (재처리 판단 근거)
	if sum.BatchesDelivered != 1 || sum.RecordsDelivered != 2 {
		t.Errorf("pre-failure counts lost: batches=%d records=%d",
			sum.BatchesDelivered, sum.RecordsDelivered)
	}
}

func TestRunPartialFailureDoesNotAbort(t *testing.T) {
	fake := &fakeDeliverer{rejectOne: true}
	input := strings.Repeat(validLine+"\n", 3)
	sum := New(testConfig(), metrics.New(), fake).Run(context.Background(), strings.NewReader(input))

	if sum.Status != StatusDone {
		t.Fatalf("partial failure must not fail the run: %s (%v)", sum.Status, sum.Err)
	}
	if sum.RecordsDelivered != 2 || sum.RecordsRejected != 1 {
		t.Errorf("unexpected counts: delivered=%d rejected=%d",
			sum.RecordsDelivered, sum.RecordsRejected)
	}
}

func TestRunParseAnomaly(t *testing.T) {
	cfg := testConfig()
	cfg.ParseErrorRateFloor = 4
	cfg.ParseErrorRateMax = 0.5

	input := strings.Repeat("garbage line without enough fields\n", 5)
	fake := &fakeDeliverer{}
	sum := New(cfg, metrics.New(), fake).Run(context.Background(), strings.NewReader(input))

	if sum.Status != StatusFailed {
		t.Fatalf("expected Failed on parse anomaly, got %s", sum.Status)
	}
	if !errors.Is(sum.Err, ErrParseAnomaly) {
		t.Errorf("expected ErrParseAnomaly, got %v", sum.Err)
	}
	if len(fake.batches) != 0 {
		t.Errorf("tail must not be flushed on anomaly, got %v", fake.batches)
	}
}

func TestRunDeadlineGuard(t *testing.T) {
	cfg := testConfig()
	cfg.HTTPTimeout = 10 * time.Second // 남은 예산보다 큰 시도 timeout

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	fake := &fakeDeliverer{}
	sum := New(cfg, metrics.New(), fake).Run(ctx, strings.NewReader(validLine+"\n"))

	if sum.Status != StatusFailed {
		t.Fatalf("expected Failed, got %s", sum.Status)
	}
	if !errors.Is(sum.Err, ErrDeadline) {
		t.Errorf("expected ErrDeadline, got %v", sum.Err)
	}
	if len(fake.batches) != 0 {
		t.Errorf("no delivery should start without budget, got %v", fake.batches)
	}
}
