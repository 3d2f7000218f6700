package batch

import (
	"errors"
	"testing"
	"time"

	"alblog-bridge/internal/model"

	json "github.com/goccy/go-json"
)

func testRecord(url string) *model.LogRecord {
	return &model.LogRecord{
		Timestamp:     time.Date(2024, 3, 12, 8, 15, 42, 0, time.UTC),
		Type:          "https",
		ELB:           "app/web/50dc6c495c0c9188",
		Client:        "203.0.113.9",
		ClientPort:    "48144",
		ELBStatusCode: 200,
		Method:        "GET",
		URL:           url,
		Protocol:      "HTTP/2.0",
	}
}

// 레코드 1개의 NDJSON 라인 크기 (개행 포함)
func lineSize(t *testing.T, rec *model.LogRecord) int {
	t.Helper()
	b, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return len(b) + 1
}

func TestCountCeiling(t *testing.T) {
	b := New(3, 1<<20)

	for i, url := range []string{"/a", "/b"} {
		closed, err := b.Add(testRecord(url))
		if err != nil {
			t.Fatalf("add %d: %v", i, err)
		}
		if closed != nil {
			t.Fatalf("batch closed early at %d", i)
		}
	}

	// count ceiling 에 도달한 레코드는 그 배치에 포함된 채 닫힌다.
	closed, err := b.Add(testRecord("/c"))
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if closed == nil || closed.Len() != 3 {
		t.Fatalf("expected closed batch of 3, got %v", closed)
	}
	if closed.Records[0].URL != "/a" || closed.Records[2].URL != "/c" {
		t.Errorf("records reordered: %q %q", closed.Records[0].URL, closed.Records[2].URL)
	}
	if b.Flush() != nil {
		t.Errorf("expected empty batcher after count close")
	}
}

func TestByteCeiling(t *testing.T) {
	one := lineSize(t, testRecord("/x"))
	b := New(100, 2*one)

	if closed, _ := b.Add(testRecord("/x")); closed != nil {
		t.Fatal("closed after 1 record")
	}
	if closed, _ := b.Add(testRecord("/x")); closed != nil {
		t.Fatal("closed after 2 records")
	}

	// 세 번째 레코드는 상한을 넘기므로, 기존 2개가 닫히고
	// overflow 레코드는 다음 배치의 첫 레코드가 된다.
	closed, err := b.Add(testRecord("/y"))
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if closed == nil || closed.Len() != 2 {
		t.Fatalf("expected closed batch of 2, got %v", closed)
	}
	if closed.Size() > 2*one {
		t.Errorf("closed batch exceeds ceiling: %d > %d", closed.Size(), 2*one)
	}

	tail := b.Flush()
	if tail == nil || tail.Len() != 1 || tail.Records[0].URL != "/y" {
		t.Fatalf("expected overflow record in next batch, got %v", tail)
	}
}

func TestNeverExceedsCeilingAndPreservesOrder(t *testing.T) {
	one := lineSize(t, testRecord("/p000"))
	maxBytes := 3*one + 2 // 3개까지는 들어가고 4개째에 넘치는 크기
	b := New(1000, maxBytes)

	urls := make([]string, 0, 50)
	var batches []*Batch
	for i := 0; i < 50; i++ {
		url := "/p" + string(rune('0'+i/10)) + string(rune('0'+i%10)) + "0"
		urls = append(urls, url)
		closed, err := b.Add(testRecord(url))
		if err != nil {
			t.Fatalf("add %d: %v", i, err)
		}
		if closed != nil {
			batches = append(batches, closed)
		}
	}
	if tail := b.Flush(); tail != nil {
		batches = append(batches, tail)
	}

	var got []string
	for _, bt := range batches {
		if bt.Size() > maxBytes {
			t.Errorf("batch exceeds ceiling: %d > %d", bt.Size(), maxBytes)
		}
		if bt.Len() == 0 {
			t.Error("empty batch emitted")
		}
		for _, r := range bt.Records {
			got = append(got, r.URL)
		}
	}
	if len(got) != len(urls) {
		t.Fatalf("record count mismatch: %d != %d", len(got), len(urls))
	}
	for i := range urls {
		if got[i] != urls[i] {
			t.Fatalf("order broken at %d: %q != %q", i, got[i], urls[i])
		}
	}
}

func TestRecordTooLarge(t *testing.T) {
	b := New(10, 16)

	closed, err := b.Add(testRecord("/way-too-big"))
	if !errors.Is(err, ErrRecordTooLarge) {
		t.Fatalf("expected ErrRecordTooLarge, got %v", err)
	}
	if closed != nil {
		t.Errorf("no batch should close on rejected record")
	}
	if b.Flush() != nil {
		t.Errorf("rejected record must not enter a batch")
	}
}

func TestFlushEmpty(t *testing.T) {
	b := New(10, 1<<20)
	if got := b.Flush(); got != nil {
		t.Fatalf("expected nil flush on empty batcher, got %v", got)
	}
}

func TestFlushReturnsOpenBatch(t *testing.T) {
	b := New(10, 1<<20)
	b.Add(testRecord("/a"))
	b.Add(testRecord("/b"))

	tail := b.Flush()
	if tail == nil || tail.Len() != 2 {
		t.Fatalf("expected open batch of 2, got %v", tail)
	}
	// flush 후에는 비어 있어야 한다
	if b.Flush() != nil {
		t.Errorf("second flush should be nil")
	}
}
