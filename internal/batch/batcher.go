// internal/batch/batcher.go
package batch

import (
	"errors"

	"alblog-bridge/internal/model"

	json "github.com/goccy/go-json"
)

// Batcher 는 파싱된 레코드를 전송 단위(Batch)로 모은다.
//
// 닫힘 조건:
//   - byte ceiling: 레코드를 추가하면 직렬화 크기가 상한을 넘는 경우,
//     현재 배치를 닫고 그 레코드가 다음 배치의 첫 레코드가 된다.
//   - count ceiling: 레코드 수가 상한에 도달하면 그 레코드를 포함한 채 닫는다.
//
// 불변식:
//   - 닫힌 배치의 직렬화 크기는 상한을 절대 넘지 않는다.
//     (endpoint 의 request-size limit 거절을 transport 단계에서 원천 차단)
//   - 배치 경계를 넘어 레코드 순서가 바뀌지 않는다.
//
// 레코드는 Add 시점에 한 번만 직렬화하고 NDJSON 라인으로 보관한다.
// 전송 단계에서 재직렬화하지 않으며, 크기 판정과 wire payload 가
// 같은 바이트를 보게 된다.
type Batcher struct {
	maxRecords int
	maxBytes   int
	cur        *Batch
}

// ErrRecordTooLarge 는 레코드 하나가 단독으로 byte ceiling 을 초과해
// 어떤 배치로도 전송할 수 없는 경우다. 호출자가 카운트 후 드랍한다.
var ErrRecordTooLarge = errors.New("batch: record alone exceeds byte ceiling")

// Batch 는 전송 대기 중인 레코드 묶음이다.
// Records 와 lines 는 같은 순서를 유지한다.
type Batch struct {
	Records []*model.LogRecord
	lines   [][]byte
	size    int // sum(len(line) + 1) — NDJSON 개행 포함
}

// Len 은 배치에 담긴 레코드 수.
func (b *Batch) Len() int { return len(b.Records) }

// Size 는 NDJSON 직렬화 크기(개행 포함, 압축 전).
func (b *Batch) Size() int { return b.size }

// Lines 는 레코드별 직렬화 결과. 수정 금지.
func (b *Batch) Lines() [][]byte { return b.lines }

func New(maxRecords, maxBytes int) *Batcher {
	return &Batcher{
		maxRecords: maxRecords,
		maxBytes:   maxBytes,
		cur:        newBatch(maxRecords),
	}
}

func newBatch(capHint int) *Batch {
	return &Batch{
		Records: make([]*model.LogRecord, 0, capHint),
		lines:   make([][]byte, 0, capHint),
	}
}

// Add 는 레코드를 현재 배치에 추가한다.
// 추가로 인해 배치가 닫힌 경우 닫힌 배치를 반환한다 (아니면 nil).
func (b *Batcher) Add(rec *model.LogRecord) (*Batch, error) {
	line, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}

	need := len(line) + 1 // '\n' 포함
	if need > b.maxBytes {
		return nil, ErrRecordTooLarge
	}

	var closed *Batch

	// count ceiling 에 이미 도달한 채 남아있는 배치가 있으면 먼저 닫는다.
	// (byte/count 조건이 한 호출에서 겹치는 경우의 이월분)
	if b.cur.Len() >= b.maxRecords && b.cur.Len() > 0 {
		closed, b.cur = b.cur, newBatch(b.maxRecords)
	}

	// byte ceiling: 이 레코드를 넣으면 상한 초과 → 현재 배치를 닫고
	// 레코드는 새 배치의 첫 레코드가 된다.
	if closed == nil && b.cur.size+need > b.maxBytes && b.cur.Len() > 0 {
		closed, b.cur = b.cur, newBatch(b.maxRecords)
	}

	b.cur.Records = append(b.cur.Records, rec)
	b.cur.lines = append(b.cur.lines, line)
	b.cur.size += need

	// count ceiling: 상한에 도달한 레코드까지 포함해서 닫는다.
	if closed == nil && b.cur.Len() >= b.maxRecords {
		closed, b.cur = b.cur, newBatch(b.maxRecords)
	}

	return closed, nil
}

// Flush 는 입력 종료 시 남아있는 열린 배치를 반환한다.
// 빈 배치는 반환하지 않는다 (nil).
func (b *Batcher) Flush() *Batch {
	if b.cur.Len() == 0 {
		return nil
	}
	out := b.cur
	b.cur = newBatch(b.maxRecords)
	return out
}
