package pool

import (
	"bytes"
	"sync"

	"alblog-bridge/internal/model"

	"github.com/klauspost/compress/gzip"
)

// ---------------------------------------------------------------
// Pool 구성 목적
//
// 로그 오브젝트 하나에 access log 가 수만~수십만 줄 들어올 수 있고,
// 줄마다 LogRecord 생성 + 배치마다 직렬화 버퍼/gzip writer 생성이
// 반복되면 할당이 매우 빈번해진다.
//
// 아래 Pool들은 "GC 줄이기, 메모리 재사용, 성능 안정화" 목적.
// ---------------------------------------------------------------

var (
	// RecordPool:
	//   - LogRecord 객체 재사용
	//   - 줄마다 new(model.LogRecord) 하지 않도록 함
	//   - 배치 전송 완료 후 RecycleRecords 로 반환
	RecordPool = sync.Pool{
		New: func() any { return new(model.LogRecord) },
	}

	// BufferPool:
	//   - 배치 직렬화(NDJSON/gzip) 결과를 담는 임시 버퍼
	//   - 초기 용량 256KB (일반적인 배치 사이즈에 최적화)
	//   - 1MB 초과 버퍼는 메모리 폭주 방지를 위해 풀에 넣지 않음
	BufferPool = sync.Pool{
		New: func() any {
			return bytes.NewBuffer(make([]byte, 0, 256*1024))
		},
	}

	// GzipPool:
	//   - gzip.Writer 재사용 (매번 new 하면 비용 매우 큼)
	//   - BestSpeed 옵션: 전송 경로 특성상 속도 우선 전략
	GzipPool = sync.Pool{
		New: func() any {
			w, _ := gzip.NewWriterLevel(nil, gzip.BestSpeed)
			return w
		},
	}
)

// Pool에 되돌려줄 최대 버퍼 용량.
// 이보다 큰 버퍼는 Pool에 넣지 않고 GC에게 위임해 메모리 폭발을 예방.
const MaxBufferCap = 1 * 1024 * 1024 // 1MB

// ResetRecord:
//   - LogRecord 구조체를 재사용할 수 있도록 zeroing.
func ResetRecord(r *model.LogRecord) {
	*r = model.LogRecord{}
}

// RecycleRecords:
//   - 배치 전송이 끝난 레코드 slice 를 풀로 반환.
func RecycleRecords(recs []*model.LogRecord) {
	for _, r := range recs {
		ResetRecord(r)
		RecordPool.Put(r)
	}
}

// PutBuffer:
//   - 직렬화 버퍼 반환
//   - 1MB 이하이면 풀에 재사용, 초대형 배치 결과는 풀로 돌리지 않음
func PutBuffer(buf *bytes.Buffer) {
	if buf.Cap() <= MaxBufferCap {
		buf.Reset()
		BufferPool.Put(buf)
	}
}
