// internal/config/config.go
package config

import (
	"crypto/rand"
	"encoding/hex"
	"log"
	"os"
	"strconv"
	"time"
)

// Config
//
// 실행 시 필요한 모든 환경 변수 값을 보관하는 구조체.
// 모든 값은 프로세스 시작 시점에 Load() 에 의해 초기화되며,
// 이후에는 변경되지 않는 불변(read-only) 설정들이다.
//
// core 로직(parser/batch/ingest/pipeline)은 환경변수를 직접 읽지 않고
// 생성 시점에 이 Config 를 주입받는다.
type Config struct {

	// ---------------------------
	// AWS / S3 기본 환경
	// ---------------------------

	AWSRegion string // AWS 리전 (예: ap-northeast-2)

	// ---------------------------
	// Axiom ingest 대상
	// ---------------------------

	APIToken string // Axiom API 토큰 (secret)
	Dataset  string // 최종 dataset 이름 (AXIOM_DATASET > DATASET_NAME 우선순위로 해석)
	BaseURL  string // ingest endpoint base URL

	// ---------------------------
	// 배치 / 전송 파라미터
	// ---------------------------

	WireFormat      string        // "ndjson" | "json" (array envelope)
	GzipBody        bool          // 요청 body gzip 압축 여부
	MaxBatchRecords int           // 배치당 최대 레코드 수
	MaxBatchBytes   int           // 배치 직렬화 크기 상한 (바이트)
	MaxAttempts     int           // 배치당 전송 시도 상한 (첫 시도 포함)
	BackoffBase     time.Duration // 재시도 backoff 시작값
	BackoffCeiling  time.Duration // 재시도 backoff 상한
	HTTPTimeout     time.Duration // 전송 1회 시도당 timeout

	// ---------------------------
	// 파싱 이상 감지
	// ---------------------------

	// 오브젝트 전체에서 parse error 비율이 이 값을 넘으면
	// 포맷 변경 사고로 간주하고 run 을 Failed 처리한다.
	ParseErrorRateMax float64
	// 비율 판정을 적용할 최소 라인 수 (작은 오브젝트 오탐 방지)
	ParseErrorRateFloor int
	// summary 에 샘플로 남길 실패 라인 수
	ParseErrorSamples int

	// ---------------------------
	// 서버 식별자 / 로깅
	// ---------------------------

	ServiceName string // 로그 공통 필드 service
	InstanceID  string // 실행 환경 고유 ID (호스트명 기반, 실패 시 랜덤 hex)
	LogLevel    string // zerolog 레벨 (debug/info/warn/error)
	LogPretty   bool   // true 면 개발용 콘솔 출력, false 면 JSON
}

// Load
//
// 환경 변수 기반으로 Config 값을 초기화한다.
// secret / 라우팅처럼 기본값이 있을 수 없는 값은 must* (fail-fast),
// 튜닝 파라미터는 envOr* 로 운영 기본값을 둔다.
func Load() Config {
	return Config{
		AWSRegion: must("AWS_REGION"),

		APIToken: must("AXIOM_API_TOKEN"),
		Dataset:  resolveDataset(),
		BaseURL:  envOr("AXIOM_BASE_URL", "https://api.axiom.co"),

		WireFormat:      envOr("INGEST_FORMAT", "ndjson"),
		GzipBody:        envOrBool("INGEST_GZIP", true),
		MaxBatchRecords: envOrInt("MAX_BATCH_RECORDS", 1000),
		MaxBatchBytes:   envOrInt("MAX_BATCH_BYTES", 1<<20),
		MaxAttempts:     envOrInt("MAX_RETRY_ATTEMPTS", 5),
		BackoffBase:     envOrDur("BACKOFF_BASE", 200*time.Millisecond),
		BackoffCeiling:  envOrDur("BACKOFF_CEILING", 5*time.Second),
		HTTPTimeout:     envOrDur("HTTP_TIMEOUT", 10*time.Second),

		ParseErrorRateMax:   envOrFloat("PARSE_ERROR_RATE_MAX", 0.5),
		ParseErrorRateFloor: envOrInt("PARSE_ERROR_RATE_FLOOR", 100),
		ParseErrorSamples:   envOrInt("PARSE_ERROR_SAMPLES", 5),

		ServiceName: envOr("SERVICE_NAME", "alblog-bridge"),
		InstanceID:  fallbackInstanceID(),
		LogLevel:    envOr("LOG_LEVEL", "info"),
		LogPretty:   envOrBool("LOG_PRETTY", false),
	}
}

// resolveDataset
//
// dataset 이름은 역사적으로 env 가 두 개다.
//   - AXIOM_DATASET: 명시적 설정 (우선)
//   - DATASET_NAME:  구버전 배포에서 쓰던 이름 (fallback)
//
// 둘 다 비어있으면 fail-fast.
func resolveDataset() string {
	if v := os.Getenv("AXIOM_DATASET"); v != "" {
		return v
	}
	return must("DATASET_NAME")
}

// must / envOr*
//
// 공통 패턴.
// 필수 환경변수가 없으면 즉시 로그 출력 후 종료(fail-fast).
// 선택 환경변수는 형식이 잘못된 경우에만 종료한다 — 조용히 기본값으로
// 덮어쓰면 설정 오타를 운영 중에 발견하게 된다.
func must(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("missing required env: %s", key)
	}
	return v
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Fatalf("invalid int env %s=%q: %v", key, v, err)
	}
	return n
}

func envOrFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Fatalf("invalid float env %s=%q: %v", key, v, err)
	}
	return f
}

func envOrBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Fatalf("invalid bool env %s=%q: %v", key, v, err)
	}
	return b
}

func envOrDur(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Fatalf("invalid duration env %s=%q: %v", key, v, err)
	}
	return d
}

// fallbackInstanceID
//
// 이 실행 환경을 식별하는 고유 값.
//   - 기본: hostname
//   - fallback: 12자리 랜덤 hex
func fallbackInstanceID() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	// 랜덤 6바이트 → 12자리 hex
	var b [6]byte
	if _, err := rand.Read(b[:]); err == nil {
		return hex.EncodeToString(b[:])
	}
	return strconv.FormatInt(time.Now().UnixNano(), 10)
}
