// internal/logger/log.go
package logger

import (
	"io"
	"os"
	"strings"

	"alblog-bridge/internal/config"

	stdlog "log"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

// Init
//
// 프로세스 시작 시 한 번만 호출되는 로거 초기화 함수.
// Config 설정(환경변수)에 따라 '개발자용 화면' 또는 '운영용 시스템 로그'로
// 자동으로 형태를 바꾸어 설정한다.
//
// [주요 기능]
//
//  1. 로그 포맷 자동 전환:
//     - 개발 환경 (LOG_PRETTY=true): 색상 콘솔 출력 (가독성 위주)
//     - 운영 환경 (LOG_PRETTY=false): JSON 포맷 (CloudWatch 검색/분석 위주)
//
//  2. 공통 필드 자동 추가:
//     - 모든 로그에 "service", "instance" 정보가 자동으로 붙는다.
//     - 동시에 여러 오브젝트를 처리하는 실행 환경에서
//       어느 실행의 로그인지 즉시 식별 가능.
func Init(cfg config.Config) {

	// 1) 로그 레벨 결정. 잘못된 값이면 info 로 동작.
	level := zerolog.InfoLevel
	if l, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.LogLevel))); err == nil {
		level = l
	}
	zerolog.SetGlobalLevel(level)

	// 2) 출력 방식 결정 (사람 vs 기계)
	var w io.Writer
	if cfg.LogPretty {
		w = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		}
	} else {
		w = os.Stdout
	}

	// 3) 기본 Logger 생성 (공통 태그 부착)
	zlog.Logger = zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Str("service", cfg.ServiceName).
		Str("instance", cfg.InstanceID).
		Logger()

	// 표준 라이브러리 log 를 쓰는 코드도 zerolog 설정을 따르도록 연결.
	stdlog.SetFlags(0)
	stdlog.SetOutput(zlog.Logger)
}
