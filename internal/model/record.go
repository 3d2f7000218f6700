// internal/model/record.go
package model

import "time"

// LogRecord
// ------------------------------------------------------------
// ALB access log 한 줄을 구조화한 레코드.
// ingestion 파이프라인에서 모든 데이터의 "기본 단위"가 된다.
// Parser → Batcher → IngestClient 까지 그대로 전달되며,
// 생성 이후에는 절대 수정하지 않는다(불변).
//
// JSON 태그는 Axiom ingest API 로 전송되는 최종 필드명이다.
// `_time` 은 Axiom 이 이벤트 타임스탬프로 인식하는 예약 필드.
type LogRecord struct {
	Timestamp time.Time `json:"_time"` // 요청 처리 시각 (ISO-8601, sub-second)

	Type string `json:"type"` // 리스너 타입 (http / https / h2 / ws / wss ...)
	ELB  string `json:"elb"`  // 로드밸런서 식별자

	Client     string `json:"client"`      // 클라이언트 IP
	ClientPort string `json:"client_port"` // 클라이언트 포트
	Target     string `json:"target"`      // 백엔드 IP ('-' 이면 빈 문자열)
	TargetPort string `json:"target_port"` // 백엔드 포트

	// 처리 시간 3종 (초 단위 float).
	// -1 은 "기록되지 않음" sentinel — 예: 타겟에 도달하지 못한 요청.
	RequestProcessingTime  float64 `json:"request_processing_time"`
	TargetProcessingTime   float64 `json:"target_processing_time"`
	ResponseProcessingTime float64 `json:"response_processing_time"`

	// 상태 코드. target 이 응답하지 못한 경우 -1 sentinel.
	ELBStatusCode    int `json:"elb_status_code"`
	TargetStatusCode int `json:"target_status_code"`

	ReceivedBytes int64 `json:"received_bytes"`
	SentBytes     int64 `json:"sent_bytes"`

	// "GET https://example.com:443/path HTTP/2.0" 를 분해한 3필드
	Method   string `json:"method"`
	URL      string `json:"url"`
	Protocol string `json:"protocol"`

	UserAgent   string `json:"user_agent"`
	SSLCipher   string `json:"ssl_cipher,omitempty"`
	SSLProtocol string `json:"ssl_protocol,omitempty"`

	TargetGroupARN string `json:"target_group_arn,omitempty"`
	Service        string `json:"service,omitempty"` // target group ARN 마지막 path 세그먼트

	TraceID    string `json:"trace_id,omitempty"`
	DomainName string `json:"domain_name,omitempty"`

	ChosenCertARN        string `json:"chosen_cert_arn,omitempty"`
	MatchedRulePriority  string `json:"matched_rule_priority,omitempty"`
	RequestCreationTime  string `json:"request_creation_time,omitempty"`
	ActionsExecuted      string `json:"actions_executed,omitempty"`
	RedirectURL          string `json:"redirect_url,omitempty"`
	ErrorReason          string `json:"error_reason,omitempty"`
	TargetPortList       string `json:"target_port_list,omitempty"`
	TargetStatusCodeList string `json:"target_status_code_list,omitempty"`
	Classification       string `json:"classification,omitempty"`
	ClassificationReason string `json:"classification_reason,omitempty"`
	ConnTraceID          string `json:"conn_trace_id,omitempty"`

	// 포맷 버전이 확장되어 뒤에 새 필드가 붙은 경우,
	// 파싱 실패 대신 여기(f29, f30, ...)에 보존한다.
	// 업스트림 포맷 추가로 레코드 전체가 드랍되는 것을 막기 위한 장치.
	Extra map[string]string `json:"extra,omitempty"`
}
