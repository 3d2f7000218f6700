// internal/parser/parser.go
package parser

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"alblog-bridge/internal/model"
	"alblog-bridge/internal/pool"
)

// ALB access log 한 줄을 LogRecord 로 변환하는 파서.
//
// 포맷 (공백 구분, 일부 필드는 큰따옴표로 감쌈):
//
//	type time elb client:port target:port request_processing_time
//	target_processing_time response_processing_time elb_status_code
//	target_status_code received_bytes sent_bytes "request" "user_agent"
//	ssl_cipher ssl_protocol target_group_arn "trace_id" "domain_name"
//	"chosen_cert_arn" matched_rule_priority request_creation_time
//	"actions_executed" "redirect_url" "error_reason" "target:port_list"
//	"target_status_code_list" "classification" "classification_reason"
//	[conn_trace_id] [future fields...]
//
// 규칙:
//   - 필수 필드는 앞 29개. conn_trace_id(30번째)는 있으면 채우고 없어도 통과.
//   - 그 뒤에 붙는 미래 확장 필드는 Extra["f30"], Extra["f31"]... 로 보존.
//     (포맷 확장으로 전체 레코드가 드랍되는 사고 방지)
//   - '-' 는 "기록되지 않음" — 숫자 필드는 -1 sentinel, 문자열 필드는 빈 값.
//   - 레코드는 전부 디코딩되거나 전부 거부된다. 부분 레코드는 없다.

// ParseError reason code
const (
	ReasonFieldCount = "field-count-mismatch"
	ReasonTimestamp  = "malformed-timestamp"
	ReasonDuration   = "malformed-duration"
	ReasonQuote      = "unterminated-quote"
)

// 필수 필드 수 (conn_trace_id 이전까지)
const minFields = 29

// ParseError 에 담는 원본 라인 최대 길이.
// 로그/샘플에 통으로 싣기엔 access log 한 줄이 수 KB 까지 갈 수 있다.
const maxLineSample = 200

// ParseError 는 한 줄 파싱 실패를 나타낸다.
// Line 은 truncate 된 원본, Reason 은 위의 reason code 중 하나.
type ParseError struct {
	Reason string
	Line   string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %q", e.Reason, e.Line)
}

func newParseError(reason string, line []byte) *ParseError {
	s := string(line)
	if len(s) > maxLineSample {
		s = s[:maxLineSample]
	}
	return &ParseError{Reason: reason, Line: s}
}

// Parse 는 access log 한 줄을 LogRecord 로 변환한다.
// 실패 시 *ParseError 를 반환하며, 그 경우 레코드는 절대 반환되지 않는다.
//
// 반환된 레코드는 pool.RecordPool 에서 가져온 객체이므로,
// 배치 전송이 끝난 후 pool.RecycleRecords 로 반환해야 한다.
func Parse(line []byte) (*model.LogRecord, error) {
	tokens, err := tokenize(line)
	if err != nil {
		return nil, err
	}
	if len(tokens) < minFields {
		return nil, newParseError(ReasonFieldCount, line)
	}

	// ---- 스칼라 필드를 모두 검증한 뒤에야 레코드를 만든다 ----
	// (중간 실패 시 부분 채워진 레코드가 새어나가지 않도록)

	ts, err := time.Parse(time.RFC3339Nano, tokens[1])
	if err != nil {
		return nil, newParseError(ReasonTimestamp, line)
	}

	reqPT, err := parseSeconds(tokens[5])
	if err != nil {
		return nil, newParseError(ReasonDuration, line)
	}
	tgtPT, err := parseSeconds(tokens[6])
	if err != nil {
		return nil, newParseError(ReasonDuration, line)
	}
	respPT, err := parseSeconds(tokens[7])
	if err != nil {
		return nil, newParseError(ReasonDuration, line)
	}

	elbStatus, err := parseStatus(tokens[8])
	if err != nil {
		return nil, newParseError(ReasonDuration, line)
	}
	tgtStatus, err := parseStatus(tokens[9])
	if err != nil {
		return nil, newParseError(ReasonDuration, line)
	}

	recvBytes, err := parseByteCount(tokens[10])
	if err != nil {
		return nil, newParseError(ReasonDuration, line)
	}
	sentBytes, err := parseByteCount(tokens[11])
	if err != nil {
		return nil, newParseError(ReasonDuration, line)
	}

	rec := pool.RecordPool.Get().(*model.LogRecord)
	pool.ResetRecord(rec)

	rec.Timestamp = ts
	rec.Type = tokens[0]
	rec.ELB = tokens[2]
	rec.Client, rec.ClientPort = splitAddr(tokens[3])
	rec.Target, rec.TargetPort = splitAddr(tokens[4])
	rec.RequestProcessingTime = reqPT
	rec.TargetProcessingTime = tgtPT
	rec.ResponseProcessingTime = respPT
	rec.ELBStatusCode = elbStatus
	rec.TargetStatusCode = tgtStatus
	rec.ReceivedBytes = recvBytes
	rec.SentBytes = sentBytes
	rec.Method, rec.URL, rec.Protocol = splitRequest(tokens[12])
	rec.UserAgent = dash(tokens[13])
	rec.SSLCipher = dash(tokens[14])
	rec.SSLProtocol = dash(tokens[15])
	rec.TargetGroupARN = dash(tokens[16])
	rec.Service = serviceFromARN(rec.TargetGroupARN)
	rec.TraceID = dash(tokens[17])
	rec.DomainName = dash(tokens[18])
	rec.ChosenCertARN = dash(tokens[19])
	rec.MatchedRulePriority = dash(tokens[20])
	rec.RequestCreationTime = dash(tokens[21])
	rec.ActionsExecuted = dash(tokens[22])
	rec.RedirectURL = dash(tokens[23])
	rec.ErrorReason = dash(tokens[24])
	rec.TargetPortList = dash(tokens[25])
	rec.TargetStatusCodeList = dash(tokens[26])
	rec.Classification = dash(tokens[27])
	rec.ClassificationReason = dash(tokens[28])

	if len(tokens) > minFields {
		rec.ConnTraceID = dash(tokens[29])
	}
	if len(tokens) > minFields+1 {
		rec.Extra = make(map[string]string, len(tokens)-minFields-1)
		for i := minFields + 1; i < len(tokens); i++ {
			rec.Extra["f"+strconv.Itoa(i)] = tokens[i]
		}
	}

	return rec, nil
}

// tokenize 는 큰따옴표를 인식하며 공백 단위로 토큰을 자른다.
// 여는 따옴표 이후의 토큰은 "닫는 따옴표 + (공백 또는 라인 끝)" 까지
// 내부 공백을 포함해 이어진다. user agent 내부의 lone quote 대응.
// 닫는 따옴표를 못 찾으면 unterminated-quote.
func tokenize(line []byte) ([]string, error) {
	tokens := make([]string, 0, minFields+2)
	i := 0
	n := len(line)

	for i < n {
		// 구분 공백 skip
		for i < n && line[i] == ' ' {
			i++
		}
		if i >= n {
			break
		}

		if line[i] == '"' {
			// quoted token
			j := i + 1
			closed := -1
			for j < n {
				if line[j] == '"' && (j+1 >= n || line[j+1] == ' ') {
					closed = j
					break
				}
				j++
			}
			if closed < 0 {
				return nil, newParseError(ReasonQuote, line)
			}
			tokens = append(tokens, string(line[i+1:closed]))
			i = closed + 1
			continue
		}

		// plain token
		j := i
		for j < n && line[j] != ' ' {
			j++
		}
		tokens = append(tokens, string(line[i:j]))
		i = j
	}

	return tokens, nil
}

// parseSeconds: 처리 시간 필드. float 초 단위, '-' 또는 "-1" 은 sentinel.
func parseSeconds(s string) (float64, error) {
	if s == "-" {
		return -1, nil
	}
	return strconv.ParseFloat(s, 64)
}

// parseStatus: 상태 코드. target 무응답 시 '-' → -1.
func parseStatus(s string) (int, error) {
	if s == "-" {
		return -1, nil
	}
	return strconv.Atoi(s)
}

func parseByteCount(s string) (int64, error) {
	if s == "-" {
		return -1, nil
	}
	return strconv.ParseInt(s, 10, 64)
}

// splitAddr: "203.0.113.9:48144" → (ip, port). IPv6 대응을 위해 마지막 ':' 기준.
// '-' (타겟 미도달) 은 빈 값 쌍.
func splitAddr(s string) (string, string) {
	if s == "-" || s == "" {
		return "", ""
	}
	if i := strings.LastIndex(s, ":"); i >= 0 {
		return s[:i], s[i+1:]
	}
	return s, ""
}

// splitRequest: `GET https://example.com:443/ HTTP/2.0` → (method, url, protocol).
// 파싱 불가 요청은 ALB 가 "- - -" 로 기록한다.
func splitRequest(s string) (string, string, string) {
	parts := strings.SplitN(s, " ", 3)
	for len(parts) < 3 {
		parts = append(parts, "")
	}
	return dash(parts[0]), dash(parts[1]), dash(parts[2])
}

// serviceFromARN: target group ARN 에서 서비스명을 추출한다.
// targetgroup/<name>/<hash> 구조에서 <name> 세그먼트.
func serviceFromARN(arn string) string {
	if arn == "" {
		return ""
	}
	parts := strings.Split(arn, "/")
	if len(parts) >= 2 {
		return parts[len(parts)-2]
	}
	return parts[len(parts)-1]
}

// dash: '-' 는 "값 없음" → 빈 문자열로 정규화.
func dash(s string) string {
	if s == "-" {
		return ""
	}
	return s
}
