// internal/fetch/s3.go
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"alblog-bridge/internal/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsCfgLib "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/klauspost/compress/gzip"
)

// Fetcher 는 트리거가 가리키는 로그 오브젝트의 바이트 스트림을 가져온다.
// ALB 는 access log 를 gzip 으로 저장하므로 (.gz key),
// 여기서 투명하게 해제해 파이프라인에는 평문 스트림만 넘긴다.
type Fetcher struct {
	cfg    config.Config
	client *s3.Client
}

// 오브젝트를 가져올 수 없는 경우 — run 은 파싱 시작 전에 중단된다.
var (
	ErrNotFound     = errors.New("fetch: object not found")
	ErrAccessDenied = errors.New("fetch: access denied")
)

// New 는 AWS SDK Config 를 초기화하고 S3 client 를 생성한다.
// 실패 시 fatal 로그 후 즉시 종료한다 (운영 환경에서는 필수).
func New(cfg config.Config) *Fetcher {
	awsCfg, err := awsCfgLib.LoadDefaultConfig(
		context.TODO(),
		awsCfgLib.WithRegion(cfg.AWSRegion),
	)
	if err != nil {
		log.Fatalf("[FATAL] failed to load AWS config: %v", err)
	}

	return &Fetcher{
		cfg:    cfg,
		client: s3.NewFromConfig(awsCfg),
	}
}

// Fetch 는 오브젝트 바디를 스트림으로 반환한다.
// caller 가 Close 책임을 진다. NotFound / AccessDenied 는 sentinel 로
// 구분되며 둘 다 run 전체에 대해 fatal 이다.
func (f *Fetcher) Fetch(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	out, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, classify(err, bucket, key)
	}

	// .gz 오브젝트는 해제해서 넘긴다. ContentEncoding 으로 내려오는
	// 경우도 같이 처리.
	if strings.HasSuffix(key, ".gz") || aws.ToString(out.ContentEncoding) == "gzip" {
		gz, err := gzip.NewReader(out.Body)
		if err != nil {
			out.Body.Close()
			return nil, fmt.Errorf("fetch: gzip header s3://%s/%s: %w", bucket, key, err)
		}
		return &gzipBody{gz: gz, raw: out.Body}, nil
	}

	return out.Body, nil
}

// classify 는 SDK 오류를 sentinel 로 정규화한다.
func classify(err error, bucket, key string) error {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return fmt.Errorf("fetch: s3://%s/%s: %w", bucket, key, ErrNotFound)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket":
			return fmt.Errorf("fetch: s3://%s/%s: %w", bucket, key, ErrNotFound)
		case "AccessDenied":
			return fmt.Errorf("fetch: s3://%s/%s: %w", bucket, key, ErrAccessDenied)
		}
	}

	return fmt.Errorf("fetch: s3://%s/%s: %w", bucket, key, err)
}

// gzipBody 는 gzip reader 와 원본 바디를 함께 닫는다.
type gzipBody struct {
	gz  *gzip.Reader
	raw io.ReadCloser
}

func (g *gzipBody) Read(p []byte) (int, error) { return g.gz.Read(p) }

func (g *gzipBody) Close() error {
	gerr := g.gz.Close()
	rerr := g.raw.Close()
	if gerr != nil {
		return gerr
	}
	return rerr
}
