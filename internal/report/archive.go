package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"path"
	"time"

	"qguard/internal/runner"
	"qguard/pkg/logging"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIOConfig describes the object store reports are archived to.
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
	Prefix    string
}

// Archiver uploads run reports as <prefix>/<id>.json.
type Archiver struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewMinIOClient creates a client for cfg.
func NewMinIOClient(cfg MinIOConfig) (*minio.Client, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("minio endpoint and bucket are required")
	}
	return minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	})
}

// NewArchiver creates an archiver writing to bucket.
func NewArchiver(client *minio.Client, bucket, prefix string) *Archiver {
	return &Archiver{client: client, bucket: bucket, prefix: prefix}
}

// EnsureBucket creates the bucket if it does not exist yet.
func (a *Archiver) EnsureBucket(ctx context.Context, region string) error {
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", a.bucket, err)
	}
	if exists {
		return nil
	}
	if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{Region: region}); err != nil {
		return fmt.Errorf("create bucket %s: %w", a.bucket, err)
	}
	logging.Info("Archiver", "Created bucket %s", a.bucket)
	return nil
}

// ObjectKey returns the key a report for id is stored under.
func (a *Archiver) ObjectKey(id string) string {
	return path.Join(a.prefix, id+".json")
}

// Archive uploads the {summary, details} document of run.
func (a *Archiver) Archive(ctx context.Context, id string, run *runner.Run) error {
	payload, err := json.Marshal(struct {
		Summary runner.Summary           `json:"summary"`
		Details []runner.ExecutionResult `json:"details"`
	}{run.Summary, run.Results})
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	key := a.ObjectKey(id)
	_, err = a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(payload), int64(len(payload)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return fmt.Errorf("upload %s/%s: %w", a.bucket, key, err)
	}
	logging.Debug("Archiver", "Archived report %s/%s (%d bytes)", a.bucket, key, len(payload))
	return nil
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxIdleConns:          20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}
