package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ignite/signals-agent/internal/catalog"
	"github.com/ignite/signals-agent/internal/pkg/logger"
)

// S3SnapshotStore exports a summary of every successful sync run to S3, so
// catalog growth and provider mix can be tracked over time without querying
// each deployment's local store.
type S3SnapshotStore struct {
	client *s3.Client
	bucket string
}

// snapshotPayload is the JSON structure stored in S3.
type snapshotPayload struct {
	RunID           string         `json:"run_id"`
	CompletedAt     time.Time      `json:"completed_at"`
	TotalSegments   int            `json:"total_segments"`
	DurationSeconds float64        `json:"duration_seconds"`
	Providers       map[string]int `json:"providers"`
}

// NewS3SnapshotStore creates an S3-backed snapshot store.
func NewS3SnapshotStore(ctx context.Context, bucket, region string) (*S3SnapshotStore, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config for snapshot store: %w", err)
	}

	return &S3SnapshotStore{
		client: s3.NewFromConfig(cfg),
		bucket: bucket,
	}, nil
}

func (ss *S3SnapshotStore) s3Key(run *catalog.SyncRun) string {
	day := run.StartedAt.UTC().Format("2006-01-02")
	return fmt.Sprintf("catalog-snapshots/%s/run-%s.json", day, run.ID)
}

// Save writes a run summary to S3.
func (ss *S3SnapshotStore) Save(ctx context.Context, run *catalog.SyncRun, providers map[string]int) error {
	key := ss.s3Key(run)

	payload := snapshotPayload{
		RunID:           run.ID,
		TotalSegments:   run.TotalSegments,
		DurationSeconds: run.DurationSeconds,
		Providers:       providers,
	}
	if run.CompletedAt != nil {
		payload.CompletedAt = *run.CompletedAt
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling snapshot payload: %w", err)
	}

	contentType := "application/json"
	_, err = ss.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(ss.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: &contentType,
	})
	if err != nil {
		return fmt.Errorf("S3 PutObject %s/%s: %w", ss.bucket, key, err)
	}

	logger.Info("catalog snapshot exported",
		"key", key, "segments", run.TotalSegments, "bytes", len(body))
	return nil
}

// Load retrieves a previously exported snapshot by run. Returns nil (not an
// error) when the object does not exist.
func (ss *S3SnapshotStore) Load(ctx context.Context, run *catalog.SyncRun) (map[string]int, error) {
	key := ss.s3Key(run)

	resp, err := ss.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(ss.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("S3 GetObject %s/%s: %w", ss.bucket, key, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading S3 object body: %w", err)
	}

	var payload snapshotPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("unmarshaling snapshot payload: %w", err)
	}
	return payload.Providers, nil
}

// isNotFound checks whether an S3 error indicates a missing object.
// AWS SDK v2 surfaces these as errors containing NoSuchKey or NotFound.
func isNotFound(err error) bool {
	s := err.Error()
	for _, keyword := range []string{"NoSuchKey", "NotFound", "404"} {
		if strings.Contains(s, keyword) {
			return true
		}
	}
	return false
}
