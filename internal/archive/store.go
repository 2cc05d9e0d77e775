package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/conversahq/conversa-platform/pkg/logging"
)

// S3API is the subset of the S3 client used by Store.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Store archives terminal session transcripts to S3.
type Store struct {
	bucket   string
	s3Client S3API
	logger   *logging.Logger
}

// NewStore creates an archive Store. If bucket is empty, all operations are no-ops.
func NewStore(s3Client S3API, bucket string, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.Default()
	}
	return &Store{bucket: bucket, s3Client: s3Client, logger: logger}
}

// Enabled returns true if archival is configured (bucket is set).
func (s *Store) Enabled() bool {
	return s != nil && s.bucket != "" && s.s3Client != nil
}

func objectKey(record *SessionRecord, now time.Time) string {
	safeKey := strings.ReplaceAll(record.SessionKey, ":", "_")
	return fmt.Sprintf("sessions/v1/by-date/%d/%02d/%02d/%s/%s.json",
		now.Year(), now.Month(), now.Day(), record.TenantID, safeKey)
}

// ArchiveSession writes a SessionRecord as JSON to S3 and appends to the
// monthly manifest.
func (s *Store) ArchiveSession(ctx context.Context, record *SessionRecord) error {
	if !s.Enabled() {
		return nil
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("archive: marshal record: %w", err)
	}

	now := record.ArchivedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}
	s3Key := objectKey(record, now)

	_, err = s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s3Key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("archive: s3 put %s: %w", s3Key, err)
	}

	s.logger.Info("archived session to S3",
		"tenant_id", record.TenantID,
		"session_key", record.SessionKey,
		"s3_key", s3Key,
		"turn_count", record.TurnCount,
		"outcome", record.Outcome,
	)

	entry := ManifestEntry{
		TenantID:   record.TenantID,
		SessionKey: record.SessionKey,
		S3Key:      s3Key,
		Outcome:    record.Outcome,
		ArchivedAt: now.Format(time.RFC3339),
		TurnCount:  record.TurnCount,
	}
	if err := s.AppendManifest(ctx, entry); err != nil {
		// The record itself is already archived.
		s.logger.Warn("failed to append manifest", "error", err, "session_key", record.SessionKey)
	}

	return nil
}

// AppendManifest appends a JSONL line to the monthly manifest file.
// Uses read-modify-write since S3 doesn't support append.
func (s *Store) AppendManifest(ctx context.Context, entry ManifestEntry) error {
	if !s.Enabled() {
		return nil
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("archive: marshal manifest entry: %w", err)
	}

	now := time.Now().UTC()
	manifestKey := fmt.Sprintf("sessions/v1/manifests/%d-%02d.jsonl", now.Year(), now.Month())

	var existing []byte
	getResp, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(manifestKey),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			s.logger.Debug("manifest not found, creating new", "key", manifestKey)
		}
	} else {
		existing, _ = io.ReadAll(getResp.Body)
		_ = getResp.Body.Close()
	}

	var buf bytes.Buffer
	if len(existing) > 0 {
		buf.Write(existing)
		if existing[len(existing)-1] != '\n' {
			buf.WriteByte('\n')
		}
	}
	buf.Write(line)
	buf.WriteByte('\n')

	_, err = s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(manifestKey),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("archive: s3 put manifest %s: %w", manifestKey, err)
	}
	return nil
}

// GetSession fetches an archived record by its S3 key.
func (s *Store) GetSession(ctx context.Context, s3Key string) (*SessionRecord, error) {
	if !s.Enabled() {
		return nil, fmt.Errorf("archive: store not enabled")
	}

	resp, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s3Key),
	})
	if err != nil {
		return nil, fmt.Errorf("archive: s3 get %s: %w", s3Key, err)
	}
	defer func() { _ = resp.Body.Close() }()

	var record SessionRecord
	if err := json.NewDecoder(resp.Body).Decode(&record); err != nil {
		return nil, fmt.Errorf("archive: decode record: %w", err)
	}
	return &record, nil
}
