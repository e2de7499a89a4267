// Package storage holds the archive gateway implementations. Workspace
// archives of aborted or completed executions go to S3 in production and
// to a local directory or an in-memory mock otherwise.
//
// Bucket layout: s3://<bucket>/<prefix>/archives/<executionID>/<archiveID>/
//   - content.tar.gz: tarball of the workspace's changed files
//   - metadata.json: archive metadata
package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/oklog/ulid/v2"

	"github.com/hmiyata/weave/internal/application/port/output"
)

const (
	contentObjectName  = "content.tar.gz"
	metadataObjectName = "metadata.json"
)

// S3ArchiveGateway implements output.ArchiveGateway on AWS S3
type S3ArchiveGateway struct {
	client S3API
	bucket string
	prefix string
}

// S3Config holds the S3 archive gateway configuration
type S3Config struct {
	Bucket string // bucket name
	Prefix string // optional key prefix, e.g. "weave/prod"
	Region string // AWS region; empty uses the default chain
}

// NewS3ArchiveGateway creates an archive gateway backed by a real bucket
func NewS3ArchiveGateway(ctx context.Context, cfg S3Config) (*S3ArchiveGateway, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive bucket is required")
	}
	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	if cfg.Region != "" {
		awsCfg.Region = cfg.Region
	}
	return NewS3ArchiveGatewayWithClient(s3.NewFromConfig(awsCfg), cfg.Bucket, cfg.Prefix), nil
}

// NewS3ArchiveGatewayWithClient injects the client; used by tests
func NewS3ArchiveGatewayWithClient(client S3API, bucket, prefix string) *S3ArchiveGateway {
	return &S3ArchiveGateway{client: client, bucket: bucket, prefix: prefix}
}

// SaveArchive uploads the archive content plus a metadata object
func (g *S3ArchiveGateway) SaveArchive(ctx context.Context, req output.SaveArchiveRequest) (*output.ArchiveMetadata, error) {
	if req.ExecutionID == "" {
		return nil, fmt.Errorf("execution id is required")
	}

	checksum := sha256.Sum256(req.Content)
	meta := &output.ArchiveMetadata{
		ArchiveID:   ulid.Make().String(),
		ExecutionID: req.ExecutionID,
		Reason:      req.Reason,
		Size:        int64(len(req.Content)),
		Checksum:    hex.EncodeToString(checksum[:]),
		Metadata:    req.Metadata,
		CreatedAt:   time.Now().UTC(),
	}

	contentKey := g.key("archives", req.ExecutionID, meta.ArchiveID, contentObjectName)
	_, err := g.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(g.bucket),
		Key:         aws.String(contentKey),
		Body:        bytes.NewReader(req.Content),
		ContentType: aws.String("application/gzip"),
		Metadata: map[string]string{
			"archive-id":   meta.ArchiveID,
			"execution-id": meta.ExecutionID,
			"reason":       meta.Reason,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("upload archive content: %w", err)
	}

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshal archive metadata: %w", err)
	}
	metaKey := g.key("archives", req.ExecutionID, meta.ArchiveID, metadataObjectName)
	_, err = g.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(g.bucket),
		Key:         aws.String(metaKey),
		Body:        bytes.NewReader(metaJSON),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return nil, fmt.Errorf("upload archive metadata: %w", err)
	}

	return meta, nil
}

// LoadArchive fetches content and metadata and verifies the checksum
func (g *S3ArchiveGateway) LoadArchive(ctx context.Context, archiveID string) (*output.Archive, error) {
	metaKey, err := g.findMetadataKey(ctx, archiveID)
	if err != nil {
		return nil, err
	}

	meta, err := g.readMetadata(ctx, metaKey)
	if err != nil {
		return nil, err
	}

	contentKey := strings.TrimSuffix(metaKey, metadataObjectName) + contentObjectName
	obj, err := g.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(contentKey),
	})
	if err != nil {
		return nil, fmt.Errorf("download archive content: %w", err)
	}
	defer obj.Body.Close()

	content, err := io.ReadAll(obj.Body)
	if err != nil {
		return nil, fmt.Errorf("read archive content: %w", err)
	}

	checksum := sha256.Sum256(content)
	if got := hex.EncodeToString(checksum[:]); got != meta.Checksum {
		return nil, fmt.Errorf("archive %s checksum mismatch: stored %s, computed %s", archiveID, meta.Checksum, got)
	}

	return &output.Archive{Metadata: meta, Content: content}, nil
}

// ListArchives lists archive metadata for one execution
func (g *S3ArchiveGateway) ListArchives(ctx context.Context, executionID string) ([]*output.ArchiveMetadata, error) {
	prefix := g.key("archives", executionID) + "/"
	listOut, err := g.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(g.bucket),
		Prefix: aws.String(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("list archives for %s: %w", executionID, err)
	}

	var metas []*output.ArchiveMetadata
	for _, obj := range listOut.Contents {
		key := aws.ToString(obj.Key)
		if !strings.HasSuffix(key, metadataObjectName) {
			continue
		}
		meta, err := g.readMetadata(ctx, key)
		if err != nil {
			// An archive mid-upload may have content but no readable
			// metadata yet; skip it.
			continue
		}
		metas = append(metas, meta)
	}
	return metas, nil
}

// DeleteArchive removes the content and metadata objects
func (g *S3ArchiveGateway) DeleteArchive(ctx context.Context, archiveID string) error {
	metaKey, err := g.findMetadataKey(ctx, archiveID)
	if err != nil {
		return err
	}
	contentKey := strings.TrimSuffix(metaKey, metadataObjectName) + contentObjectName

	for _, key := range []string{contentKey, metaKey} {
		_, err := g.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(g.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return fmt.Errorf("delete %s: %w", key, err)
		}
	}
	return nil
}

// findMetadataKey locates an archive's metadata object by archive id
func (g *S3ArchiveGateway) findMetadataKey(ctx context.Context, archiveID string) (string, error) {
	prefix := g.key("archives") + "/"
	listOut, err := g.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(g.bucket),
		Prefix: aws.String(prefix),
	})
	if err != nil {
		return "", fmt.Errorf("list archives: %w", err)
	}
	suffix := "/" + archiveID + "/" + metadataObjectName
	for _, obj := range listOut.Contents {
		key := aws.ToString(obj.Key)
		if strings.HasSuffix(key, suffix) {
			return key, nil
		}
	}
	return "", fmt.Errorf("archive not found: %s", archiveID)
}

func (g *S3ArchiveGateway) readMetadata(ctx context.Context, key string) (*output.ArchiveMetadata, error) {
	obj, err := g.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("download archive metadata: %w", err)
	}
	defer obj.Body.Close()

	raw, err := io.ReadAll(obj.Body)
	if err != nil {
		return nil, fmt.Errorf("read archive metadata: %w", err)
	}
	var meta output.ArchiveMetadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("unmarshal archive metadata: %w", err)
	}
	return &meta, nil
}

func (g *S3ArchiveGateway) key(parts ...string) string {
	if g.prefix != "" {
		parts = append([]string{g.prefix}, parts...)
	}
	return path.Join(parts...)
}
