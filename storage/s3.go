package storage

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Config holds the settings needed to reach an S3-compatible store.
// Endpoint and UsePathStyle make it work against minio and friends.
type S3Config struct {
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	Bucket       string
	PollInterval time.Duration
	UsePathStyle bool
}

// S3Backend adapts an S3-compatible object store to the Backend contract.
//
// S3 has no change-history API, so the adapter approximates one: cursors
// carry a last-modified high-water mark, deletions leave tombstone objects
// under a reserved ".tomb/" prefix so they remain visible to pollers, and
// LongPoll is bounded interval polling. Because S3 timestamps have second
// granularity the cursor also remembers the keys seen at the watermark;
// delivery is at-least-once, which the sync engine absorbs (last write wins
// per record).
type S3Backend struct {
	client       *s3.Client
	bucket       string
	pollInterval time.Duration
}

const (
	dirMarkerName = ".dir"
	tombPrefix    = ".tomb/"
)

// NewS3Backend builds an S3 client from cfg. Static credentials and a custom
// base endpoint are supported for self-hosted deployments.
func NewS3Backend(ctx context.Context, cfg S3Config) (*S3Backend, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &S3Backend{client: client, bucket: cfg.Bucket, pollInterval: interval}, nil
}

func (b *S3Backend) key(path, name string) string {
	return path + "/" + name
}

func (b *S3Backend) exists(ctx context.Context, key string) (bool, error) {
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return false, nil
		}
		return false, fmt.Errorf("head %q: %w", key, err)
	}
	return true, nil
}

func (b *S3Backend) put(ctx context.Context, key string, data []byte) error {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("put %q: %w", key, err)
	}
	return nil
}

func (b *S3Backend) CreateDirectory(ctx context.Context, path string) error {
	ok, err := b.exists(ctx, b.key(path, dirMarkerName))
	if err != nil {
		return err
	}
	if ok {
		return fmt.Errorf("create directory %q: %w", path, ErrAlreadyExists)
	}
	return b.put(ctx, b.key(path, dirMarkerName), nil)
}

func (b *S3Backend) GetOrCreateSharedLink(ctx context.Context, path string) (SharedLink, error) {
	ok, err := b.exists(ctx, b.key(path, dirMarkerName))
	if err != nil {
		return "", err
	}
	if !ok {
		if err := b.put(ctx, b.key(path, dirMarkerName), nil); err != nil {
			return "", err
		}
	}
	return SharedLink("s3://" + b.bucket + "/" + path), nil
}

func (b *S3Backend) DeleteDirectory(ctx context.Context, path string) error {
	var deleted int
	var token *string
	for {
		out, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(b.bucket),
			Prefix:            aws.String(path + "/"),
			ContinuationToken: token,
		})
		if err != nil {
			return fmt.Errorf("list %q: %w", path, err)
		}
		if len(out.Contents) == 0 {
			break
		}
		ids := make([]types.ObjectIdentifier, 0, len(out.Contents))
		for _, obj := range out.Contents {
			ids = append(ids, types.ObjectIdentifier{Key: obj.Key})
		}
		_, err = b.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(b.bucket),
			Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return fmt.Errorf("delete objects in %q: %w", path, err)
		}
		deleted += len(ids)
		if out.IsTruncated == nil || !*out.IsTruncated {
			break
		}
		token = out.NextContinuationToken
	}
	if deleted == 0 {
		return fmt.Errorf("delete directory %q: %w", path, ErrNotFound)
	}
	return nil
}

func (b *S3Backend) Upload(ctx context.Context, path, name string, data []byte) error {
	if err := b.put(ctx, b.key(path, name), data); err != nil {
		return err
	}
	// Clear any tombstone so pollers see the re-created file, not the
	// stale deletion. DeleteObject on a missing key is a no-op in S3.
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(path, tombPrefix+name)),
	})
	if err != nil {
		return fmt.Errorf("clear tombstone for %q: %w", name, err)
	}
	return nil
}

func (b *S3Backend) Delete(ctx context.Context, path, name string) error {
	ok, err := b.exists(ctx, b.key(path, name))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("delete %q: %w", name, ErrNotFound)
	}
	if err := b.put(ctx, b.key(path, tombPrefix+name), nil); err != nil {
		return err
	}
	_, err = b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(path, name)),
	})
	if err != nil {
		return fmt.Errorf("delete %q: %w", name, err)
	}
	return nil
}

func (b *S3Backend) Download(ctx context.Context, link SharedLink, name string) ([]byte, error) {
	path, err := b.linkPath(link)
	if err != nil {
		return nil, err
	}
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(path, name)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("download %q: %w", name, ErrNotFound)
		}
		return nil, fmt.Errorf("download %q: %w", name, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("download %q: %w", name, err)
	}
	return data, nil
}

func (b *S3Backend) linkPath(link SharedLink) (string, error) {
	prefix := "s3://" + b.bucket + "/"
	if !strings.HasPrefix(string(link), prefix) {
		return "", fmt.Errorf("shared link %q: %w", link, ErrNotFound)
	}
	return strings.TrimPrefix(string(link), prefix), nil
}

func (b *S3Backend) ListInitial(ctx context.Context, link SharedLink) (Page, error) {
	path, err := b.linkPath(link)
	if err != nil {
		return Page{}, err
	}
	ok, err := b.exists(ctx, b.key(path, dirMarkerName))
	if err != nil {
		return Page{}, err
	}
	if !ok {
		return Page{}, fmt.Errorf("list %q: %w", path, ErrNotFound)
	}
	return b.listPage(ctx, path, nil, s3Watermark{})
}

// listPage maps one ListObjectsV2 page onto a listing Page, advancing the
// last-modified watermark across pagination.
func (b *S3Backend) listPage(ctx context.Context, path string, token *string, mark s3Watermark) (Page, error) {
	out, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:            aws.String(b.bucket),
		Prefix:            aws.String(path + "/"),
		ContinuationToken: token,
	})
	if err != nil {
		return Page{}, fmt.Errorf("list %q: %w", path, err)
	}
	var entries []Entry
	for _, obj := range out.Contents {
		name := strings.TrimPrefix(aws.ToString(obj.Key), path+"/")
		if obj.LastModified != nil {
			mark.observe(aws.ToString(obj.Key), *obj.LastModified)
		}
		if name == dirMarkerName || strings.HasPrefix(name, tombPrefix) {
			continue
		}
		entries = append(entries, Entry{Name: name, Kind: EntryFile, Downloadable: true})
	}
	if out.IsTruncated != nil && *out.IsTruncated {
		return Page{
			Cursor:  encodeTokenCursor(path, aws.ToString(out.NextContinuationToken), mark),
			HasMore: true,
			Entries: entries,
		}, nil
	}
	return Page{Cursor: encodeLiveCursor(path, mark), HasMore: false, Entries: entries}, nil
}

func (b *S3Backend) ListContinue(ctx context.Context, cursor string) (Page, error) {
	cur, err := decodeS3Cursor(cursor)
	if err != nil {
		return Page{}, err
	}
	if cur.token != "" {
		return b.listPage(ctx, cur.path, aws.String(cur.token), cur.mark)
	}
	entries, mark, err := b.changesSince(ctx, cur.path, cur.mark)
	if err != nil {
		return Page{}, err
	}
	return Page{Cursor: encodeLiveCursor(cur.path, mark), HasMore: false, Entries: entries}, nil
}

// changesSince lists the whole prefix and keeps objects newer than the
// watermark. Tombstones map to deletion entries.
func (b *S3Backend) changesSince(ctx context.Context, path string, mark s3Watermark) ([]Entry, s3Watermark, error) {
	next := mark
	var entries []Entry
	var token *string
	for {
		out, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(b.bucket),
			Prefix:            aws.String(path + "/"),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, next, fmt.Errorf("list %q: %w", path, err)
		}
		for _, obj := range out.Contents {
			key := aws.ToString(obj.Key)
			if obj.LastModified == nil || !mark.newer(key, *obj.LastModified) {
				continue
			}
			next.observe(key, *obj.LastModified)
			name := strings.TrimPrefix(key, path+"/")
			switch {
			case name == dirMarkerName:
			case strings.HasPrefix(name, tombPrefix):
				entries = append(entries, Entry{Name: strings.TrimPrefix(name, tombPrefix), Kind: EntryDeleted})
			default:
				entries = append(entries, Entry{Name: name, Kind: EntryFile, Downloadable: true})
			}
		}
		if out.IsTruncated == nil || !*out.IsTruncated {
			return entries, next, nil
		}
		token = out.NextContinuationToken
	}
}

func (b *S3Backend) LongPoll(ctx context.Context, cursor string, timeout time.Duration) (Poll, error) {
	cur, err := decodeS3Cursor(cursor)
	if err != nil {
		return Poll{}, err
	}
	if cur.token != "" {
		return Poll{}, fmt.Errorf("long poll on pagination cursor %q", cursor)
	}
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()
	for {
		entries, _, err := b.changesSince(ctx, cur.path, cur.mark)
		if err != nil {
			return Poll{}, err
		}
		if len(entries) > 0 {
			return Poll{Changes: true}, nil
		}
		if time.Now().After(deadline) {
			return Poll{Changes: false}, nil
		}
		select {
		case <-ctx.Done():
			return Poll{}, context.Cause(ctx)
		case <-ticker.C:
		}
	}
}

// s3Watermark is the change-feed position: the newest LastModified seen plus
// the object keys carrying exactly that timestamp. S3 timestamps have second
// granularity, so the key set is what keeps delivery from dropping or
// endlessly repeating same-second writes.
type s3Watermark struct {
	at   time.Time
	keys []string
}

func (m *s3Watermark) observe(key string, lm time.Time) {
	switch {
	case lm.After(m.at):
		m.at = lm
		m.keys = []string{key}
	case lm.Equal(m.at):
		for _, k := range m.keys {
			if k == key {
				return
			}
		}
		m.keys = append(m.keys, key)
	}
}

// newer reports whether an object is past the watermark.
func (m *s3Watermark) newer(key string, lm time.Time) bool {
	if lm.After(m.at) {
		return true
	}
	if !lm.Equal(m.at) {
		return false
	}
	for _, k := range m.keys {
		if k == key {
			return false
		}
	}
	return true
}

type s3Cursor struct {
	path  string
	token string
	mark  s3Watermark
}

func b64(s string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(s))
}

func unb64(s string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func encodeMark(mark s3Watermark) string {
	parts := make([]string, 0, len(mark.keys)+1)
	parts = append(parts, strconv.FormatInt(mark.at.UnixNano(), 10))
	for _, k := range mark.keys {
		parts = append(parts, b64(k))
	}
	return strings.Join(parts, ",")
}

func decodeMark(s string) (s3Watermark, error) {
	parts := strings.Split(s, ",")
	nanos, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return s3Watermark{}, err
	}
	mark := s3Watermark{at: time.Unix(0, nanos).UTC()}
	for _, p := range parts[1:] {
		key, err := unb64(p)
		if err != nil {
			return s3Watermark{}, err
		}
		mark.keys = append(mark.keys, key)
	}
	return mark, nil
}

func encodeTokenCursor(path, token string, mark s3Watermark) string {
	return "tok:" + b64(path) + ":" + b64(token) + ":" + encodeMark(mark)
}

func encodeLiveCursor(path string, mark s3Watermark) string {
	return "ts:" + b64(path) + ":" + encodeMark(mark)
}

func decodeS3Cursor(cursor string) (s3Cursor, error) {
	parts := strings.Split(cursor, ":")
	malformed := fmt.Errorf("malformed cursor %q", cursor)
	switch {
	case len(parts) == 4 && parts[0] == "tok":
		path, err := unb64(parts[1])
		if err != nil {
			return s3Cursor{}, malformed
		}
		token, err := unb64(parts[2])
		if err != nil {
			return s3Cursor{}, malformed
		}
		mark, err := decodeMark(parts[3])
		if err != nil {
			return s3Cursor{}, malformed
		}
		return s3Cursor{path: path, token: token, mark: mark}, nil
	case len(parts) == 3 && parts[0] == "ts":
		path, err := unb64(parts[1])
		if err != nil {
			return s3Cursor{}, malformed
		}
		mark, err := decodeMark(parts[2])
		if err != nil {
			return s3Cursor{}, malformed
		}
		return s3Cursor{path: path, mark: mark}, nil
	default:
		return s3Cursor{}, malformed
	}
}
