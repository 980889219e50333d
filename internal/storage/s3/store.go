// Package s3 stores features and spaces as JSON objects in an S3-compatible
// bucket (AWS S3 or MinIO).
//
// Layout:
//
//	features/{space}/{id}/{version}.json   one object per feature version
//	features/{space}/{id}/head.json        head pointer
//	spaces/{id}.json                       space definitions
//
// The head pointer is replaced with a conditional put on its ETag, so two
// writers racing on the same feature cannot both win.
package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/heremaps/xyz-hub-sub003/internal/core/domain"
	"github.com/heremaps/xyz-hub-sub003/internal/core/ports"
	"github.com/heremaps/xyz-hub-sub003/internal/storage"
)

const backend = "s3"

// API is the subset of the S3 client the store uses.
type API interface {
	GetObject(ctx context.Context, in *awss3.GetObjectInput, optFns ...func(*awss3.Options)) (*awss3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *awss3.PutObjectInput, optFns ...func(*awss3.Options)) (*awss3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *awss3.DeleteObjectInput, optFns ...func(*awss3.Options)) (*awss3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *awss3.ListObjectsV2Input, optFns ...func(*awss3.Options)) (*awss3.ListObjectsV2Output, error)
}

// Config holds the bucket coordinates. Credentials fall back to the default
// AWS chain when the keys are empty.
type Config struct {
	Bucket          string
	Region          string
	Endpoint        string // optional; enables a custom endpoint (e.g. MinIO)
	AccessKeyID     string
	SecretAccessKey string
	PathStyle       bool
	// Prefix is prepended to every object key, so one bucket can hold
	// several hubs.
	Prefix string
}

// Store implements ports.Store on S3.
type Store struct {
	client API
	bucket string
	prefix string
}

var _ ports.Store = (*Store)(nil)

// New creates an S3 store from cfg.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	client := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	store := NewWithClient(client, cfg.Bucket)
	store.prefix = strings.TrimSuffix(cfg.Prefix, "/")
	if store.prefix != "" {
		store.prefix += "/"
	}
	return store, nil
}

// NewWithClient creates a store on an existing client.
func NewWithClient(client API, bucket string) *Store {
	return &Store{client: client, bucket: bucket}
}

// head is the content of a head pointer object.
type head struct {
	Version int64 `json:"version"`
	Deleted bool  `json:"deleted,omitempty"`
}

// latest returns the highest version ever written, 0 for a new feature.
func (h *head) latest() int64 {
	if h == nil {
		return 0
	}
	return h.Version
}

// headVersion returns the live version, or NoVersion when absent or deleted.
func (h *head) headVersion() int64 {
	if h == nil || h.Deleted {
		return domain.NoVersion
	}
	return h.Version
}

func featurePrefix(spaceID string) string {
	return "features/" + url.PathEscape(spaceID) + "/"
}

func featureKey(spaceID, id string) string {
	return featurePrefix(spaceID) + url.PathEscape(id) + "/"
}

func versionKey(spaceID, id string, version int64) string {
	return fmt.Sprintf("%s%d.json", featureKey(spaceID, id), version)
}

func headKey(spaceID, id string) string {
	return featureKey(spaceID, id) + "head.json"
}

func spaceKey(id string) string {
	return "spaces/" + url.PathEscape(id) + ".json"
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && (apiErr.ErrorCode() == "NotFound" || apiErr.ErrorCode() == "NoSuchKey")
}

func isPreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) &&
		(apiErr.ErrorCode() == "PreconditionFailed" || apiErr.ErrorCode() == "ConditionalRequestConflict")
}

// get reads an object. A missing object yields nil data and no error.
func (s *Store) get(ctx context.Context, key string) ([]byte, string, error) {
	out, err := s.client.GetObject(ctx, &awss3.GetObjectInput{Bucket: &s.bucket, Key: aws.String(s.prefix + key)})
	if isNotFound(err) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to get %s: %w", key, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read %s: %w", key, err)
	}
	return data, aws.ToString(out.ETag), nil
}

func (s *Store) put(ctx context.Context, key string, data []byte, mutate func(*awss3.PutObjectInput)) error {
	in := &awss3.PutObjectInput{
		Bucket:      &s.bucket,
		Key:         aws.String(s.prefix + key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	}
	if mutate != nil {
		mutate(in)
	}
	_, err := s.client.PutObject(ctx, in)
	return err
}

func (s *Store) remove(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &awss3.DeleteObjectInput{Bucket: &s.bucket, Key: aws.String(s.prefix + key)})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// list returns the keys below prefix, relative to the store prefix.
func (s *Store) list(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	var token *string
	full := s.prefix + prefix
	for {
		out, err := s.client.ListObjectsV2(ctx, &awss3.ListObjectsV2Input{Bucket: &s.bucket, Prefix: &full, ContinuationToken: token})
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", prefix, err)
		}
		for _, obj := range out.Contents {
			keys = append(keys, strings.TrimPrefix(aws.ToString(obj.Key), s.prefix))
		}
		if aws.ToBool(out.IsTruncated) && out.NextContinuationToken != nil {
			token = out.NextContinuationToken
			continue
		}
		break
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *Store) readHead(ctx context.Context, spaceID, id string) (*head, string, error) {
	data, etag, err := s.get(ctx, headKey(spaceID, id))
	if err != nil || data == nil {
		return nil, "", err
	}
	var h head
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, "", fmt.Errorf("invalid head pointer of feature %s: %w", id, err)
	}
	return &h, etag, nil
}

func (s *Store) readVersion(ctx context.Context, spaceID, id string, version int64) (*domain.Feature, error) {
	data, _, err := s.get(ctx, versionKey(spaceID, id, version))
	if err != nil || data == nil {
		return nil, err
	}
	return domain.ParseFeature(data)
}

func (s *Store) LoadFeatures(ctx context.Context, spaceID string, refs []ports.FeatureRef) ([]*domain.Feature, error) {
	defer storage.Observe(backend, "load")()

	var out []*domain.Feature
	for _, ref := range refs {
		version := ref.Version
		if version == domain.NoVersion {
			h, _, err := s.readHead(ctx, spaceID, ref.ID)
			if err != nil {
				return nil, err
			}
			if h == nil || h.Deleted {
				continue
			}
			version = h.Version
		}
		f, err := s.readVersion(ctx, spaceID, ref.ID, version)
		if err != nil {
			return nil, err
		}
		if f != nil {
			out = append(out, f)
		}
	}
	return out, nil
}

func (s *Store) CountFeatures(ctx context.Context, spaceID string) (int64, error) {
	keys, err := s.list(ctx, featurePrefix(spaceID))
	if err != nil {
		return 0, err
	}
	var n int64
	for _, key := range keys {
		if !strings.HasSuffix(key, "/head.json") {
			continue
		}
		data, _, err := s.get(ctx, key)
		if err != nil {
			return 0, err
		}
		var h head
		if data != nil && json.Unmarshal(data, &h) == nil && !h.Deleted {
			n++
		}
	}
	return n, nil
}

func (s *Store) WriteFeatures(ctx context.Context, req *ports.WriteRequest) (*ports.WriteResult, error) {
	defer storage.Observe(backend, "write")()

	changes := storage.Plan(req)
	res := &ports.WriteResult{}
	if req.Atomic {
		// Objects cannot be written in one transaction. Checking every change
		// first narrows the window; the conditional puts still catch a race.
		for _, c := range changes {
			id := c.Feature.ID()
			h, _, err := s.readHead(ctx, req.SpaceID, id)
			if err != nil {
				return nil, err
			}
			if msg := storage.Check(c, h.headVersion()); msg != "" {
				res.Failed = append(res.Failed, ports.WriteFailure{ID: id, Message: msg})
			}
		}
		if len(res.Failed) > 0 {
			return res, nil
		}
	}
	for _, c := range changes {
		id := c.Feature.ID()
		h, etag, err := s.readHead(ctx, req.SpaceID, id)
		if err != nil {
			return nil, err
		}
		if msg := storage.Check(c, h.headVersion()); msg != "" {
			res.Failed = append(res.Failed, ports.WriteFailure{ID: id, Message: msg})
			continue
		}

		written, err := s.apply(ctx, req, c, h.latest(), etag)
		if isPreconditionFailed(err) {
			res.Failed = append(res.Failed, ports.WriteFailure{ID: id, Message: fmt.Sprintf("feature %s was modified concurrently", id)})
			continue
		}
		if err != nil {
			return nil, err
		}
		storage.Record(res, c, written)
	}
	return res, nil
}

// apply writes one change and moves the head pointer from etag.
func (s *Store) apply(ctx context.Context, req *ports.WriteRequest, c storage.Change, latest int64, etag string) (*domain.Feature, error) {
	id := c.Feature.ID()
	next := head{Version: latest + 1, Deleted: c.Kind == storage.ChangeDelete}
	guard := func(in *awss3.PutObjectInput) {
		if etag == "" {
			in.IfNoneMatch = aws.String("*")
		} else {
			in.IfMatch = aws.String(etag)
		}
	}

	if next.Deleted && !req.History {
		if err := s.guardedDelete(ctx, req.SpaceID, id, guard); err != nil {
			return nil, err
		}
		return nil, nil
	}

	var written *domain.Feature
	if !next.Deleted {
		written = storage.Stamp(c.Feature, latest)
		data, err := json.Marshal(written)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal feature: %w", err)
		}
		err = s.put(ctx, versionKey(req.SpaceID, id, next.Version), data, func(in *awss3.PutObjectInput) {
			in.IfNoneMatch = aws.String("*")
		})
		if err != nil {
			return nil, err
		}
	}

	pointer, _ := json.Marshal(next)
	if err := s.put(ctx, headKey(req.SpaceID, id), pointer, guard); err != nil {
		if written != nil {
			_ = s.remove(ctx, versionKey(req.SpaceID, id, next.Version))
		}
		return nil, err
	}
	if !req.History && latest > 0 {
		if err := s.remove(ctx, versionKey(req.SpaceID, id, latest)); err != nil {
			return nil, err
		}
	}
	return written, nil
}

// guardedDelete drops a feature without history. The head pointer is first
// replaced by a tombstone so that a concurrent writer fails its guard.
func (s *Store) guardedDelete(ctx context.Context, spaceID, id string, guard func(*awss3.PutObjectInput)) error {
	tombstone, _ := json.Marshal(head{Deleted: true})
	if err := s.put(ctx, headKey(spaceID, id), tombstone, guard); err != nil {
		return err
	}
	keys, err := s.list(ctx, featureKey(spaceID, id))
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := s.remove(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) DeleteSpaceFeatures(ctx context.Context, spaceID string) error {
	defer storage.Observe(backend, "purge")()
	keys, err := s.list(ctx, featurePrefix(spaceID))
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := s.remove(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) GetSpace(ctx context.Context, id string) (*domain.Space, error) {
	data, _, err := s.get(ctx, spaceKey(id))
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, fmt.Errorf("space %s: %w", id, domain.ErrRecordNotFound)
	}
	var space domain.Space
	if err := json.Unmarshal(data, &space); err != nil {
		return nil, fmt.Errorf("failed to unmarshal space: %w", err)
	}
	return &space, nil
}

func (s *Store) ListSpaces(ctx context.Context, owner string) ([]*domain.Space, error) {
	keys, err := s.list(ctx, "spaces/")
	if err != nil {
		return nil, err
	}
	var spaces []*domain.Space
	for _, key := range keys {
		data, _, err := s.get(ctx, key)
		if err != nil {
			return nil, err
		}
		if data == nil {
			continue
		}
		var space domain.Space
		if err := json.Unmarshal(data, &space); err != nil {
			return nil, fmt.Errorf("failed to unmarshal space %s: %w", key, err)
		}
		if owner == "" || space.Owner == owner {
			spaces = append(spaces, &space)
		}
	}
	return spaces, nil
}

func (s *Store) PutSpace(ctx context.Context, space *domain.Space) error {
	data, err := json.Marshal(space)
	if err != nil {
		return fmt.Errorf("failed to marshal space: %w", err)
	}
	if err := s.put(ctx, spaceKey(space.ID), data, nil); err != nil {
		return fmt.Errorf("failed to put space: %w", err)
	}
	return nil
}

func (s *Store) DeleteSpace(ctx context.Context, id string) error {
	data, _, err := s.get(ctx, spaceKey(id))
	if err != nil {
		return err
	}
	if data == nil {
		return fmt.Errorf("space %s: %w", id, domain.ErrRecordNotFound)
	}
	return s.remove(ctx, spaceKey(id))
}

func (s *Store) Close() error { return nil }
