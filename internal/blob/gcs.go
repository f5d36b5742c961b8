package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"cloud.google.com/go/storage"
	log "github.com/sirupsen/logrus"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"datalineage/internal/common"
)

// GCSStore keeps objects in a Google Cloud Storage bucket. Writes carry a
// DoesNotExist precondition so existing objects are never replaced.
type GCSStore struct {
	client      *storage.Client
	bucket      string
	prefix      string
	compression Compression
}

// NewGCSStore returns a store over an existing client.
func NewGCSStore(client *storage.Client, bucket, prefix string, compression Compression) *GCSStore {
	return &GCSStore{
		client:      client,
		bucket:      bucket,
		prefix:      common.NormalizeKey(prefix),
		compression: compression,
	}
}

// OpenGCSStore creates a client. When emulatorHost is set the client talks
// to that endpoint without authentication.
func OpenGCSStore(ctx context.Context, bucket, prefix, emulatorHost string, compression Compression) (*GCSStore, error) {
	if bucket == "" {
		return nil, &common.InvalidInputError{Field: "bucket", Reason: "required for the gcs backend"}
	}
	var opts []option.ClientOption
	if emulatorHost != "" {
		opts = append(opts,
			option.WithEndpoint(strings.TrimRight(emulatorHost, "/")+"/storage/v1/"),
			option.WithoutAuthentication(),
		)
	} else {
		opts = append(opts, option.WithScopes(storage.ScopeReadWrite))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return NewGCSStore(client, bucket, prefix, compression), nil
}

// Close releases the client.
func (s *GCSStore) Close() error { return s.client.Close() }

func (s *GCSStore) objectName(key string) (string, error) {
	k := common.NormalizeKey(key)
	if k == "" {
		return "", &common.InvalidInputError{Field: "key", Reason: "empty blob key"}
	}
	return common.JoinKey(s.prefix, common.ShardKey(k)), nil
}

func (s *GCSStore) objectOf(location string) (string, error) {
	scheme, p, err := splitLocation(location)
	if err != nil {
		return "", &common.InvalidInputError{Field: "location", Reason: err.Error()}
	}
	bucket, name, ok := strings.Cut(p, "/")
	if scheme != SchemeGCS || !ok || bucket != s.bucket {
		return "", &common.InvalidInputError{Field: "location", Reason: fmt.Sprintf("%q is not in bucket %s", location, s.bucket)}
	}
	return name, nil
}

func isPreconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}

func (s *GCSStore) Put(ctx context.Context, key string, data []byte) (string, bool, error) {
	name, err := s.objectName(key)
	if err != nil {
		return "", false, err
	}
	location := fmt.Sprintf("%s://%s/%s", SchemeGCS, s.bucket, name)
	framed, err := encode(data, s.compression)
	if err != nil {
		return "", false, err
	}

	obj := s.client.Bucket(s.bucket).Object(name).If(storage.Conditions{DoesNotExist: true})
	w := obj.NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	if _, err := w.Write(framed); err != nil {
		_ = w.Close()
		if isPreconditionFailed(err) {
			return location, false, nil
		}
		return "", false, common.Transient("gcs write", err)
	}
	if err := w.Close(); err != nil {
		if isPreconditionFailed(err) {
			log.Debugf("[Blob] Put: %s already present", location)
			return location, false, nil
		}
		return "", false, common.Transient("gcs close", err)
	}
	log.Debugf("[Blob] Put: wrote %s (%d bytes, %d stored)", location, len(data), len(framed))
	return location, true, nil
}

func (s *GCSStore) Get(ctx context.Context, location string) ([]byte, error) {
	name, err := s.objectOf(location)
	if err != nil {
		return nil, err
	}
	r, err := s.client.Bucket(s.bucket).Object(name).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("blob %s: %w", location, common.ErrNotFound)
		}
		return nil, common.Transient("gcs open", err)
	}
	defer r.Close()
	framed, err := io.ReadAll(r)
	if err != nil {
		return nil, common.Transient("gcs read", err)
	}
	data, err := decode(framed)
	if err != nil {
		return nil, fmt.Errorf("blob %s: %w: %v", location, common.ErrIntegrity, err)
	}
	return data, nil
}

func (s *GCSStore) Delete(ctx context.Context, location string) error {
	name, err := s.objectOf(location)
	if err != nil {
		return err
	}
	if err := s.client.Bucket(s.bucket).Object(name).Delete(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return fmt.Errorf("blob %s: %w", location, common.ErrNotFound)
		}
		return common.Transient("gcs delete", err)
	}
	log.Debugf("[Blob] Delete: removed %s", location)
	return nil
}
