// Copyright 2024 DataLineage Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package service

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"

	"datalineage/internal/blob"
	"datalineage/internal/config"
	"datalineage/internal/hasher"
	"datalineage/internal/lineage"
	"datalineage/internal/storage"
	"datalineage/internal/transform"
	"datalineage/internal/util"
	"datalineage/internal/version"
)

// Open builds a service from settings: it opens or creates the catalog,
// connects the configured blob backend and wires the engine.
func Open(ctx context.Context, settings *config.Settings) (*Service, error) {
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	compression, err := settings.Compression()
	if err != nil {
		return nil, err
	}
	storage.SetConfigBusyTimeout(settings.BusyTimeout)

	path := settings.CatalogPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create catalog directory: %w", err)
	}
	catalog, err := storage.OpenOrCreate(path)
	if err != nil {
		return nil, err
	}

	blobs, err := openBlobStore(ctx, settings, compression)
	if err != nil {
		catalog.Close()
		return nil, err
	}

	db := catalog.BunDB()
	locks := util.NewKeyedLocker(util.LockDir(path), util.LockPollConfig())
	svc := New(
		catalog,
		version.NewStore(db, blobs, hasher.New(settings.Hasher.MinContentSize), locks),
		lineage.NewTracker(db),
		transform.New(transform.DefaultRegistry(), settings.TransformOptions()),
		locks,
	)
	svc.closers = append(svc.closers, catalog)
	if c, ok := blobs.(io.Closer); ok {
		svc.closers = append(svc.closers, c)
	}
	log.Debugf("[Service] opened catalog %s (blob backend %s, %s)", path, settings.Blob.Backend, compression)
	return svc, nil
}

func openBlobStore(ctx context.Context, settings *config.Settings, compression blob.Compression) (blob.Store, error) {
	if settings.Blob.Backend == config.BackendGCS {
		gcs, err := blob.OpenGCSStore(ctx, settings.Blob.Bucket, settings.Blob.Prefix, settings.Blob.EmulatorHost, compression)
		if err != nil {
			return nil, err
		}
		return gcs, nil
	}
	fs, err := blob.OpenFSStore(settings.BlobDir(), compression)
	if err != nil {
		return nil, err
	}
	return fs, nil
}
