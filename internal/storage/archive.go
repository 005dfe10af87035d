package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/victorivanov/permd/internal/store"
)

const (
	snapshotPrefix = "snapshots/"
	latestKey      = snapshotPrefix + "latest.json"
)

// ErrNoSnapshot is returned when the archive holds no snapshot yet.
var ErrNoSnapshot = errors.New("storage: no archived snapshot")

// SnapshotArchive keeps exported mirror snapshots in an S3-compatible bucket.
type SnapshotArchive struct {
	client *minio.Client
	bucket string
}

// latestPointer is the body of snapshots/latest.json.
type latestPointer struct {
	Epoch   string    `json:"epoch"`
	Version uint64    `json:"version"`
	Key     string    `json:"key"`
	SavedAt time.Time `json:"saved_at"`
}

// NewSnapshotArchive creates a MinIO client and ensures the bucket exists.
func NewSnapshotArchive(ctx context.Context, endpoint, accessKey, secretKey, bucket string, secure bool) (*SnapshotArchive, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("minio bucket check: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("minio make bucket: %w", err)
		}
	}

	return &SnapshotArchive{client: client, bucket: bucket}, nil
}

// SnapshotKey returns the object key of the archive for version within
// epoch. Versions restart with every store, so the epoch keeps archives of
// different runs apart.
func SnapshotKey(epoch string, version uint64) string {
	return snapshotPrefix + epoch + "/" + strconv.FormatUint(version, 10) + ".json"
}

// PutSnapshot stores an encoded snapshot and points latest.json at it.
// It returns the object key written.
func (a *SnapshotArchive) PutSnapshot(ctx context.Context, epoch string, version uint64, r io.Reader, size int64) (string, error) {
	if epoch == "" {
		return "", errors.New("storage: snapshot epoch is required")
	}
	key := SnapshotKey(epoch, version)
	if _, err := a.client.PutObject(ctx, a.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: "application/json",
	}); err != nil {
		return "", fmt.Errorf("uploading %s: %w", key, err)
	}

	pointer, err := json.Marshal(latestPointer{Epoch: epoch, Version: version, Key: key, SavedAt: time.Now().UTC()})
	if err != nil {
		return "", fmt.Errorf("encoding latest pointer: %w", err)
	}
	if _, err := a.client.PutObject(ctx, a.bucket, latestKey, bytes.NewReader(pointer), int64(len(pointer)), minio.PutObjectOptions{
		ContentType: "application/json",
	}); err != nil {
		return "", fmt.Errorf("uploading %s: %w", latestKey, err)
	}
	return key, nil
}

func (a *SnapshotArchive) latest(ctx context.Context) (latestPointer, error) {
	obj, err := a.client.GetObject(ctx, a.bucket, latestKey, minio.GetObjectOptions{})
	if err != nil {
		return latestPointer{}, fmt.Errorf("fetching %s: %w", latestKey, err)
	}
	defer obj.Close()

	var pointer latestPointer
	if err := json.NewDecoder(obj).Decode(&pointer); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return latestPointer{}, ErrNoSnapshot
		}
		return latestPointer{}, fmt.Errorf("decoding %s: %w", latestKey, err)
	}
	return pointer, nil
}

// GetLatest opens the most recently archived snapshot. The caller closes
// the returned reader.
func (a *SnapshotArchive) GetLatest(ctx context.Context) (uint64, io.ReadCloser, error) {
	pointer, err := a.latest(ctx)
	if err != nil {
		return 0, nil, err
	}

	body, err := a.Get(ctx, pointer.Key)
	if err != nil {
		return 0, nil, err
	}
	return pointer.Version, body, nil
}

// Get opens an archived snapshot by object key.
func (a *SnapshotArchive) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := a.client.GetObject(ctx, a.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", key, err)
	}
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, ErrNoSnapshot
		}
		return nil, fmt.Errorf("stat %s: %w", key, err)
	}
	return obj, nil
}

// Delete removes an archived snapshot by object key. The object
// latest.json points at cannot be deleted.
func (a *SnapshotArchive) Delete(ctx context.Context, key string) error {
	if key == latestKey {
		return fmt.Errorf("storage: refusing to delete %s", latestKey)
	}
	if pointer, err := a.latest(ctx); err == nil && pointer.Key == key {
		return fmt.Errorf("storage: %s is the latest archive", key)
	}
	return a.client.RemoveObject(ctx, a.bucket, key, minio.RemoveObjectOptions{})
}

// Save archives the given snapshot.
func (a *SnapshotArchive) Save(ctx context.Context, snap *store.Snapshot) (string, error) {
	var buf bytes.Buffer
	if err := store.WriteArchive(&buf, snap); err != nil {
		return "", err
	}
	return a.PutSnapshot(ctx, snap.Epoch, snap.Version, &buf, int64(buf.Len()))
}

// Restore decodes the most recently archived snapshot.
func (a *SnapshotArchive) Restore(ctx context.Context) (store.Archive, error) {
	_, body, err := a.GetLatest(ctx)
	if err != nil {
		return store.Archive{}, err
	}
	defer body.Close()
	return store.ReadArchive(body)
}
