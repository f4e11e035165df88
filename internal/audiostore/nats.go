package audiostore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/MrWong99/minestream/internal/failure"
)

// natsScheme prefixes locations handed out by [NATSBlobs].
const natsScheme = "nats://"

var _ Blobs = (*NATSBlobs)(nil)

// NATSBlobs stores objects in a NATS JetStream object store bucket.
// Locations have the form nats://<bucket>/<name>.
type NATSBlobs struct {
	bucket string
	store  jetstream.ObjectStore

	// mu serialises the existence check and the put in Create so two
	// writers in this process cannot both claim a name.
	mu sync.Mutex
}

// NewNATSBlobs creates bucket in js, or binds to it if it already exists.
func NewNATSBlobs(ctx context.Context, js jetstream.JetStream, bucket string) (*NATSBlobs, error) {
	if bucket == "" {
		return nil, failure.Validation(errors.New("audiostore: bucket must not be empty"))
	}
	store, err := js.CreateObjectStore(ctx, jetstream.ObjectStoreConfig{
		Bucket:      bucket,
		Description: fmt.Sprintf("MineStream audio objects (%s).", bucket),
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		if !errors.Is(err, jetstream.ErrBucketExists) {
			return nil, failure.Storage("audiostore: create bucket "+bucket, err)
		}
		store, err = js.ObjectStore(ctx, bucket)
		if err != nil {
			return nil, failure.Storage("audiostore: bind bucket "+bucket, err)
		}
	}
	return &NATSBlobs{bucket: bucket, store: store}, nil
}

// Locate implements [Blobs.Locate].
func (n *NATSBlobs) Locate(name string) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}
	return natsScheme + n.bucket + "/" + name, nil
}

// Create implements [Blobs.Create]. JetStream publishes an object only after
// its final chunk, so readers never observe partial content.
func (n *NATSBlobs) Create(ctx context.Context, name string, data []byte) (string, error) {
	loc, err := n.Locate(name)
	if err != nil {
		return "", err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	_, err = n.store.GetInfo(ctx, name)
	switch {
	case err == nil:
		return "", fmt.Errorf("audiostore: %q: %w", name, ErrExists)
	case !errors.Is(err, jetstream.ErrObjectNotFound):
		return "", failure.Storage("audiostore: stat "+loc, err)
	}

	if _, err := n.store.PutBytes(ctx, name, data); err != nil {
		return "", failure.Storage("audiostore: put "+loc, err)
	}
	return loc, nil
}

// Open implements [Blobs.Open].
func (n *NATSBlobs) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	name, err := n.objectName(location)
	if err != nil {
		return nil, err
	}
	obj, err := n.store.Get(ctx, name)
	if err != nil {
		if errors.Is(err, jetstream.ErrObjectNotFound) {
			return nil, notFound(location)
		}
		return nil, failure.Storage("audiostore: get "+location, err)
	}
	return obj, nil
}

// Remove implements [Blobs.Remove].
func (n *NATSBlobs) Remove(ctx context.Context, location string) error {
	name, err := n.objectName(location)
	if err != nil {
		return err
	}
	if err := n.store.Delete(ctx, name); err != nil && !errors.Is(err, jetstream.ErrObjectNotFound) {
		return failure.Storage("audiostore: delete "+location, err)
	}
	return nil
}

// objectName extracts the object name from a location in this bucket. A
// bare name is accepted as well.
func (n *NATSBlobs) objectName(location string) (string, error) {
	name := location
	if rest, ok := strings.CutPrefix(location, natsScheme); ok {
		bucket, obj, found := strings.Cut(rest, "/")
		if !found || bucket != n.bucket {
			return "", failure.Validation(fmt.Errorf("audiostore: %q is not in bucket %s", location, n.bucket))
		}
		name = obj
	}
	if err := ValidateName(name); err != nil {
		return "", err
	}
	return name, nil
}
