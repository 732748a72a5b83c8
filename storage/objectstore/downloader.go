// Package objectstore fetches files such as the GeoLite2 databases from a
// remote bucket into local ephemeral storage.
//
// Every Downloader writes to a temporary sibling of the destination and
// renames it into place on success, so a reader never opens a partial file.
package objectstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/qualabs/cmcd-toolkit/errors"
)

// Downloader fetches bucket/key into the local file dest.
type Downloader interface {
	Download(ctx context.Context, bucket, key, dest string) error
}

// ObjectStoreOpener is satisfied by *natsclient.Client.
type ObjectStoreOpener interface {
	ObjectStore(ctx context.Context, bucket string) (jetstream.ObjectStore, error)
}

// NATSDownloader reads objects from a JetStream object store bucket.
type NATSDownloader struct {
	opener ObjectStoreOpener
}

// NewNATSDownloader creates a downloader backed by JetStream object stores.
func NewNATSDownloader(opener ObjectStoreOpener) *NATSDownloader {
	return &NATSDownloader{opener: opener}
}

// Download implements Downloader
func (d *NATSDownloader) Download(ctx context.Context, bucket, key, dest string) error {
	store, err := d.opener.ObjectStore(ctx, bucket)
	if err != nil {
		return errors.WrapTransient(err, "NATSDownloader", "Download", "open bucket "+bucket)
	}

	return writeAtomic(dest, func(tmp string) error {
		if err := store.GetFile(ctx, key, tmp); err != nil {
			return errors.WrapTransient(err, "NATSDownloader", "Download", fmt.Sprintf("get %s/%s", bucket, key))
		}
		return nil
	})
}

// LocalDownloader copies files from a directory tree where each bucket is a
// subdirectory of Root. Used for development and tests.
type LocalDownloader struct {
	Root string
}

// Download implements Downloader
func (d LocalDownloader) Download(_ context.Context, bucket, key, dest string) error {
	src, err := os.Open(filepath.Join(d.Root, bucket, filepath.Clean("/"+key)))
	if err != nil {
		return errors.WrapInvalid(err, "LocalDownloader", "Download", fmt.Sprintf("open %s/%s", bucket, key))
	}
	defer src.Close()

	return writeAtomic(dest, func(tmp string) error {
		return copyTo(tmp, src)
	})
}

func writeAtomic(dest string, fill func(tmp string) error) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return errors.WrapFatal(err, "objectstore", "writeAtomic", "create directory")
	}

	tmp := dest + ".partial"
	if err := fill(tmp); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dest); err != nil {
		_ = os.Remove(tmp)
		return errors.WrapTransient(err, "objectstore", "writeAtomic", "rename into place")
	}
	return nil
}

func copyTo(path string, r io.Reader) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.WrapTransient(err, "objectstore", "copyTo", "create file")
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return errors.WrapTransient(err, "objectstore", "copyTo", "write file")
	}
	if err := f.Close(); err != nil {
		return errors.WrapTransient(err, "objectstore", "copyTo", "close file")
	}
	return nil
}
