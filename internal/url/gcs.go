package url

import (
	"context"
	"errors"
	"io"
	neturl "net/url"
	"os"
	"strings"

	gcstorage "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

// GCSURL is a URL backed by a Google Cloud Storage object. It follows the
// same scratch-file staging contract as S3URL.
type GCSURL struct {
	raw    string
	mode   Mode
	bucket string
	key    string

	scratch *os.File
}

func init() {
	RegisterScheme("gs", func(raw string, mode Mode) (URL, error) {
		return NewGCSURL(raw, mode)
	})
}

// NewGCSURL creates a GCS URL from a gs://bucket/key string.
func NewGCSURL(raw string, mode Mode) (*GCSURL, error) {
	parsed, err := neturl.Parse(raw)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return &GCSURL{
		raw:    raw,
		mode:   mode,
		bucket: parsed.Host,
		key:    strings.TrimPrefix(parsed.Path, "/"),
	}, nil
}

func (u *GCSURL) String() string { return u.raw }

func (u *GCSURL) Mode() Mode { return u.mode }

func (u *GCSURL) Expand(ctx context.Context) ([]URL, error) {
	client, err := gcsClient(ctx)
	if err != nil {
		return nil, err
	}

	prefix := u.key
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	var acc []URL
	it := client.Bucket(u.bucket).Objects(ctx, &gcstorage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			if errors.Is(err, gcstorage.ErrBucketNotExist) {
				// Nothing to expand if the bucket is gone.
				return []URL{u}, nil
			}
			return nil, Error.Wrap(err)
		}
		child, err := NewGCSURL("gs://"+u.bucket+"/"+attrs.Name, u.mode)
		if err != nil {
			return nil, err
		}
		acc = append(acc, child)
	}
	if len(acc) == 0 {
		return []URL{u}, nil
	}
	sortURLs(acc)
	return acc, nil
}

func (u *GCSURL) Delete(ctx context.Context) error {
	client, err := gcsClient(ctx)
	if err != nil {
		return err
	}
	err = client.Bucket(u.bucket).Object(u.key).Delete(ctx)
	if errors.Is(err, gcstorage.ErrObjectNotExist) {
		return Error.New("object %s does not exist in bucket %s", u.key, u.bucket)
	}
	return Error.Wrap(err)
}

func (u *GCSURL) Exists(ctx context.Context) (bool, error) {
	client, err := gcsClient(ctx)
	if err != nil {
		return false, err
	}
	_, err = client.Bucket(u.bucket).Object(u.key).Attrs(ctx)
	if errors.Is(err, gcstorage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, Error.Wrap(err)
	}
	return true, nil
}

func (u *GCSURL) Size(ctx context.Context) (int64, error) {
	client, err := gcsClient(ctx)
	if err != nil {
		return 0, err
	}
	attrs, err := client.Bucket(u.bucket).Object(u.key).Attrs(ctx)
	if errors.Is(err, gcstorage.ErrObjectNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, Error.Wrap(err)
	}
	return attrs.Size, nil
}

func (u *GCSURL) Open(ctx context.Context) (Stream, error) {
	client, err := gcsClient(ctx)
	if err != nil {
		return nil, err
	}
	scratch, err := scratchFile()
	if err != nil {
		return nil, err
	}
	u.scratch = scratch

	obj := client.Bucket(u.bucket).Object(u.key)
	download := u.mode.IsRead()
	if u.mode.IsAppend() {
		exists, err := u.Exists(ctx)
		if err != nil {
			u.discardScratch()
			return nil, err
		}
		download = exists
	}
	if download {
		r, err := obj.NewReader(ctx)
		if err != nil {
			u.discardScratch()
			return nil, Error.Wrap(err)
		}
		_, err = io.Copy(scratch, r)
		_ = r.Close()
		if err != nil {
			u.discardScratch()
			return nil, Error.Wrap(err)
		}
		if _, err := scratch.Seek(0, io.SeekStart); err != nil {
			u.discardScratch()
			return nil, Error.Wrap(err)
		}
	}
	if u.mode.IsAppend() {
		if _, err := scratch.Seek(0, io.SeekEnd); err != nil {
			u.discardScratch()
			return nil, Error.Wrap(err)
		}
	}
	return scratch, nil
}

func (u *GCSURL) Close(ctx context.Context) error {
	if u.scratch == nil {
		return nil
	}
	defer u.discardScratch()

	if !u.mode.IsWrite() && !u.mode.IsAppend() {
		return nil
	}
	client, err := gcsClient(ctx)
	if err != nil {
		return err
	}
	if err := u.scratch.Sync(); err != nil {
		return Error.Wrap(err)
	}
	if _, err := u.scratch.Seek(0, io.SeekStart); err != nil {
		return Error.Wrap(err)
	}
	w := client.Bucket(u.bucket).Object(u.key).NewWriter(ctx)
	if _, err := io.Copy(w, u.scratch); err != nil {
		_ = w.Close()
		return Error.Wrap(err)
	}
	return Error.Wrap(w.Close())
}

func (u *GCSURL) discardScratch() {
	if u.scratch == nil {
		return
	}
	name := u.scratch.Name()
	_ = u.scratch.Close()
	_ = os.Remove(name)
	u.scratch = nil
}

func (u *GCSURL) WithMode(mode Mode) URL {
	out, _ := NewGCSURL(u.raw, mode)
	return out
}

func (u *GCSURL) WithPath(path string) URL {
	out, _ := NewGCSURL("gs://"+u.bucket+appendPath("/"+u.key, path), u.mode)
	return out
}
