package url

import (
	"context"
	"errors"
	"io"
	neturl "net/url"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// S3URL is a URL backed by an Amazon S3 (or S3-compatible) object.
//
// Read and append modes download the object into a local scratch file and
// expose that file as the stream; write and append modes upload the scratch
// file back on Close. This gives callers a random-accessible byte stream
// even though the logical resource is remote.
type S3URL struct {
	raw    string
	mode   Mode
	bucket string
	key    string

	scratch *os.File
}

func init() {
	RegisterScheme("s3", func(raw string, mode Mode) (URL, error) {
		return NewS3URL(raw, mode)
	})
}

// NewS3URL creates an S3 URL from an s3://bucket/key string.
func NewS3URL(raw string, mode Mode) (*S3URL, error) {
	parsed, err := neturl.Parse(raw)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return &S3URL{
		raw:    raw,
		mode:   mode,
		bucket: parsed.Host,
		key:    strings.TrimPrefix(parsed.Path, "/"),
	}, nil
}

func (u *S3URL) String() string { return u.raw }

func (u *S3URL) Mode() Mode { return u.mode }

func (u *S3URL) Expand(ctx context.Context) ([]URL, error) {
	client, err := s3Client(ctx)
	if err != nil {
		return nil, err
	}

	// The trailing slash makes the listing return the directory contents
	// rather than the key itself. A plain object yields an empty listing,
	// which falls through to returning self.
	prefix := u.key
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	var acc []URL
	paginator := s3.NewListObjectsV2Paginator(client, &s3.ListObjectsV2Input{
		Bucket: aws.String(u.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}
			child, err := NewS3URL("s3://"+u.bucket+"/"+*obj.Key, u.mode)
			if err != nil {
				return nil, err
			}
			acc = append(acc, child)
		}
	}
	if len(acc) == 0 {
		// Also covers keys that do not exist yet: nothing to expand.
		return []URL{u}, nil
	}
	sortURLs(acc)
	return acc, nil
}

func (u *S3URL) Delete(ctx context.Context) error {
	client, err := s3Client(ctx)
	if err != nil {
		return err
	}
	_, err = client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(u.key),
	})
	if err != nil && !isS3NotFound(err) {
		return Error.Wrap(err)
	}
	return nil
}

func (u *S3URL) Exists(ctx context.Context) (bool, error) {
	client, err := s3Client(ctx)
	if err != nil {
		return false, err
	}
	_, err = client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(u.key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return false, nil
		}
		return false, Error.Wrap(err)
	}
	return true, nil
}

func (u *S3URL) Size(ctx context.Context) (int64, error) {
	client, err := s3Client(ctx)
	if err != nil {
		return 0, err
	}
	head, err := client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(u.key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return 0, nil
		}
		return 0, Error.Wrap(err)
	}
	return aws.ToInt64(head.ContentLength), nil
}

func (u *S3URL) Open(ctx context.Context) (Stream, error) {
	client, err := s3Client(ctx)
	if err != nil {
		return nil, err
	}
	scratch, err := scratchFile()
	if err != nil {
		return nil, err
	}
	u.scratch = scratch

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
		obj, err := client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(u.bucket),
			Key:    aws.String(u.key),
		})
		if err != nil {
			u.discardScratch()
			return nil, Error.Wrap(err)
		}
		_, err = io.Copy(scratch, obj.Body)
		_ = obj.Body.Close()
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

func (u *S3URL) Close(ctx context.Context) error {
	if u.scratch == nil {
		return nil
	}
	// The scratch file is removed whether or not the upload succeeds.
	defer u.discardScratch()

	if !u.mode.IsWrite() && !u.mode.IsAppend() {
		return nil
	}
	client, err := s3Client(ctx)
	if err != nil {
		return err
	}
	if err := u.scratch.Sync(); err != nil {
		return Error.Wrap(err)
	}
	if _, err := u.scratch.Seek(0, io.SeekStart); err != nil {
		return Error.Wrap(err)
	}
	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(u.key),
		Body:   u.scratch,
	})
	return Error.Wrap(err)
}

func (u *S3URL) discardScratch() {
	if u.scratch == nil {
		return
	}
	name := u.scratch.Name()
	_ = u.scratch.Close()
	_ = os.Remove(name)
	u.scratch = nil
}

func (u *S3URL) WithMode(mode Mode) URL {
	out, _ := NewS3URL(u.raw, mode)
	return out
}

func (u *S3URL) WithPath(path string) URL {
	out, _ := NewS3URL("s3://"+u.bucket+appendPath("/"+u.key, path), u.mode)
	return out
}

// isS3NotFound reports whether err is a missing-object error.
func isS3NotFound(err error) bool {
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NotFound" || code == "NoSuchKey" || code == "404"
	}
	return false
}
