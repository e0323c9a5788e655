package url

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	gcstorage "cloud.google.com/go/storage"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"google.golang.org/api/option"
)

// Backend clients are process-wide and built lazily on first use from the
// configuration installed via Configure.
var clients struct {
	mu  sync.Mutex
	s3  *s3.Client
	gcs *gcstorage.Client
}

func resetClients() {
	clients.mu.Lock()
	defer clients.mu.Unlock()
	clients.s3 = nil
	if clients.gcs != nil {
		_ = clients.gcs.Close()
		clients.gcs = nil
	}
}

// s3Client returns the shared S3 client, building it from the ambient AWS
// environment plus any configured overrides (endpoint, static credentials,
// path-style addressing for S3-compatible stores).
func s3Client(ctx context.Context) (*s3.Client, error) {
	clients.mu.Lock()
	defer clients.mu.Unlock()
	if clients.s3 != nil {
		return clients.s3, nil
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if options.S3.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(options.S3.Region))
	}
	if options.S3.AccessKeyID != "" && options.S3.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				options.S3.AccessKeyID,
				options.S3.SecretAccessKey,
				"",
			),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, Error.Wrap(err)
	}

	var s3Opts []func(*s3.Options)
	if options.S3.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(options.S3.Endpoint)
		})
	}
	if options.S3.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	clients.s3 = s3.NewFromConfig(cfg, s3Opts...)
	return clients.s3, nil
}

// gcsClient returns the shared GCS client, honoring the endpoint override and
// anonymous-credentials flag used against emulators.
func gcsClient(ctx context.Context) (*gcstorage.Client, error) {
	clients.mu.Lock()
	defer clients.mu.Unlock()
	if clients.gcs != nil {
		return clients.gcs, nil
	}

	var opts []option.ClientOption
	if options.GCS.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(options.GCS.Endpoint))
	}
	if options.GCS.AnonymousCredentials {
		opts = append(opts, option.WithoutAuthentication())
	}

	client, err := gcstorage.NewClient(ctx, opts...)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	clients.gcs = client
	return client, nil
}

// scratchFile creates a uniquely named scratch file under the configured
// scratch directory. Callers own removal.
func scratchFile() (*os.File, error) {
	if err := os.MkdirAll(options.ScratchDir, 0o755); err != nil {
		return nil, Error.Wrap(err)
	}
	name := filepath.Join(options.ScratchDir, "avrokit-"+uuid.NewString())
	fh, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return fh, nil
}
