package objectstore

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/qualabs/cmcd-toolkit/errors"
)

// S3API is the subset of the S3 client used by S3Downloader.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Config configures the S3 client. Credentials come from the default AWS
// provider chain.
type S3Config struct {
	Region       string `json:"region,omitempty"         yaml:"region,omitempty"`
	Endpoint     string `json:"endpoint,omitempty"       yaml:"endpoint,omitempty"`
	UsePathStyle bool   `json:"use_path_style,omitempty" yaml:"use_path_style,omitempty"`
}

// S3Downloader reads objects from S3 or an S3-compatible store.
type S3Downloader struct {
	client S3API
}

// NewS3Downloader builds an S3 client from the default AWS configuration.
func NewS3Downloader(ctx context.Context, cfg S3Config) (*S3Downloader, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.WrapFatal(err, "S3Downloader", "NewS3Downloader", "load AWS config")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return NewS3DownloaderWithClient(client), nil
}

// NewS3DownloaderWithClient wraps an existing client.
func NewS3DownloaderWithClient(client S3API) *S3Downloader {
	return &S3Downloader{client: client}
}

// Download implements Downloader
func (d *S3Downloader) Download(ctx context.Context, bucket, key, dest string) error {
	out, err := d.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return errors.WrapTransient(err, "S3Downloader", "Download", fmt.Sprintf("get s3://%s/%s", bucket, key))
	}
	defer out.Body.Close()

	return writeAtomic(dest, func(tmp string) error {
		return copyTo(tmp, out.Body)
	})
}
