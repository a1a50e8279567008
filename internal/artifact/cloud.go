package artifact

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Backblaze/blazer/b2"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"google.golang.org/api/option"
)

// S3Sink uploads to an S3-compatible bucket.
type S3Sink struct {
	Bucket   string
	uploader *manager.Uploader
}

// NewS3Sink builds a client from the default AWS chain. Static keys, when
// given, take precedence; endpoint selects an S3-compatible service.
func NewS3Sink(ctx context.Context, bucket, region, endpoint, accessKeyID, secretAccessKey string) (*S3Sink, error) {
	if bucket == "" || region == "" {
		return nil, errors.New("s3 bucket and region are required")
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if accessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, ""),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Sink{Bucket: bucket, uploader: manager.NewUploader(client)}, nil
}

func (s *S3Sink) Name() string { return "s3" }

func (s *S3Sink) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	out, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", err
	}
	return out.Location, nil
}

// AzureSink uploads block blobs to a container.
type AzureSink struct {
	Container  string
	accountURL string
	client     *azblob.Client
}

// NewAzureSink authenticates with a SAS token appended to the account URL.
func NewAzureSink(accountURL, container, sasToken string) (*AzureSink, error) {
	if accountURL == "" || container == "" {
		return nil, errors.New("azure account url and container are required")
	}
	serviceURL := accountURL
	if sasToken != "" {
		serviceURL = strings.TrimSuffix(accountURL, "?") + "?" + strings.TrimPrefix(sasToken, "?")
	}
	client, err := azblob.NewClientWithNoCredential(serviceURL, nil)
	if err != nil {
		return nil, fmt.Errorf("azure client: %w", err)
	}
	return &AzureSink{
		Container:  container,
		accountURL: strings.TrimSuffix(strings.TrimSuffix(accountURL, "?"), "/"),
		client:     client,
	}, nil
}

func (s *AzureSink) Name() string { return "azure" }

func (s *AzureSink) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	_, err := s.client.UploadBuffer(ctx, s.Container, key, data, &azblob.UploadBufferOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &contentType},
	})
	if err != nil {
		return "", err
	}
	// the SAS token stays out of reported locations
	return s.accountURL + "/" + s.Container + "/" + (&url.URL{Path: key}).EscapedPath(), nil
}

// GCSSink uploads objects to a Google Cloud Storage bucket.
type GCSSink struct {
	Bucket string
	client *storage.Client
}

// NewGCSSink uses application default credentials unless a credentials
// file is given.
func NewGCSSink(ctx context.Context, bucket, credentialsFile string) (*GCSSink, error) {
	if bucket == "" {
		return nil, errors.New("gcs bucket is required")
	}
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs client: %w", err)
	}
	return &GCSSink{Bucket: bucket, client: client}, nil
}

func (s *GCSSink) Name() string { return "gcs" }

func (s *GCSSink) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	w := s.client.Bucket(s.Bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		w.Close()
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	return "gs://" + s.Bucket + "/" + key, nil
}

// B2Sink uploads to a Backblaze B2 bucket.
type B2Sink struct {
	bucket *b2.Bucket
}

func NewB2Sink(ctx context.Context, bucket, keyID, applicationKey string) (*B2Sink, error) {
	if bucket == "" || keyID == "" || applicationKey == "" {
		return nil, errors.New("b2 bucket, key id and application key are required")
	}
	client, err := b2.NewClient(ctx, keyID, applicationKey)
	if err != nil {
		return nil, fmt.Errorf("b2 client: %w", err)
	}
	b, err := client.Bucket(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("b2 bucket %q: %w", bucket, err)
	}
	return &B2Sink{bucket: b}, nil
}

func (s *B2Sink) Name() string { return "b2" }

func (s *B2Sink) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	obj := s.bucket.Object(key)
	w := obj.NewWriter(ctx, b2.WithAttrsOption(&b2.Attrs{ContentType: contentType}))
	if _, err := w.Write(data); err != nil {
		w.Close()
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	return obj.URL(), nil
}
