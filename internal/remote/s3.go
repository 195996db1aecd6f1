package remote

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3ClientAPI is the subset of the S3 client the channel uses.
type S3ClientAPI interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

type S3Config struct {
	Bucket string
	Prefix string
	Region string
	// Endpoint overrides the AWS endpoint, e.g. for MinIO.
	Endpoint  string
	AccessKey string
	SecretKey string
}

// S3Channel stores each file as one object under Prefix.
type S3Channel struct {
	Client S3ClientAPI
	Bucket string
	Prefix string
}

func NewS3Channel(ctx context.Context, c S3Config) (*S3Channel, error) {
	var opts []func(*config.LoadOptions) error
	if c.Region != "" {
		opts = append(opts, config.WithRegion(c.Region))
	}
	if c.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.AccessKey, c.SecretKey, "")))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, transportError("s3 config", c.Bucket, err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if c.Endpoint != "" {
			o.BaseEndpoint = aws.String(c.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Channel{Client: client, Bucket: c.Bucket, Prefix: c.Prefix}, nil
}

func (c *S3Channel) key(p string) string {
	return strings.TrimPrefix(strings.TrimSuffix(c.Prefix, "/")+"/"+strings.TrimPrefix(p, "/"), "/")
}

func isS3NotFound(err error) bool {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	return errors.As(err, &nsk) || errors.As(err, &nf)
}

func (c *S3Channel) Exists(ctx context.Context, p string) (bool, error) {
	_, err := c.Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.Bucket),
		Key:    aws.String(c.key(p)),
	})
	if isS3NotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, transportError("exists", p, err)
	}
	return true, nil
}

func (c *S3Channel) Read(ctx context.Context, p string) ([]byte, error) {
	resp, err := c.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.Bucket),
		Key:    aws.String(c.key(p)),
	})
	if isS3NotFound(err) {
		return nil, notExist("read", p)
	}
	if err != nil {
		return nil, transportError("read", p, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError("read", p, err)
	}
	return data, nil
}

func (c *S3Channel) Write(ctx context.Context, p string, data []byte) error {
	_, err := c.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(c.Bucket),
		Key:    aws.String(c.key(p)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return transportError("write", p, err)
	}
	return nil
}

// Rename copies and then deletes; S3 has no atomic rename.
func (c *S3Channel) Rename(ctx context.Context, from, to string) error {
	_, err := c.Client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(c.Bucket),
		Key:        aws.String(c.key(to)),
		CopySource: aws.String(c.Bucket + "/" + c.key(from)),
	})
	if isS3NotFound(err) {
		return notExist("rename", from)
	}
	if err != nil {
		return transportError("rename", from, err)
	}
	return c.Remove(ctx, from)
}

// Remove checks for the object first because S3 deletes are idempotent.
func (c *S3Channel) Remove(ctx context.Context, p string) error {
	ok, err := c.Exists(ctx, p)
	if err != nil {
		return err
	}
	if !ok {
		return notExist("remove", p)
	}
	_, err = c.Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.Bucket),
		Key:    aws.String(c.key(p)),
	})
	if err != nil {
		return transportError("remove", p, err)
	}
	return nil
}

func (c *S3Channel) Close() error { return nil }
