package services

import (
	"bytes"
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"github.com/pkg/errors"

	config "github.com/treinanr/academy/configs"
)

const cloudinaryFolder = "academy_certificates"

// NewArtifactStore builds the store selected by ARTIFACT_STORE, or nil when
// artifacts are not kept.
func NewArtifactStore(cfg *config.Config) (ArtifactStore, error) {
	switch cfg.ArtifactStore {
	case config.StoreCloudinary:
		store, err := NewCloudinaryStore(cfg.CloudinaryURL)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.StoreS3:
		return NewS3Store(S3Options{
			Endpoint:      cfg.S3Endpoint,
			Region:        cfg.S3Region,
			Bucket:        cfg.S3Bucket,
			AccessKey:     cfg.S3AccessKey,
			SecretKey:     cfg.S3SecretKey,
			PublicBaseURL: cfg.S3PublicBaseURL,
		}), nil
	default:
		return nil, nil
	}
}

type CloudinaryStore struct {
	cld *cloudinary.Cloudinary
}

func NewCloudinaryStore(cloudinaryURL string) (*CloudinaryStore, error) {
	cld, err := cloudinary.NewFromURL(cloudinaryURL)
	if err != nil {
		return nil, errors.Wrap(err, "init cloudinary")
	}
	return &CloudinaryStore{cld: cld}, nil
}

func (s *CloudinaryStore) Put(ctx context.Context, key string, pdf []byte) (string, error) {
	res, err := s.cld.Upload.Upload(ctx, bytes.NewReader(pdf), uploader.UploadParams{
		PublicID:     strings.TrimSuffix(key, ".pdf"),
		Folder:       cloudinaryFolder,
		ResourceType: "raw",
	})
	if err != nil {
		return "", errors.Wrap(err, "upload certificate to cloudinary")
	}
	if res.Error.Message != "" {
		return "", errors.Errorf("upload certificate to cloudinary: %s", res.Error.Message)
	}
	return res.SecureURL, nil
}

type S3Options struct {
	Endpoint      string // empty uses the AWS endpoint for Region
	Region        string
	Bucket        string
	AccessKey     string
	SecretKey     string
	PublicBaseURL string // when set, references are PublicBaseURL/key
}

type S3Store struct {
	client *s3.Client
	opts   S3Options
}

func NewS3Store(opts S3Options) *S3Store {
	o := s3.Options{
		Region:       opts.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		UsePathStyle: opts.Endpoint != "",
	}
	if opts.Endpoint != "" {
		o.BaseEndpoint = aws.String(opts.Endpoint)
	}
	return &S3Store{client: s3.New(o), opts: opts}
}

func (s *S3Store) Put(ctx context.Context, key string, pdf []byte) (string, error) {
	key = "certificates/" + key
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.opts.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(pdf),
		ContentType:   aws.String("application/pdf"),
		ContentLength: aws.Int64(int64(len(pdf))),
	})
	if err != nil {
		return "", errors.Wrapf(err, "put s3://%s/%s", s.opts.Bucket, key)
	}
	if s.opts.PublicBaseURL != "" {
		return strings.TrimRight(s.opts.PublicBaseURL, "/") + "/" + key, nil
	}
	return "s3://" + s.opts.Bucket + "/" + key, nil
}
