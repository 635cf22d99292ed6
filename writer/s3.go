package writer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	appconfig "hivetax/config"
	"hivetax/logger"
)

// S3Uploader copies finished export files into an S3 bucket. Uploads run
// after the export completes so a partial run never leaves a truncated
// object behind.
type S3Uploader struct {
	config *appconfig.Config
	client *s3.Client
	log    *logger.Log
}

// NewS3Uploader configures the AWS SDK and validates that credentials are
// resolvable before any upload is attempted.
func NewS3Uploader(ctx context.Context, cfg *appconfig.Config) (*S3Uploader, error) {
	log := logger.GetLogger()

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Storage.S3.Region)}
	if cfg.Storage.S3.AccessKeyID != "" && cfg.Storage.S3.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.Storage.S3.AccessKeyID,
				cfg.Storage.S3.SecretAccessKey,
				"",
			),
		))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		log.WithComponent("s3_uploader").WithError(err).Warn("failed to load AWS configuration")
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	creds, err := awsConfig.Credentials.Retrieve(ctx)
	if err != nil || !creds.HasKeys() {
		return nil, fmt.Errorf("aws credentials not found")
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Storage.S3.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.S3.Endpoint)
		}
		o.UsePathStyle = cfg.Storage.S3.PathStyle
	})

	log.WithComponent("s3_uploader").WithFields(logger.Fields{
		"bucket": cfg.Storage.S3.Bucket,
		"region": cfg.Storage.S3.Region,
	}).Debug("s3 uploader initialized")

	return &S3Uploader{
		config: cfg,
		client: client,
		log:    log,
	}, nil
}

// UploadFile stores a local file under
// <prefix>/<account>/<start>_<end>/<filename>.
func (u *S3Uploader) UploadFile(ctx context.Context, localPath string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open %s for upload: %w", localPath, err)
	}
	defer file.Close()

	key := u.objectKey(filepath.Base(localPath))

	contentType := "application/octet-stream"
	if filepath.Ext(localPath) == ".csv" {
		contentType = "text/csv"
	}

	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.config.Storage.S3.Bucket),
		Key:         aws.String(key),
		Body:        file,
		ContentType: aws.String(contentType),
		Metadata: map[string]string{
			"account":    u.config.Export.Account,
			"start-date": u.config.Export.StartDate,
			"end-date":   u.config.Export.EndDate,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s to s3://%s/%s: %w", localPath, u.config.Storage.S3.Bucket, key, err)
	}

	u.log.WithComponent("s3_uploader").WithFields(logger.Fields{
		"bucket": u.config.Storage.S3.Bucket,
		"key":    key,
	}).Info("export uploaded to s3")

	return nil
}

func (u *S3Uploader) objectKey(filename string) string {
	key := fmt.Sprintf("%s/%s_%s/%s",
		u.config.Export.Account,
		u.config.Export.StartDate,
		u.config.Export.EndDate,
		filename,
	)
	if prefix := u.config.Storage.S3.Prefix; prefix != "" {
		key = prefix + "/" + key
	}
	return filepath.ToSlash(key)
}
