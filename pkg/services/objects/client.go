package objects

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ClientConfig configures the S3 client built by NewClient.
type ClientConfig struct {
	Region string
	// Endpoint overrides the S3 endpoint, e.g. for MinIO.
	Endpoint  string
	PathStyle bool
}

// NewClient builds an S3 client from the default AWS configuration chain
// (environment, shared config and credentials files, SSO, container and
// instance roles). It fails when no credentials can be resolved.
func NewClient(ctx context.Context, cfg ClientConfig) (*s3.Client, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("objects: load aws config: %w", err)
	}

	creds, err := awsCfg.Credentials.Retrieve(ctx)
	if err != nil {
		return nil, fmt.Errorf("objects: resolve credentials: %w", err)
	}
	if !creds.HasKeys() {
		return nil, fmt.Errorf("objects: resolve credentials: no keys from %s", creds.Source)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}
