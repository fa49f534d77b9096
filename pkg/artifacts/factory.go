package artifacts

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// BackendType names which Store implementation to construct.
type BackendType string

const (
	BackendFile BackendType = "file"
	BackendS3   BackendType = "s3"
)

// FactoryConfig carries everything NewStore needs to pick and
// construct a backend, mirroring the Production Guard's
// artifact_dir/S3 settings rather than reading the environment
// directly — the core never reaches into os.Getenv for its own wiring.
type FactoryConfig struct {
	Backend BackendType

	// File backend.
	BaseDir string

	// S3 backend.
	S3Bucket   string
	S3Region   string
	S3Endpoint string
	S3Prefix   string
}

// NewStore selects and constructs the configured artifact backend.
func NewStore(ctx context.Context, cfg FactoryConfig) (Store, error) {
	switch cfg.Backend {
	case "", BackendFile:
		dir := cfg.BaseDir
		if dir == "" {
			dir = filepath.Join("data", "artifacts")
		}
		return NewFileStore(dir)
	case BackendS3:
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("artifacts: s3 backend requires a bucket")
		}
		optFns := []func(*awsconfig.LoadOptions) error{}
		if cfg.S3Region != "" {
			optFns = append(optFns, awsconfig.WithRegion(cfg.S3Region))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
		if err != nil {
			return nil, fmt.Errorf("artifacts: failed to load aws config: %w", err)
		}
		client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if cfg.S3Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			}
		})
		return NewS3Store(client, cfg.S3Bucket, cfg.S3Prefix), nil
	default:
		return nil, fmt.Errorf("artifacts: unsupported backend %q", cfg.Backend)
	}
}
