package service

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	config "github.com/maheshrc27/postscheduler/configs"
)

// MediaResolver turns stored media references into URLs the content API can fetch.
// References that cannot be resolved are dropped; an empty result means nothing is publishable.
type MediaResolver interface {
	Resolve(ctx context.Context, refs []string) ([]string, error)
}

type presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

type mediaResolver struct {
	presign presigner
	bucket  string
	ttl     time.Duration
	baseURL string
}

// NewMediaResolver presigns object keys against R2 when credentials are configured
// and otherwise joins them onto MEDIA_BASE_URL.
func NewMediaResolver(ctx context.Context, cfg config.Config) (MediaResolver, error) {
	r := &mediaResolver{
		bucket:  cfg.R2.BucketName,
		ttl:     cfg.R2.PresignTTL,
		baseURL: strings.TrimRight(cfg.MediaBaseURL, "/"),
	}
	if !cfg.R2.Enabled() {
		return r, nil
	}

	client, err := newR2Client(ctx, cfg.R2)
	if err != nil {
		return nil, err
	}
	r.presign = s3.NewPresignClient(client)
	return r, nil
}

func newR2Client(ctx context.Context, r2 config.R2) (*s3.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(r2.AccessKey, r2.SecretKey, "")),
		awsconfig.WithRegion("auto"),
	)
	if err != nil {
		return nil, fmt.Errorf("loading r2 config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(fmt.Sprintf("https://%s.r2.cloudflarestorage.com", r2.AccountID))
	}), nil
}

func (r *mediaResolver) Resolve(ctx context.Context, refs []string) ([]string, error) {
	urls := make([]string, 0, len(refs))
	for _, ref := range refs {
		ref = strings.TrimSpace(ref)
		if ref == "" {
			continue
		}

		if isAbsoluteURL(ref) {
			urls = append(urls, ref)
			continue
		}

		key := strings.TrimLeft(ref, "/")
		switch {
		case r.presign != nil:
			req, err := r.presign.PresignGetObject(ctx, &s3.GetObjectInput{
				Bucket: aws.String(r.bucket),
				Key:    aws.String(key),
			}, s3.WithPresignExpires(r.ttl))
			if err != nil {
				return nil, fmt.Errorf("presigning %s: %w", key, err)
			}
			urls = append(urls, req.URL)
		case r.baseURL != "":
			urls = append(urls, r.baseURL+"/"+key)
		}
	}
	return urls, nil
}

func isAbsoluteURL(ref string) bool {
	u, err := url.Parse(ref)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
