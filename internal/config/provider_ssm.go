package config

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// ssmMaxBatchSize is the GetParameters per-request limit.
const ssmMaxBatchSize = 10

// SSMAPI is the subset of the SSM client used by SSMProvider.
type SSMAPI interface {
	GetParameters(ctx context.Context, params *ssm.GetParametersInput, optFns ...func(*ssm.Options)) (*ssm.GetParametersOutput, error)
}

var _ SSMAPI = (*ssm.Client)(nil)

// SSMProvider resolves SecureString parameters from AWS Systems Manager. The
// client is created lazily from the default credential chain.
type SSMProvider struct {
	region   string
	endpoint string
	client   SSMAPI
}

// NewSSMProvider returns a provider for region. endpoint overrides the
// service URL (LocalStack) when non-empty.
func NewSSMProvider(region, endpoint string) *SSMProvider {
	return &SSMProvider{region: region, endpoint: endpoint}
}

// NewSSMProviderWithAPI injects a client, typically a mock.
func NewSSMProviderWithAPI(api SSMAPI) *SSMProvider {
	return &SSMProvider{client: api}
}

func (p *SSMProvider) ensureClient(ctx context.Context) error {
	if p.client != nil {
		return nil
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(p.region))
	if err != nil {
		return fmt.Errorf("config: load AWS config for SSM (region=%s): %w", p.region, err)
	}
	p.client = ssm.NewFromConfig(cfg, func(o *ssm.Options) {
		if p.endpoint != "" {
			o.BaseEndpoint = aws.String(p.endpoint)
		}
	})
	return nil
}

// GetParametersBatch decrypts keys in batches of ten. Parameters SSM reports
// as invalid fail the whole call.
func (p *SSMProvider) GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	if err := p.ensureClient(ctx); err != nil {
		return nil, err
	}

	for start := 0; start < len(keys); start += ssmMaxBatchSize {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("config: SSM resolution cancelled: %w", err)
		}
		batch := keys[start:min(start+ssmMaxBatchSize, len(keys))]

		resp, err := p.client.GetParameters(ctx, &ssm.GetParametersInput{
			Names:          batch,
			WithDecryption: aws.Bool(true),
		})
		if err != nil {
			return nil, fmt.Errorf("config: SSM GetParameters (keys %d-%d of %d): %w",
				start, start+len(batch)-1, len(keys), err)
		}
		if len(resp.InvalidParameters) > 0 {
			return nil, fmt.Errorf("config: SSM parameters not found: %s", strings.Join(resp.InvalidParameters, ", "))
		}
		for _, param := range resp.Parameters {
			if param.Name != nil && param.Value != nil {
				out[*param.Name] = *param.Value
			}
		}
	}
	return out, nil
}
