package llm

// ============================================================================
// Bedrock SigV4 signing
// ============================================================================

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
)

const bedrockService = "bedrock"

// BedrockSigner signs Messages API requests for the Bedrock runtime using
// the ambient AWS credential chain.
type BedrockSigner struct {
	region string
	creds  aws.CredentialsProvider
	signer *v4.Signer
}

// NewBedrockSigner resolves credentials from the default chain.
func NewBedrockSigner(ctx context.Context, region string) (*BedrockSigner, error) {
	if region == "" {
		return nil, fmt.Errorf("bedrock requires a region")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &BedrockSigner{
		region: region,
		creds:  awsCfg.Credentials,
		signer: v4.NewSigner(),
	}, nil
}

// IsConfigured reports whether signing can proceed.
func (s *BedrockSigner) IsConfigured() bool {
	return s != nil && s.creds != nil
}

// BuildTargetURL returns the Bedrock runtime invoke URL for a model.
func (s *BedrockSigner) BuildTargetURL(model string, stream bool) string {
	action := "invoke"
	if stream {
		action = "invoke-with-response-stream"
	}
	return fmt.Sprintf("https://bedrock-runtime.%s.amazonaws.com/model/%s/%s",
		s.region, url.PathEscape(model), action)
}

// SignRequest computes the payload hash and signs the request in place.
func (s *BedrockSigner) SignRequest(ctx context.Context, req *http.Request, body []byte) error {
	creds, err := s.creds.Retrieve(ctx)
	if err != nil {
		return fmt.Errorf("retrieve aws credentials: %w", err)
	}
	hash := sha256.Sum256(body)
	return s.signer.SignHTTP(ctx, creds, req, hex.EncodeToString(hash[:]),
		bedrockService, s.region, time.Now())
}
