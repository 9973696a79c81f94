package kms

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/smithy-go"
	"github.com/heirkeep/vault/internal/common"

	awskms "github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
)

// kmsAPI is the subset of the AWS KMS client used here; tests substitute a fake.
type kmsAPI interface {
	GenerateDataKey(ctx context.Context, params *awskms.GenerateDataKeyInput, optFns ...func(*awskms.Options)) (*awskms.GenerateDataKeyOutput, error)
	Decrypt(ctx context.Context, params *awskms.DecryptInput, optFns ...func(*awskms.Options)) (*awskms.DecryptOutput, error)
}

// AWSClient implements Client on top of AWS KMS with a fixed customer master
// key. CloudTrail records every Decrypt call on the service side.
type AWSClient struct {
	api   kmsAPI
	keyID string
}

func NewAWSClient(api *awskms.Client, keyID string) *AWSClient {
	return &AWSClient{api: api, keyID: keyID}
}

func (c *AWSClient) GenerateDataKey(ctx context.Context) ([]byte, []byte, error) {
	out, err := c.api.GenerateDataKey(ctx, &awskms.GenerateDataKeyInput{
		KeyId:   aws.String(c.keyID),
		KeySpec: types.DataKeySpecAes256,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("%w: kms GenerateDataKey (code %s)", common.ErrKeyGeneration, awsErrorCode(err))
	}
	return out.Plaintext, out.CiphertextBlob, nil
}

func (c *AWSClient) Unwrap(ctx context.Context, wrapped []byte) ([]byte, error) {
	if len(wrapped) == 0 {
		return nil, fmt.Errorf("%w: wrapped key is empty", common.ErrInvalidKey)
	}

	out, err := c.api.Decrypt(ctx, &awskms.DecryptInput{CiphertextBlob: wrapped})
	if err != nil {
		var invalid *types.InvalidCiphertextException
		if errors.As(err, &invalid) {
			return nil, fmt.Errorf("%w: malformed wrapped key (len %d)", common.ErrInvalidKey, len(wrapped))
		}
		return nil, fmt.Errorf("%w: kms Decrypt (code %s)", common.ErrKeyUnwrap, awsErrorCode(err))
	}
	return out.Plaintext, nil
}

// awsErrorCode extracts the service error code for diagnostics.
func awsErrorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return "Unknown"
}
