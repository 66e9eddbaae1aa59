package credential

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// SecretsManagerAPI is the subset of the Secrets Manager client we use
// (injectable for testing).
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// LoadSecretsManager fetches forge tokens from an AWS Secrets Manager secret.
// The secret string is either a JSON array of tokens or a single raw token.
func LoadSecretsManager(ctx context.Context, api SecretsManagerAPI, secretID string) ([]string, error) {
	if secretID == "" {
		return nil, fmt.Errorf("secret id is required")
	}

	out, err := api.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretID),
	})
	if err != nil {
		return nil, fmt.Errorf("fetching secret %s: %w", secretID, err)
	}

	raw := aws.ToString(out.SecretString)
	if raw == "" {
		return nil, fmt.Errorf("secret %s has no string value", secretID)
	}

	if strings.HasPrefix(strings.TrimSpace(raw), "[") {
		var tokens []string
		if err := json.Unmarshal([]byte(raw), &tokens); err != nil {
			return nil, fmt.Errorf("parsing secret %s: %w", secretID, err)
		}
		return tokens, nil
	}

	return []string{strings.TrimSpace(raw)}, nil
}
