package credential

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSecretsAPI struct {
	value string
	err   error

	gotSecretID string
}

func (f *fakeSecretsAPI) GetSecretValue(_ context.Context, params *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	f.gotSecretID = aws.ToString(params.SecretId)
	if f.err != nil {
		return nil, f.err
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: aws.String(f.value)}, nil
}

func TestLoadSecretsManager_JSONArray(t *testing.T) {
	api := &fakeSecretsAPI{value: `["tok-a","tok-b"]`}

	tokens, err := LoadSecretsManager(context.Background(), api, "opsrelay/forge-tokens")
	require.NoError(t, err)
	assert.Equal(t, []string{"tok-a", "tok-b"}, tokens)
	assert.Equal(t, "opsrelay/forge-tokens", api.gotSecretID)
}

func TestLoadSecretsManager_SingleToken(t *testing.T) {
	api := &fakeSecretsAPI{value: "  ghp_single\n"}

	tokens, err := LoadSecretsManager(context.Background(), api, "opsrelay/forge-tokens")
	require.NoError(t, err)
	assert.Equal(t, []string{"ghp_single"}, tokens)
}

func TestLoadSecretsManager_APIError(t *testing.T) {
	api := &fakeSecretsAPI{err: errors.New("access denied")}

	_, err := LoadSecretsManager(context.Background(), api, "opsrelay/forge-tokens")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
}

func TestLoadSecretsManager_InvalidJSON(t *testing.T) {
	api := &fakeSecretsAPI{value: `["unterminated`}

	_, err := LoadSecretsManager(context.Background(), api, "opsrelay/forge-tokens")
	require.Error(t, err)
}

func TestLoadSecretsManager_EmptySecretID(t *testing.T) {
	_, err := LoadSecretsManager(context.Background(), &fakeSecretsAPI{}, "")
	require.Error(t, err)
}
