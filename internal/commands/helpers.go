// Package commands implements the CLI subcommands for the opsrelay binary.
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	"github.com/opsrelay/opsrelay/internal/credential"
	"github.com/opsrelay/opsrelay/internal/dispatch"
	"github.com/opsrelay/opsrelay/internal/forge"
	"github.com/opsrelay/opsrelay/internal/retry"
	"github.com/opsrelay/opsrelay/internal/store"
	redisstore "github.com/opsrelay/opsrelay/internal/store/redis"
	"github.com/opsrelay/opsrelay/pkg/types"
)

// buildStore creates the configured dispatch record backend.
func buildStore(cfg *types.ProjectConfig, logger *slog.Logger) (store.Store, error) {
	switch cfg.Store.Provider {
	case "", "memory":
		return store.NewMemory(), nil
	case "redis":
		if cfg.Store.Redis == nil {
			return nil, fmt.Errorf("redis config is required when provider is redis")
		}
		return redisstore.New(cfg.Store.Redis, logger)
	default:
		return nil, fmt.Errorf("unsupported store provider: %s", cfg.Store.Provider)
	}
}

// buildCredentials assembles the credential pool from inline tokens and, when
// configured, a Secrets Manager secret.
func buildCredentials(ctx context.Context, cfg *types.ProjectConfig) (*credential.Pool, error) {
	tokens := append([]string(nil), cfg.Forge.Tokens...)

	if cfg.Forge.TokensSecret != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("loading AWS config: %w", err)
		}
		secretTokens, err := credential.LoadSecretsManager(ctx, secretsmanager.NewFromConfig(awsCfg), cfg.Forge.TokensSecret)
		if err != nil {
			return nil, fmt.Errorf("loading tokens from Secrets Manager: %w", err)
		}
		tokens = append(tokens, secretTokens...)
	}

	return credential.NewPool(tokens), nil
}

// buildForgeClient creates the remote API client, wrapped with a circuit
// breaker when configured.
func buildForgeClient(cfg *types.ProjectConfig) (forge.Client, error) {
	opts := []forge.HTTPOption{}
	if cfg.Forge.RequestTimeout != "" {
		d, err := time.ParseDuration(cfg.Forge.RequestTimeout)
		if err != nil {
			return nil, fmt.Errorf("parsing forge.requestTimeout: %w", err)
		}
		opts = append(opts, forge.WithRequestTimeout(d))
	}

	var client forge.Client = forge.NewHTTPClient(cfg.Forge.BaseURL, cfg.Forge.Owner, cfg.Forge.Repo, opts...)
	if cfg.Forge.Breaker {
		client = forge.WithBreaker(client)
	}
	return client, nil
}

// buildTracker wires a dispatch tracker from configuration.
func buildTracker(cfg *types.ProjectConfig, client forge.Client, pool *credential.Pool, logger *slog.Logger, extra ...dispatch.Option) (*dispatch.Tracker, error) {
	opts := []dispatch.Option{
		dispatch.WithLogger(logger),
		dispatch.WithCredentials(pool),
		dispatch.WithRetryPolicy(retryPolicy(cfg.Retry)),
	}

	if pc := cfg.Poll; pc != nil {
		for _, field := range []struct {
			value string
			opt   func(time.Duration) dispatch.Option
		}{
			{pc.Interval, dispatch.WithPollInterval},
			{pc.Lookback, dispatch.WithLookback},
			{pc.Grace, dispatch.WithGraceDelay},
		} {
			if field.value == "" {
				continue
			}
			d, err := time.ParseDuration(field.value)
			if err != nil {
				return nil, fmt.Errorf("parsing poll config: %w", err)
			}
			opts = append(opts, field.opt(d))
		}
		if pc.DiscoveryAttempts > 0 {
			opts = append(opts, dispatch.WithDiscoveryAttempts(pc.DiscoveryAttempts))
		}
		if pc.TimeoutSeconds > 0 {
			opts = append(opts, dispatch.WithTimeout(time.Duration(pc.TimeoutSeconds)*time.Second))
		}
	}

	return dispatch.New(client, append(opts, extra...)...), nil
}

// retryPolicy maps retry configuration onto the default policy.
func retryPolicy(rc *types.RetryConfig) retry.Policy {
	policy := retry.DefaultPolicy()
	if rc == nil {
		return policy
	}
	if rc.MaxRetries > 0 {
		policy.MaxRetries = rc.MaxRetries
	}
	if rc.BaseDelay != "" {
		if d, err := time.ParseDuration(rc.BaseDelay); err == nil {
			policy.BaseDelay = d
		}
	}
	if rc.MaxDelay != "" {
		if d, err := time.ParseDuration(rc.MaxDelay); err == nil {
			policy.MaxDelay = d
		}
	}
	if rc.ExponentialBase > 1 {
		policy.ExponentialBase = rc.ExponentialBase
	}
	if rc.Jitter != nil {
		policy.Jitter = *rc.Jitter
	}
	return policy
}

// parseInputs converts key=value arguments into a workflow input map.
func parseInputs(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	inputs := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid input %q, expected key=value", pair)
		}
		inputs[key] = value
	}
	return inputs, nil
}
