package infrastructure

import (
	"commercebot/internal/logger"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

// ssmAPI is the part of *ssm.Client the store needs.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// ParamStore reads decrypted parameters from AWS SSM.
type ParamStore struct {
	api ssmAPI
}

func NewParamStore(api ssmAPI) (*ParamStore, error) {
	if api == nil {
		return nil, errors.New("paramstore: api must not be nil")
	}
	return &ParamStore{api: api}, nil
}

// NewParamStoreFromEnv uses the default AWS credential chain.
func NewParamStoreFromEnv(ctx context.Context) (*ParamStore, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("paramstore: load aws config: %w", err)
	}
	return NewParamStore(ssm.NewFromConfig(cfg))
}

func (p *ParamStore) GetParameter(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("paramstore: name is required")
	}
	withDecryption := true
	out, err := p.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &name,
		WithDecryption: &withDecryption,
	})
	if err != nil {
		return "", fmt.Errorf("paramstore: get parameter %q: %w", name, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", fmt.Errorf("paramstore: parameter %q missing value", name)
	}
	return *out.Parameter.Value, nil
}

// ResolveSecrets fills every empty target from "{prefix}/{name}". Targets
// already set (from the environment) are left alone, and parameters that do
// not exist are skipped.
func (p *ParamStore) ResolveSecrets(ctx context.Context, prefix string, targets map[string]*string) error {
	prefix = strings.TrimRight(prefix, "/")
	names := make([]string, 0, len(targets))
	for name := range targets {
		names = append(names, name)
	}
	sort.Strings(names)

	log := logger.WithModule("paramstore")
	for _, name := range names {
		target := targets[name]
		if target == nil || *target != "" {
			continue
		}
		value, err := p.GetParameter(ctx, prefix+"/"+name)
		if err != nil {
			var notFound *types.ParameterNotFound
			if errors.As(err, &notFound) {
				log.WithField("parameter", name).Debug("parameter not set")
				continue
			}
			return err
		}
		*target = value
	}
	return nil
}
