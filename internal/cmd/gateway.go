package cmd

import (
	"net/http"

	"github.com/apilens/apilens/internal/config"
	"github.com/apilens/apilens/internal/core/auth"
	"github.com/apilens/apilens/internal/core/client"
	"github.com/apilens/apilens/internal/core/quota"
	"github.com/apilens/apilens/internal/observability"
	"github.com/apilens/apilens/internal/server"
)

// buildGateway wires the admission controller, token supplier, and executor
// from validated configuration. All callers of the executor share the same
// controller so local accounting matches what the upstream sees.
func buildGateway(cfg *config.Config) (server.Dependencies, error) {
	zone, err := cfg.Quota.ResetLocation()
	if err != nil {
		return server.Dependencies{}, err
	}

	limiter := quota.New(cfg.Quota.MinuteLimit, cfg.Quota.DayLimit, cfg.Quota.MaxConcurrent)
	limiter.Zone = zone
	limiter.Logger = observability.ServerLogger
	if limiter.Logger == nil {
		limiter.Logger = observability.CLILogger
	}

	httpClient := &http.Client{Timeout: cfg.API.Timeout}

	supplier := &auth.Supplier{
		TokenURL:     cfg.Auth.TokenURL,
		ClientID:     cfg.Auth.ClientID,
		ClientSecret: cfg.Auth.ClientSecret,
		Username:     cfg.Auth.Username,
		Password:     cfg.Auth.Password,
		RefreshSkew:  cfg.Auth.RefreshSkew,
		HTTPClient:   httpClient,
	}

	executor := &client.Executor{
		BaseURL:    cfg.API.BaseURL,
		HTTPClient: httpClient,
		Tokens:     supplier,
		Limiter:    limiter,
		UserAgent:  cfg.API.UserAgent,
		Logger:     limiter.Logger,
	}

	return server.Dependencies{
		Executor: executor,
		Limiter:  limiter,
	}, nil
}
