package appid

import (
	"context"
	"strings"

	"github.com/fulmenhq/gofulmen/appidentity"

	appidentityassets "github.com/apilens/apilens/internal/assets/appidentity"
)

func init() {
	// Embedded identity keeps the standalone binary self-describing when no
	// external `.fulmen/app.yaml` is present. Explicit overrides
	// (Options.ExplicitPath, FULMEN_APP_IDENTITY_PATH) stay authoritative.
	_ = appidentity.RegisterEmbeddedIdentityYAML(appidentityassets.YAML)
}

func Get(ctx context.Context) (*appidentity.Identity, error) {
	return appidentity.Get(ctx)
}

// EnvVar builds a fully prefixed environment variable name, e.g.
// EnvVar(identity, "ADMIN_TOKEN") yields "APILENS_ADMIN_TOKEN".
func EnvVar(identity *appidentity.Identity, name string) string {
	prefix := "APILENS_"
	if identity != nil && identity.EnvPrefix != "" {
		prefix = identity.EnvPrefix
		if !strings.HasSuffix(prefix, "_") {
			prefix += "_"
		}
	}
	return prefix + name
}

// ViperPrefix returns the identity env prefix without its trailing
// underscore, the shape viper.SetEnvPrefix expects.
func ViperPrefix(identity *appidentity.Identity) string {
	return strings.TrimSuffix(EnvVar(identity, ""), "_")
}
