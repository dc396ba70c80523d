// Package appidentityassets embeds the app identity manifest so the compiled
// binary stays self-describing when run outside the repository.
package appidentityassets

import _ "embed"

//go:embed app.yaml
var YAML []byte
