// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flow Contributors

package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/flowscripts/flow/internal/xdg"
)

// EnvPrefix prefixes environment variables that map onto any config key.
// A double underscore separates nesting levels: FLOW_SERVER__LISTEN_ADDR.
const EnvPrefix = "FLOW_"

// legacyEnv maps the deployment's historical variable names onto config keys.
var legacyEnv = map[string]string{
	"JWT_SECRET":         "auth.jwt_secret",
	"LUARMOR_API_KEY":    "luarmor.api_key",
	"LUARMOR_PROJECT_ID": "luarmor.project_id",
	"DISCORD_BOT_TOKEN":  "discord.bot_token",
	"DATABASE_URL":       "store.database_url",
}

// LoadOptions controls where configuration is read from.
type LoadOptions struct {
	// File is an explicit config file path. When empty the XDG default is
	// used if it exists.
	File string

	// Flags, when set, overlay every changed flag listed in FlagKeys.
	Flags *pflag.FlagSet

	// FlagKeys maps flag names to config keys.
	FlagKeys map[string]string
}

// Load builds the configuration from defaults, file, environment and flags.
func Load(opts LoadOptions) (*Config, error) {
	k := koanf.New(".")

	path := opts.File
	if path == "" {
		path = xdg.DefaultConfigFile()
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			path = ""
		}
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
		}
	}

	if err := k.Load(env.ProviderWithValue("", ".", envKey), nil); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "env").Wrap(err)
	}

	if opts.Flags != nil {
		provider := posflag.ProviderWithFlag(opts.Flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			key, ok := opts.FlagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, f.Value.String()
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
		}
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").Wrap(err)
	}
	return cfg, nil
}

// envKey translates one environment variable into a config key and value.
// Returning an empty key skips the variable.
func envKey(name, value string) (string, interface{}) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", nil
	}

	switch name {
	case "PORT":
		return "server.listen_addr", ":" + value
	case "CORS_ORIGINS":
		return "cors.origins", splitList(value)
	case "ALLOW_INSECURE_TLS":
		return "luarmor.allow_insecure_tls", value == "true"
	}
	if key, ok := legacyEnv[name]; ok {
		return key, value
	}

	rest, ok := strings.CutPrefix(name, EnvPrefix)
	if !ok || rest == "" {
		return "", nil
	}
	key := strings.ToLower(strings.ReplaceAll(rest, "__", "."))
	if key == "cors.origins" {
		return key, splitList(value)
	}
	return key, value
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
