// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flow Contributors

package discord

import (
	"errors"
	"io/fs"
	"log/slog"
	"strings"

	"github.com/knadh/koanf/parsers/dotenv"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// TokenEnvKey is the variable holding the bot token.
const TokenEnvKey = "DISCORD_BOT_TOKEN"

// TokenPlaceholder marks an unfilled token in shipped env templates.
const TokenPlaceholder = "YOUR_DISCORD_BOT_TOKEN_HERE"

// TokenResolver picks the bot token on every call so that editing the env
// file takes effect without a restart.
type TokenResolver struct {
	// EnvFile is a dotenv file whose DISCORD_BOT_TOKEN wins over Runtime.
	EnvFile string
	// Runtime is the token from configuration.
	Runtime string
	Logger  *slog.Logger
}

// Resolve returns the usable token, or "" when neither source has one.
func (r TokenResolver) Resolve() string {
	if token := usable(r.fileToken()); token != "" {
		return token
	}
	return usable(r.Runtime)
}

func usable(token string) string {
	token = strings.TrimSpace(token)
	if strings.Contains(token, TokenPlaceholder) {
		return ""
	}
	return token
}

func (r TokenResolver) fileToken() string {
	if r.EnvFile == "" {
		return ""
	}
	k := koanf.New(".")
	if err := k.Load(file.Provider(r.EnvFile), dotenv.Parser()); err != nil {
		if !errors.Is(err, fs.ErrNotExist) && r.Logger != nil {
			r.Logger.Warn("could not read env file", "path", r.EnvFile, "error", err)
		}
		return ""
	}
	return k.String(TokenEnvKey)
}
