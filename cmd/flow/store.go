// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flow Contributors

package main

import (
	"context"

	"github.com/flowscripts/flow/internal/account"
	"github.com/flowscripts/flow/internal/config"
	"github.com/flowscripts/flow/internal/store"
)

// CredentialStore is a store the process owns for its lifetime.
type CredentialStore interface {
	account.Store
	Ping(ctx context.Context) error
	Close()
}

// openStore opens the configured credential store.
func openStore(ctx context.Context, cfg config.StoreConfig) (CredentialStore, error) {
	if cfg.Driver == config.DriverPostgres {
		pg, err := store.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return pg, nil
	}
	fs, err := store.NewFileStore(cfg.Path)
	if err != nil {
		return nil, err
	}
	return fs, nil
}
