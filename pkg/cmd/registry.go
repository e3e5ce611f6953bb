// Package cmd provides common initialization functions for command-line
// applications.
package cmd

import (
	"log/slog"

	"github.com/tandemhq/tandem/pkg/registry"
	"github.com/tandemhq/tandem/pkg/steps/httpcall"
	"github.com/tandemhq/tandem/pkg/steps/logstep"
)

// NewRegistry builds the definition registry with the native step handler
// types registered and, when definitionsPath is set, the definition
// documents from that directory loaded.
func NewRegistry(logger *slog.Logger, definitionsPath string) (*registry.Registry, error) {
	reg := registry.NewRegistry(logger)

	reg.RegisterHandlerFactory(httpcall.NewFactory())
	reg.RegisterHandlerFactory(logstep.NewFactory(logger))

	if definitionsPath != "" {
		err := reg.LoadDefinitions(definitionsPath)
		if err != nil {
			return nil, err
		}
	}

	return reg, nil
}
