package httpcall

import (
	"github.com/tandemhq/tandem/pkg/protocol"
)

// Factory creates HTTP call step handlers.
type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

// ID returns the handler type used in definition documents.
func (f *Factory) ID() string {
	return "http_call"
}

func (f *Factory) Create(config map[string]any) (protocol.StepHandler, error) {
	return NewHandler(config)
}
