// Package file provides the file-based reference implementation of the
// saga state store. It is the store used by tests and local development;
// deployments share state through the PostgreSQL implementation.
package file

import (
	"context"
	"os"
	"strings"

	"github.com/tandemhq/tandem/pkg/persistence"
)

// Persistence implements persistence.Persistence on the local file system.
type Persistence struct {
	root     string
	sagaRepo *SagaRepository
}

// NewPersistence creates a file persistence layer rooted at the given
// directory.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{
		root:     cleanRoot,
		sagaRepo: NewSagaRepository(cleanRoot),
	}
}

func (fp *Persistence) Sagas() persistence.SagaRepository {
	return fp.sagaRepo
}

// HealthCheck verifies the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

// Close performs any necessary cleanup. For file-based persistence there is
// nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}
