package tx

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
)

func joinRollback(err, rbErr error) error {
	return multierror.Append(err, fmt.Errorf("rollback failed: %w", rbErr))
}
