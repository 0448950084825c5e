package update

import (
	"context"
	"errors"
	"fmt"

	"github.com/3leaps/tufup/internal/model"
)

// Describe collapses err into the single message shown to the user.
func Describe(err error) string {
	if err == nil {
		return ""
	}

	var (
		syncErr     *model.StateSyncError
		secErr      *model.SecurityError
		cfgErr      *model.ConfigError
		notFoundErr *model.NotFoundError
		trustErr    *model.TrustError
		ioErr       *model.IOError
	)
	switch {
	case errors.As(err, &syncErr):
		return fmt.Sprintf("version %s is installed but the version record still says %s; run reconcile to retry the bookkeeping: %v", syncErr.To, syncErr.From, syncErr.Err)
	case errors.As(err, &secErr):
		return "security error: " + secErr.Error()
	case errors.As(err, &cfgErr):
		return "configuration error: " + cfgErr.Error()
	case errors.As(err, &notFoundErr):
		return "not found: " + notFoundErr.Error()
	case errors.As(err, &ioErr):
		return "i/o error: " + ioErr.Error()
	case errors.As(err, &trustErr):
		return fmt.Sprintf("trust error (%s): %v", trustErr.Kind, trustErr.Err)
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timed out"
	default:
		return err.Error()
	}
}
