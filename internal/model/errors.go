package model

import (
	"errors"
	"fmt"
)

// ErrLengthOrHashMismatch marks downloaded bytes that disagree with the
// length or hash committed in verified metadata.
var ErrLengthOrHashMismatch = errors.New("length or hash mismatch")

// TrustFailure classifies a TrustError.
type TrustFailure string

const (
	TrustNetwork   TrustFailure = "network"   // fetch failed or was cancelled
	TrustSignature TrustFailure = "signature" // signature, threshold or integrity failure
	TrustRollback  TrustFailure = "rollback"  // version counter went backwards
	TrustExpired   TrustFailure = "expired"
	TrustMalformed TrustFailure = "malformed"
	TrustRoot      TrustFailure = "root" // pinned root missing, unreadable or not attested
)

type (
	// ConfigError reports local directories or settings that cannot be resolved or created.
	ConfigError struct {
		Op   string
		Path string
		Err  error
	}

	// TrustError reports any failure to establish or use the metadata trust chain.
	TrustError struct {
		Kind TrustFailure
		Err  error
	}

	// NotFoundError means the repository has no release channel for a platform.
	// It is a legitimate empty result, not a trust failure.
	NotFoundError struct {
		Platform string
	}

	// IOError reports download, write or extract failures.
	IOError struct {
		Op   string
		Path string
		Err  error
	}

	// SecurityError reports an archive entry that would escape the staging directory.
	SecurityError struct {
		Entry  string
		Reason string
	}

	// StateSyncError means files were promoted but version bookkeeping is stale.
	StateSyncError struct {
		From string
		To   string
		Err  error
	}
)

func (e *ConfigError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

func (e *TrustError) Error() string {
	return fmt.Sprintf("trust %s: %v", e.Kind, e.Err)
}

func (e *TrustError) Unwrap() error { return e.Err }

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no release for platform %s", e.Platform)
}

func (e *IOError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

func (e *SecurityError) Error() string {
	return fmt.Sprintf("archive entry %q rejected: %s", e.Entry, e.Reason)
}

func (e *StateSyncError) Error() string {
	return fmt.Sprintf("version %s installed but state not recorded (still %s): %v", e.To, e.From, e.Err)
}

func (e *StateSyncError) Unwrap() error { return e.Err }

// IsTrustFailure reports whether err carries a TrustError of the given kind.
func IsTrustFailure(err error, kind TrustFailure) bool {
	var te *TrustError
	return errors.As(err, &te) && te.Kind == kind
}
