package remote

import (
	"errors"
	"fmt"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	platformerrors "github.com/jmgilman/go/errors"
)

// wrapError classifies err as a platform error and prefixes it with context.
// The original chain is preserved for errors.Is. A nil err yields nil.
func wrapError(err error, context string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", context, classifyError(err))
}

type classification struct {
	target  error
	code    platformerrors.ErrorCode
	message string
}

// classifications maps go-git sentinels to platform codes. Order matters only
// for errors that wrap more than one sentinel.
var classifications = []classification{
	{gogit.ErrRepositoryNotExists, platformerrors.CodeNotFound, "repository does not exist"},
	{transport.ErrRepositoryNotFound, platformerrors.CodeNotFound, "repository not found"},
	{transport.ErrEmptyRemoteRepository, platformerrors.CodeNotFound, "remote repository is empty"},
	{plumbing.ErrReferenceNotFound, platformerrors.CodeNotFound, "reference not found"},
	{plumbing.ErrObjectNotFound, platformerrors.CodeNotFound, "object not found"},
	{object.ErrEntryNotFound, platformerrors.CodeNotFound, "path not found in tree"},
	{object.ErrDirectoryNotFound, platformerrors.CodeNotFound, "directory not found in tree"},
	{object.ErrFileNotFound, platformerrors.CodeNotFound, "file not found in tree"},
	{gogit.ErrRemoteNotFound, platformerrors.CodeNotFound, "remote not found"},
	{gogit.ErrRepositoryAlreadyExists, platformerrors.CodeAlreadyExists, "repository already exists"},
	{transport.ErrAuthenticationRequired, platformerrors.CodeUnauthorized, "authentication required"},
	{transport.ErrAuthorizationFailed, platformerrors.CodeUnauthorized, "authorization failed"},
	{transport.ErrInvalidAuthMethod, platformerrors.CodeInvalidInput, "invalid auth method"},
	{gogit.ErrMissingURL, platformerrors.CodeInvalidInput, "URL is required"},
	{gogit.ErrWorktreeNotClean, platformerrors.CodeConflict, "worktree is not clean"},
}

// classifyError maps go-git errors to platform errors. Errors that already
// carry a platform code, and unknown errors, pass through unchanged.
func classifyError(err error) error {
	if err == nil {
		return nil
	}

	var pe platformerrors.PlatformError
	if errors.As(err, &pe) {
		return err
	}

	for _, c := range classifications {
		if errors.Is(err, c.target) {
			return platformerrors.Wrap(err, c.code, c.message)
		}
	}

	return err
}
