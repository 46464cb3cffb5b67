package remote

import (
	"net/url"
	"strings"

	platformerrors "github.com/jmgilman/go/errors"
)

// ValidateURL checks that rawURL names a remote git repository. Accepted forms
// are http(s), ssh, git and file URLs, scp-like "user@host:path" addresses and
// local paths.
func ValidateURL(rawURL string) error {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return platformerrors.New(platformerrors.CodeInvalidInput, "repository URL is required")
	}

	// scp-like syntax: git@github.com:org/repo
	if !strings.Contains(rawURL, "://") && strings.Contains(rawURL, "@") && strings.Contains(rawURL, ":") {
		parts := strings.SplitN(rawURL, "@", 2)
		hostPath := strings.SplitN(parts[1], ":", 2)
		if parts[0] == "" || hostPath[0] == "" || len(hostPath) != 2 || hostPath[1] == "" {
			return platformerrors.Newf(platformerrors.CodeInvalidInput, "malformed repository address %q", rawURL)
		}
		return nil
	}

	if !strings.Contains(rawURL, "://") {
		// Plain local path.
		return nil
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return platformerrors.Wrapf(err, platformerrors.CodeInvalidInput, "malformed repository URL %q", rawURL)
	}

	switch parsed.Scheme {
	case "http", "https", "ssh", "git":
		if parsed.Host == "" {
			return platformerrors.Newf(platformerrors.CodeInvalidInput, "repository URL %q has no host", rawURL)
		}
	case "file":
		if parsed.Path == "" {
			return platformerrors.Newf(platformerrors.CodeInvalidInput, "repository URL %q has no path", rawURL)
		}
	default:
		return platformerrors.Newf(platformerrors.CodeInvalidInput, "unsupported URL scheme %q", parsed.Scheme)
	}

	return nil
}

// RepoName returns a filesystem-friendly "host/path" form of rawURL with any
// ".git" suffix removed.
//
// Examples:
//   - https://github.com/my/repo.git → github.com/my/repo
//   - git@github.com:my/repo → github.com/my/repo
func RepoName(rawURL string) string {
	rawURL = strings.TrimSuffix(strings.TrimSpace(rawURL), "/")
	rawURL = strings.TrimSuffix(rawURL, ".git")

	if !strings.Contains(rawURL, "://") && strings.Contains(rawURL, "@") && strings.Contains(rawURL, ":") {
		parts := strings.SplitN(rawURL, "@", 2)
		return strings.Replace(parts[1], ":", "/", 1)
	}

	if parsed, err := url.Parse(rawURL); err == nil && parsed.Host != "" {
		return strings.TrimSuffix(parsed.Host+parsed.Path, "/")
	}

	return rawURL
}
