package remote

import (
	"os"

	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"
	platformerrors "github.com/jmgilman/go/errors"
)

// tokenUser is sent as the username for token authentication. Hosting
// services ignore it but reject an empty one.
const tokenUser = "x-access-token"

// SSHKeyOption configures SSH key authentication.
type SSHKeyOption func(*sshKeyOptions)

type sshKeyOptions struct {
	password   string
	knownHosts []string
}

// WithSSHPassword sets the passphrase of an encrypted key.
func WithSSHPassword(password string) SSHKeyOption {
	return func(opts *sshKeyOptions) {
		opts.password = password
	}
}

// WithKnownHosts verifies host keys against the given known_hosts files
// instead of the defaults go-git looks up.
func WithKnownHosts(files ...string) SSHKeyOption {
	return func(opts *sshKeyOptions) {
		opts.knownHosts = append(opts.knownHosts, files...)
	}
}

// SSHKeyAuth builds public key authentication from a PEM-encoded key.
//
// Example:
//
//	auth, err := remote.SSHKeyAuth("git", keyBytes, remote.WithSSHPassword("secret"))
func SSHKeyAuth(user string, pemBytes []byte, opts ...SSHKeyOption) (Auth, error) {
	o := &sshKeyOptions{}
	for _, opt := range opts {
		opt(o)
	}

	keys, err := ssh.NewPublicKeys(user, pemBytes, o.password)
	if err != nil {
		return nil, platformerrors.Wrap(err, platformerrors.CodeUnauthorized, "failed to parse SSH key")
	}

	if len(o.knownHosts) > 0 {
		callback, err := ssh.NewKnownHostsCallback(o.knownHosts...)
		if err != nil {
			return nil, platformerrors.Wrap(err, platformerrors.CodeInvalidConfig, "failed to load known hosts")
		}
		keys.HostKeyCallback = callback
	}

	return keys, nil
}

// SSHKeyFile reads the key at keyPath and calls SSHKeyAuth.
func SSHKeyFile(user, keyPath string, opts ...SSHKeyOption) (Auth, error) {
	pemBytes, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, platformerrors.Wrapf(err, platformerrors.CodeInvalidConfig, "failed to read SSH key file %q", keyPath)
	}
	return SSHKeyAuth(user, pemBytes, opts...)
}

// SSHAgentAuth authenticates through the running ssh-agent.
func SSHAgentAuth(user string) (Auth, error) {
	auth, err := ssh.NewSSHAgentAuth(user)
	if err != nil {
		return nil, platformerrors.Wrap(err, platformerrors.CodeUnauthorized, "failed to reach ssh-agent")
	}
	return auth, nil
}

// BasicAuth authenticates HTTP remotes with a username and password.
func BasicAuth(username, password string) Auth {
	return &http.BasicAuth{
		Username: username,
		Password: password,
	}
}

// TokenAuth authenticates HTTP remotes with an access token.
func TokenAuth(token string) Auth {
	return BasicAuth(tokenUser, token)
}

// EmptyAuth returns nil, which go-git treats as anonymous access.
func EmptyAuth() Auth {
	return nil
}
