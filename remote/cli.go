package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strconv"
	"strings"
	"sync"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/jmgilman/go/exec"
	platformerrors "github.com/jmgilman/go/errors"
)

// CLI is a Transport that runs the git binary in dir. It supports partial
// clones, so lazy clones can skip blob transfer entirely and fetch blobs by
// id later. dir must be a real directory on the host filesystem.
//
// Credentials come from the user's git configuration (credential helpers,
// ssh-agent); Auth values are not forwarded to the binary.
type CLI struct {
	dir      string
	executor exec.Executor
	logger   *slog.Logger

	mu sync.Mutex
}

// NewCLI returns a git CLI transport operating in dir.
func NewCLI(dir string, opts ...Option) *CLI {
	o := applyOptions(opts)
	executor := o.executor
	if executor == nil {
		executor = exec.New(exec.WithInheritEnv())
	}
	if o.auth != nil {
		o.logger.Warn("the git CLI transport ignores explicit credentials, configure a credential helper instead")
	}

	return &CLI{
		dir:      dir,
		executor: executor,
		logger:   o.logger,
	}
}

// Dir returns the working tree directory.
func (c *CLI) Dir() string {
	return c.dir
}

func (c *CLI) git(ctx context.Context, env map[string]string, args ...string) (*exec.Result, error) {
	git := exec.NewWrapper(c.executor.Clone(), "git").WithDir(c.dir).WithContext(ctx)
	vars := map[string]string{"GIT_TERMINAL_PROMPT": "0"}
	for k, v := range env {
		vars[k] = v
	}
	//nolint:wrapcheck // Callers map exec errors
	return git.WithEnv(vars).Run(args...)
}

// Clone implements Transport.
func (c *CLI) Clone(ctx context.Context, opts CloneOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if opts.Auth != nil {
		c.logger.Warn("ignoring clone credentials for git CLI transport")
	}

	args := []string{"clone", "--single-branch", "--no-tags", "--origin", DefaultRemoteName}
	if opts.Lazy {
		args = append(args, "--no-checkout")
		if opts.BlobExclusion {
			args = append(args, "--filter=blob:none")
		}
	}
	if opts.Depth > 0 {
		args = append(args, "--depth", strconv.Itoa(opts.Depth))
	}
	if opts.Ref != "" {
		args = append(args, "--branch", opts.Ref)
	}
	args = append(args, "--", opts.URL, ".")

	if _, err := c.git(ctx, nil, args...); err != nil {
		return mapExecError(err, "failed to clone repository")
	}
	return nil
}

// Attach implements Transport.
func (c *CLI) Attach(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.git(ctx, nil, "rev-parse", "--git-dir"); err != nil {
		return mapExecError(err, "failed to open repository")
	}
	return nil
}

// HasObject implements Transport. Lazy fetching is disabled for the probe so
// a partial clone does not download the object as a side effect.
func (c *CLI) HasObject(ctx context.Context, id plumbing.Hash) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.hasObjectLocked(ctx, id)
}

func (c *CLI) hasObjectLocked(ctx context.Context, id plumbing.Hash) (bool, error) {
	_, err := c.git(ctx, map[string]string{"GIT_NO_LAZY_FETCH": "1"}, "cat-file", "-e", id.String())
	if err == nil {
		return true, nil
	}

	var execErr *exec.ExecError
	if errors.As(err, &execErr) && execErr.ExitCode > 0 {
		return false, nil
	}
	return false, mapExecError(err, "failed to probe object")
}

// Fetch implements Transport. Ids already present are skipped and the rest
// are requested by id in a single fetch.
func (c *CLI) Fetch(ctx context.Context, ids []plumbing.Hash, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var missing []string
	for _, id := range ids {
		has, err := c.hasObjectLocked(ctx, id)
		if err != nil {
			return err
		}
		if !has {
			missing = append(missing, id.String())
		}
	}
	if len(missing) == 0 {
		return nil
	}

	args := append([]string{"fetch", "--no-tags", "--no-write-fetch-head", "--depth=1", DefaultRemoteName}, missing...)
	if _, err := c.git(ctx, nil, args...); err != nil {
		return mapExecError(err, "failed to fetch objects")
	}
	return nil
}

func revision(ref string) string {
	if ref == "" {
		return "HEAD"
	}
	return ref
}

// Resolve implements Transport.
func (c *CLI) Resolve(ctx context.Context, ref string) (RefInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.resolveLocked(ctx, ref)
}

func (c *CLI) resolveLocked(ctx context.Context, ref string) (RefInfo, error) {
	rev := revision(ref)
	info := RefInfo{Name: rev}

	res, err := c.git(ctx, nil, "rev-parse", "--verify", rev+"^{commit}", rev+"^{tree}")
	if err != nil {
		return RefInfo{}, mapExecError(err, fmt.Sprintf("failed to resolve %s", rev))
	}
	lines := strings.Fields(res.Stdout)
	if len(lines) != 2 {
		return RefInfo{}, platformerrors.Newf(platformerrors.CodeInternal, "unexpected rev-parse output %q", res.Stdout)
	}
	info.Commit = plumbing.NewHash(lines[0])
	info.Tree = plumbing.NewHash(lines[1])

	if res, err := c.git(ctx, nil, "rev-parse", "--symbolic-full-name", rev); err == nil {
		if name := plumbing.ReferenceName(strings.TrimSpace(res.Stdout)); name.IsBranch() {
			info.Name = name.String()
			info.Branch = name.Short()
		}
	}

	originHead := plumbing.NewRemoteHEADReferenceName(DefaultRemoteName).String()
	if res, err := c.git(ctx, nil, "symbolic-ref", "-q", originHead); err == nil {
		info.DefaultBranch = strings.TrimSpace(res.Stdout)
	} else if info.Branch != "" {
		info.DefaultBranch = plumbing.NewRemoteReferenceName(DefaultRemoteName, info.Branch).String()
	}

	return info, nil
}

// ListTree implements Transport using ls-tree, which reads tree objects only.
func (c *CLI) ListTree(ctx context.Context, ref string) ([]TreeEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	info, err := c.resolveLocked(ctx, ref)
	if err != nil {
		return nil, err
	}

	res, err := c.git(ctx, nil, "ls-tree", "-r", "-z", "--full-tree", info.Tree.String())
	if err != nil {
		return nil, mapExecError(err, "failed to list tree")
	}

	return parseLsTree(res.Stdout, info.Tree)
}

// parseLsTree parses NUL separated "mode type id<TAB>path" records.
// Submodules are skipped.
func parseLsTree(out string, root plumbing.Hash) ([]TreeEntry, error) {
	var entries []TreeEntry
	for _, record := range strings.Split(out, "\x00") {
		if record == "" {
			continue
		}

		meta, name, ok := strings.Cut(record, "\t")
		if !ok {
			return nil, platformerrors.Newf(platformerrors.CodeInternal, "malformed ls-tree record %q", record)
		}
		fields := strings.Fields(meta)
		if len(fields) != 3 {
			return nil, platformerrors.Newf(platformerrors.CodeInternal, "malformed ls-tree record %q", record)
		}
		if fields[1] != "blob" {
			continue
		}

		mode, err := filemode.New(fields[0])
		if err != nil {
			return nil, platformerrors.Wrapf(err, platformerrors.CodeInternal, "invalid mode in ls-tree record %q", record)
		}

		entries = append(entries, TreeEntry{
			Path:     name,
			Hash:     plumbing.NewHash(fields[2]),
			Mode:     mode,
			RootHash: root,
		})
	}
	return entries, nil
}

// Checkout implements Transport. All paths are checked out with one git
// invocation; if that fails each path is retried on its own so one bad path
// does not fail its siblings.
func (c *CLI) Checkout(ctx context.Context, paths []string, ref string) (CheckoutResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := make(CheckoutResult, len(paths))
	rev := revision(ref)

	args := append([]string{"checkout", rev, "--"}, literalPaths(paths)...)
	if _, err := c.git(ctx, nil, args...); err == nil {
		for _, p := range paths {
			result[p] = nil
		}
		return result, nil
	}

	c.logger.Debug("bulk checkout failed, retrying paths individually", "count", len(paths))
	for _, p := range paths {
		_, err := c.git(ctx, nil, append([]string{"checkout", rev, "--"}, literalPaths([]string{p})...)...)
		result[p] = mapExecError(err, fmt.Sprintf("failed to check out %s", p))
	}
	return result, nil
}

// literalPaths disables pathspec magic so paths are matched verbatim.
func literalPaths(paths []string) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = ":(literal)" + path.Clean(p)
	}
	return out
}

// mapExecError converts git CLI failures into platform errors based on
// stderr. A nil err yields nil.
func mapExecError(err error, context string) error {
	if err == nil {
		return nil
	}

	var execErr *exec.ExecError
	if !errors.As(err, &execErr) {
		return wrapError(err, context)
	}

	stderr := execErr.Stderr
	var code platformerrors.ErrorCode
	switch {
	case strings.Contains(stderr, "did not match any file"),
		strings.Contains(stderr, "not a git repository"),
		strings.Contains(stderr, "does not exist"),
		strings.Contains(stderr, "not found"),
		strings.Contains(stderr, "unknown revision"),
		strings.Contains(stderr, "Needed a single revision"):
		code = platformerrors.CodeNotFound
	case strings.Contains(stderr, "Authentication failed"),
		strings.Contains(stderr, "could not read Username"),
		strings.Contains(stderr, "Permission denied"):
		code = platformerrors.CodeUnauthorized
	case strings.Contains(stderr, "already exists and is not an empty directory"):
		code = platformerrors.CodeAlreadyExists
	case strings.Contains(stderr, "Could not resolve host"),
		strings.Contains(stderr, "unable to access"),
		strings.Contains(stderr, "Connection refused"):
		code = platformerrors.CodeNetwork
	default:
		code = platformerrors.CodeExecutionFailed
	}

	msg := strings.TrimSpace(stderr)
	if msg == "" {
		msg = execErr.Error()
	}
	return fmt.Errorf("%s: %w", context, platformerrors.Wrap(err, code, msg))
}

var _ Transport = (*CLI)(nil)
