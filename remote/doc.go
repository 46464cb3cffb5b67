// Package remote synchronizes a lazily materialized working tree with its
// upstream repository.
//
// An Engine drives a Transport, which performs the actual git work. Two
// transports are provided: GoGit runs in-process on top of go-git and works
// with any billy filesystem, while CLI shells out to the git binary and
// supports partial clones with blob exclusion. Either can be wrapped with
// NewMetricsTransport to record Prometheus metrics.
//
// Lazy clones transfer metadata only:
//
//	engine := remote.NewEngine(remote.NewGoGit(fs))
//	err := engine.Clone(ctx, remote.CloneOptions{
//	    URL:  "https://github.com/org/repo",
//	    Lazy: true,
//	})
//
// Content is then written on demand with Checkout, after the needed blobs have
// been requested with Fetch.
package remote
