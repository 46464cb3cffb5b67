// Package lazygit materializes the working tree of a remote git repository
// on demand.
//
// Open clones a repository without writing file content. Every tracked file
// is registered as a placeholder: a zero-length stub recorded together with
// its blob id. The filesystem returned by Repository.FS intercepts calls on
// placeholder paths, batches them, fetches the missing blobs in one round
// trip and checks the paths out before the original call proceeds.
//
// Basic usage:
//
//	repo, err := lazygit.Open(ctx, "https://github.com/org/repo.git",
//		lazygit.WithBranch("main"),
//	)
//	if err != nil {
//		return err
//	}
//	defer repo.Close()
//
//	data, err := util.ReadFile(repo.FS(), "docs/README.md")
//
// Ignore files are materialized with the first batch so that status-like
// consumers see correct ignore rules. Call EnsureFirstBatch to force that
// batch without touching any other path.
//
// A backing filesystem without placeholder support degrades lazy opens to
// eager ones unless WithRequireLazy is given. Wrap a filesystem with
// placeholder.NewFilesystem to make it capable; the default in-memory
// filesystem and WithDir already are.
package lazygit
