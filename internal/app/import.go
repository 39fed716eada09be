package app

import (
	"context"
	"fmt"
	"path"
	"strings"

	"balloon-go/internal/balloon"
	"balloon-go/internal/fs"
)

// ImportResult summarizes an Import run.
type ImportResult struct {
	Files       int
	Collections int
	Skipped     int
	Bytes       int64
}

// Import copies a local directory tree below parentID. Directories are
// merged into existing collections of the same name; files are created with
// mode. Entries whose names the engine rejects are skipped together with
// everything below them. The root's .balloonignore is honored.
func (a *App) Import(ctx context.Context, root, parentID string, mode balloon.ConflictMode) (*ImportResult, error) {
	res := &ImportResult{}
	// Maps a directory's slash-separated relative path to its collection id.
	dirs := map[string]string{".": parentID}
	skipped := map[string]bool{}

	err := fs.Walk(root, fs.NewIgnoreMatcher(nil), func(e fs.Entry) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		dir, name := path.Split(e.RelPath)
		dir = strings.TrimSuffix(dir, "/")
		if dir == "" {
			dir = "."
		}
		if skipped[dir] {
			if e.IsDir {
				skipped[e.RelPath] = true
			}
			res.Skipped++
			return nil
		}
		if err := balloon.ValidateName(name); err != nil {
			a.logger.Warn("skipping entry", "path", e.RelPath, "error", err)
			if e.IsDir {
				skipped[e.RelPath] = true
			}
			res.Skipped++
			return nil
		}

		if e.IsDir {
			n, err := a.service.CreateCollection(ctx, dirs[dir], name, balloon.ConflictMerge)
			if err != nil {
				return fmt.Errorf("importing %s: %w", e.RelPath, err)
			}
			dirs[e.RelPath] = n.ID
			res.Collections++
			return nil
		}

		r, err := e.Open()
		if err != nil {
			return fmt.Errorf("opening %s: %w", e.AbsPath, err)
		}
		defer r.Close()
		created, changed := e.Created, e.Changed
		attrs := balloon.Attributes{Created: &created, Changed: &changed}
		n, err := a.service.CreateFile(ctx, dirs[dir], name, r, attrs, mode)
		if err != nil {
			return fmt.Errorf("importing %s: %w", e.RelPath, err)
		}
		a.logger.Debug("imported file", "path", e.RelPath, "node", n.ID, "size", n.Size)
		res.Files++
		res.Bytes += n.Size
		return nil
	})
	if err != nil {
		return res, err
	}
	a.logger.Info("import finished", "root", root, "files", res.Files,
		"collections", res.Collections, "skipped", res.Skipped, "bytes", res.Bytes)
	return res, nil
}
