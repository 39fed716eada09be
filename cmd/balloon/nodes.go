package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"balloon-go/internal/app"
	"balloon-go/internal/balloon"
)

// conflictMode reads the --mode flag.
func conflictMode(cmd *cobra.Command) (balloon.ConflictMode, error) {
	raw, _ := cmd.Flags().GetString("mode")
	return balloon.ParseConflictMode(raw)
}

// splitRemote splits a remote path into its parent reference and base name.
func splitRemote(p string) (string, string) {
	p = "/" + strings.Trim(p, "/")
	dir, name := path.Split(p)
	return dir, name
}

func printNode(n *balloon.Node) {
	fmt.Printf("%s\t%s\n", n.ID, n.Name)
}

var mkdirCmd = &cobra.Command{
	Use:   "mkdir PATH",
	Short: "Create a collection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		parents, _ := cmd.Flags().GetBool("parents")
		return withApp(cmd, "mkdir", func(ctx context.Context, a *app.App) error {
			mode := balloon.ConflictNoAction
			if parents {
				mode = balloon.ConflictMerge
			}
			parentID := balloon.RootID
			names := strings.Split(strings.Trim(args[0], "/"), "/")
			if !parents {
				dir, name := splitRemote(args[0])
				id, err := a.Resolve(ctx, dir)
				if err != nil {
					return err
				}
				parentID, names = id, []string{name}
			}
			var n *balloon.Node
			for _, name := range names {
				var err error
				if n, err = a.Service().CreateCollection(ctx, parentID, name, mode); err != nil {
					return err
				}
				parentID = n.ID
			}
			printNode(n)
			return nil
		})
	},
}

var putCmd = &cobra.Command{
	Use:   "put LOCAL REMOTE",
	Short: "Upload a file, adding a version if it exists",
	Long:  "Upload LOCAL to the remote path REMOTE. Use - to read from stdin.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, err := conflictMode(cmd)
		if err != nil {
			return err
		}
		var r io.Reader = os.Stdin
		if args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			r = f
		}
		return withApp(cmd, "put", func(ctx context.Context, a *app.App) error {
			svc := a.Service()
			var n *balloon.Node
			id, err := a.Resolve(ctx, "/"+strings.Trim(args[1], "/"))
			switch {
			case err == nil && mode == balloon.ConflictNoAction:
				n, err = svc.Put(ctx, id, r, balloon.Attributes{})
			case err == nil || balloon.IsNotFound(err):
				dir, name := splitRemote(args[1])
				parentID, rerr := a.Resolve(ctx, dir)
				if rerr != nil {
					return rerr
				}
				n, err = svc.CreateFile(ctx, parentID, name, r, balloon.Attributes{}, mode)
			}
			if err != nil {
				return err
			}
			fmt.Printf("%s\t%s\tv%d\t%d\n", n.ID, n.Name, n.Version, n.Size)
			return nil
		})
	},
}

var catCmd = &cobra.Command{
	Use:   "cat REF",
	Short: "Write file content to stdout",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		version, _ := cmd.Flags().GetInt("version")
		return withApp(cmd, "cat", func(ctx context.Context, a *app.App) error {
			id, err := a.Resolve(ctx, args[0])
			if err != nil {
				return err
			}
			rc, err := a.Service().Open(ctx, id, version)
			if err != nil {
				return err
			}
			defer rc.Close()
			_, err = io.Copy(os.Stdout, rc)
			return err
		})
	},
}

var lsCmd = &cobra.Command{
	Use:   "ls [REF]",
	Short: "List a collection",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		ref := "/"
		if len(args) > 0 {
			ref = args[0]
		}
		return withApp(cmd, "ls", func(ctx context.Context, a *app.App) error {
			id, err := a.Resolve(ctx, ref)
			if err != nil {
				return err
			}
			children, err := a.Service().Children(ctx, id, all)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			for _, c := range children {
				flags := []byte("---")
				if c.IsCollection() {
					flags[0] = 'd'
				}
				if c.Readonly {
					flags[1] = 'r'
				}
				if c.IsDeleted() {
					flags[2] = 'x'
				}
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n", flags, c.Size,
					c.Changed.Local().Format("2006-01-02 15:04"), c.Name, c.ID)
			}
			return w.Flush()
		})
	},
}

var mvCmd = &cobra.Command{
	Use:   "mv REF TARGET",
	Short: "Move a node into the collection TARGET, or rename it if TARGET is a bare name",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, err := conflictMode(cmd)
		if err != nil {
			return err
		}
		return withApp(cmd, "mv", func(ctx context.Context, a *app.App) error {
			id, err := a.Resolve(ctx, args[0])
			if err != nil {
				return err
			}
			var n *balloon.Node
			if !strings.Contains(args[1], "/") && balloon.ValidateName(args[1]) == nil {
				if _, gerr := a.Service().Get(ctx, args[1]); gerr != nil {
					n, err = a.Service().Rename(ctx, id, args[1], mode)
					if err != nil {
						return err
					}
					printNode(n)
					return nil
				}
			}
			target, err := a.Resolve(ctx, args[1])
			if err != nil {
				return err
			}
			if n, err = a.Service().Move(ctx, id, target, mode); err != nil {
				return err
			}
			printNode(n)
			return nil
		})
	},
}

var cpCmd = &cobra.Command{
	Use:   "cp REF TARGET",
	Short: "Copy a node into the collection TARGET",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, err := conflictMode(cmd)
		if err != nil {
			return err
		}
		return withApp(cmd, "cp", func(ctx context.Context, a *app.App) error {
			id, err := a.Resolve(ctx, args[0])
			if err != nil {
				return err
			}
			target, err := a.Resolve(ctx, args[1])
			if err != nil {
				return err
			}
			n, err := a.Service().Copy(ctx, id, target, mode)
			if err != nil {
				return err
			}
			printNode(n)
			return nil
		})
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm REF",
	Short: "Move a node to the trash, or purge it with --force",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		return withApp(cmd, "rm", func(ctx context.Context, a *app.App) error {
			id, err := a.Resolve(ctx, args[0])
			if err != nil {
				return err
			}
			policy, err := a.Remove(ctx, id, force)
			if err != nil {
				return err
			}
			fmt.Printf("Deleted %s (%s)\n", args[0], policy)
			return nil
		})
	},
}

var undeleteCmd = &cobra.Command{
	Use:   "undelete ID",
	Short: "Restore a node from the trash",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, err := conflictMode(cmd)
		if err != nil {
			return err
		}
		return withApp(cmd, "undelete", func(ctx context.Context, a *app.App) error {
			n, err := a.Service().Undelete(ctx, args[0], mode)
			if err != nil {
				return err
			}
			printNode(n)
			return nil
		})
	},
}

var historyCmd = &cobra.Command{
	Use:   "history REF",
	Short: "View file history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, "history", func(ctx context.Context, a *app.App) error {
			id, err := a.Resolve(ctx, args[0])
			if err != nil {
				return err
			}
			records, err := a.Service().History(ctx, id)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Println("No history.")
				return nil
			}
			for _, r := range records {
				origin := ""
				if r.Type == balloon.VersionRestore {
					origin = fmt.Sprintf("  [from v%d]", r.Origin)
				}
				fmt.Printf("v%-4d %-9s %s  %10d  %s%s\n",
					r.Version,
					r.Type,
					r.Changed.Local().Format("2006-01-02 15:04:05"),
					r.Size,
					r.UserID,
					origin,
				)
			}
			return nil
		})
	},
}

// parseVersion accepts "3" or "v3".
func parseVersion(s string) (int, error) {
	v, err := strconv.Atoi(strings.TrimPrefix(s, "v"))
	if err != nil || v < 1 {
		return 0, fmt.Errorf("invalid version %q", s)
	}
	return v, nil
}

var restoreCmd = &cobra.Command{
	Use:   "restore REF VERSION",
	Short: "Make an earlier version current again",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		version, err := parseVersion(args[1])
		if err != nil {
			return err
		}
		return withApp(cmd, "restore", func(ctx context.Context, a *app.App) error {
			id, err := a.Resolve(ctx, args[0])
			if err != nil {
				return err
			}
			n, err := a.Service().Restore(ctx, id, version)
			if err != nil {
				return err
			}
			fmt.Printf("%s\t%s\tv%d\n", n.ID, n.Name, n.Version)
			return nil
		})
	},
}

var rmversionCmd = &cobra.Command{
	Use:   "rmversion REF VERSION",
	Short: "Delete one version from a file's history",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		version, err := parseVersion(args[1])
		if err != nil {
			return err
		}
		return withApp(cmd, "rmversion", func(ctx context.Context, a *app.App) error {
			id, err := a.Resolve(ctx, args[0])
			if err != nil {
				return err
			}
			return a.Service().DeleteVersion(ctx, id, version)
		})
	},
}

var attrCmd = &cobra.Command{
	Use:   "attr REF KEY=VALUE...",
	Short: "Set node attributes",
	Long:  "Keys: created, changed (RFC 3339), readonly, mime, description, color, tags.",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw := make(map[string]string, len(args)-1)
		for _, kv := range args[1:] {
			k, v, ok := strings.Cut(kv, "=")
			if !ok {
				return fmt.Errorf("expected KEY=VALUE, got %q", kv)
			}
			raw[k] = v
		}
		attrs, err := balloon.ParseAttributes(raw)
		if err != nil {
			return err
		}
		return withApp(cmd, "attr", func(ctx context.Context, a *app.App) error {
			id, err := a.Resolve(ctx, args[0])
			if err != nil {
				return err
			}
			n, err := a.Service().SetAttributes(ctx, id, attrs)
			if err != nil {
				return err
			}
			printNode(n)
			return nil
		})
	},
}

func shareCommand(use, short string, share bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " REF",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, use, func(ctx context.Context, a *app.App) error {
				id, err := a.Resolve(ctx, args[0])
				if err != nil {
					return err
				}
				var n *balloon.Node
				if share {
					n, err = a.Service().Share(ctx, id)
				} else {
					n, err = a.Service().Unshare(ctx, id)
				}
				if err != nil {
					return err
				}
				fmt.Printf("%s\t%s\t%s\n", n.ID, n.Name, n.Share)
				return nil
			})
		},
	}
}

var importCmd = &cobra.Command{
	Use:   "import DIR [TARGET]",
	Short: "Import a local directory tree",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, err := conflictMode(cmd)
		if err != nil {
			return err
		}
		target := "/"
		if len(args) > 1 {
			target = args[1]
		}
		return withApp(cmd, "import", func(ctx context.Context, a *app.App) error {
			parentID, err := a.Resolve(ctx, target)
			if err != nil {
				return err
			}
			start := time.Now()
			res, err := a.Import(ctx, args[0], parentID, mode)
			if err != nil {
				return err
			}
			fmt.Printf("Imported %d file(s), %d collection(s), %d bytes in %s\n",
				res.Files, res.Collections, res.Bytes, time.Since(start).Truncate(time.Millisecond))
			if res.Skipped > 0 {
				fmt.Printf("Skipped %d entries, see the log\n", res.Skipped)
			}
			return nil
		})
	},
}

var deltaCmd = &cobra.Command{
	Use:   "delta",
	Short: "List changes since a cursor",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cursor, _ := cmd.Flags().GetString("cursor")
		limit, _ := cmd.Flags().GetInt("limit")
		return withApp(cmd, "delta", func(ctx context.Context, a *app.App) error {
			for {
				page, err := a.Service().Delta(ctx, cursor, limit)
				if err != nil {
					return err
				}
				for _, e := range page.Entries {
					op := "+"
					if e.Deleted {
						op = "-"
					}
					fmt.Printf("%s %s\t%s\t%s\n", op, e.Time.Local().Format("2006-01-02 15:04:05"), e.Path, e.NodeID)
				}
				cursor = page.Cursor
				if !page.HasMore {
					break
				}
			}
			fmt.Fprintf(os.Stderr, "cursor: %s\n", cursor)
			return nil
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{putCmd, mvCmd, cpCmd, undeleteCmd, importCmd} {
		c.Flags().StringP("mode", "m", "no-action", "On name conflict: no-action, rename or merge")
	}
	mkdirCmd.Flags().BoolP("parents", "p", false, "Create missing parents, reuse existing collections")
	catCmd.Flags().Int("version", 0, "Version to read (default: current)")
	lsCmd.Flags().BoolP("all", "a", false, "Include trashed nodes")
	rmCmd.Flags().BoolP("force", "f", false, "Purge instead of moving to the trash")
	deltaCmd.Flags().String("cursor", "", "Resume after this cursor")
	deltaCmd.Flags().IntP("limit", "n", 0, "Page size (default from config)")

	rootCmd.AddCommand(mkdirCmd, putCmd, catCmd, lsCmd, mvCmd, cpCmd, rmCmd, undeleteCmd,
		historyCmd, restoreCmd, rmversionCmd, attrCmd, importCmd, deltaCmd,
		shareCommand("share", "Share a collection", true),
		shareCommand("unshare", "Stop sharing a collection", false))
}
