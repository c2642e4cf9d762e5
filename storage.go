package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/firecloud-go/internal/cloud"
)

func newStorageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "storage",
		Short: "Upload, download and inspect objects in the blob store",
	}

	get := &cobra.Command{
		Use:   "get <name>...",
		Short: "Download objects",
		Long: `Download one or more objects into a local directory. Each object
is saved under the last element of its name. Transfers run in parallel up
to transfers.parallel_transfers.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runStorageGet,
	}
	get.Flags().String("out", ".", "directory to download into")

	put := &cobra.Command{
		Use:   "put <file>...",
		Short: "Upload local files",
		Long: `Upload one or more local files. Each object is named --prefix
followed by the file's base name. Transfers run in parallel up to
transfers.parallel_transfers.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runStoragePut,
	}
	put.Flags().String("prefix", "", "object name prefix, e.g. images/")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "stat <name>",
			Short: "Display object metadata",
			Args:  cobra.ExactArgs(1),
			RunE:  runStorageStat,
		},
		get,
		put,
		&cobra.Command{
			Use:   "rm <name>",
			Short: "Delete an object",
			Args:  cobra.ExactArgs(1),
			RunE:  runStorageRm,
		},
	)

	return cmd
}

// storageFor logs in if configured and returns the blob-store client plus
// the service, whose Identity extra workers share.
func storageFor(cmd *cobra.Command) (*CLIContext, *cloud.Service, error) {
	cc := mustCLIContext(cmd.Context())

	svc, err := cc.service(cmd.Context())
	if err != nil {
		return nil, nil, err
	}

	return cc, svc, nil
}

// showProgress reports whether per-transfer progress should be drawn: only
// for a single transfer, on a terminal, when not quiet.
func (cc *CLIContext) showProgress(transfers int) bool {
	if cc.Flags.Quiet || transfers != 1 {
		return false
	}

	f, ok := cc.Err.(*os.File)
	if !ok {
		return false
	}

	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// progressPrinter returns a ProgressFunc that redraws one status line, or
// nil when progress is off.
func (cc *CLIContext) progressPrinter(label string, enabled bool) cloud.ProgressFunc {
	if !enabled {
		return nil
	}

	return func(done, total int64) {
		if total < 0 {
			fmt.Fprintf(cc.Err, "\r%s: %s", label, formatSize(done))
			return
		}

		fmt.Fprintf(cc.Err, "\r%s: %s / %s", label, formatSize(done), formatSize(total))
	}
}

// objectJSON is the JSON output schema for `storage stat --json`.
type objectJSON struct {
	Name        string `json:"name"`
	Bucket      string `json:"bucket"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
	MD5Hash     string `json:"md5_hash"`
	Generation  string `json:"generation"`
	Updated     string `json:"updated"`
}

func runStorageStat(cmd *cobra.Command, args []string) error {
	cc, svc, err := storageFor(cmd)
	if err != nil {
		return err
	}

	d, err := svc.Storage.GetDetails(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("stat %q: %w", args[0], err)
	}

	if cc.Flags.JSON {
		return printJSON(cc.Out, objectJSON{
			Name:        d.Name,
			Bucket:      d.Bucket,
			Size:        d.Size,
			ContentType: d.ContentType,
			MD5Hash:     d.MD5Hash,
			Generation:  d.Generation,
			Updated:     d.Updated.Format("2006-01-02T15:04:05Z07:00"),
		})
	}

	fmt.Fprintf(cc.Out, "Name:         %s\n", d.Name)
	fmt.Fprintf(cc.Out, "Bucket:       %s\n", d.Bucket)
	fmt.Fprintf(cc.Out, "Size:         %s (%d bytes)\n", formatSize(d.Size), d.Size)
	fmt.Fprintf(cc.Out, "Content-Type: %s\n", d.ContentType)
	fmt.Fprintf(cc.Out, "MD5:          %s\n", d.MD5Hash)
	fmt.Fprintf(cc.Out, "Generation:   %s\n", d.Generation)
	fmt.Fprintf(cc.Out, "Updated:      %s\n", formatTime(d.Updated))

	return nil
}

func runStorageRm(cmd *cobra.Command, args []string) error {
	cc, svc, err := storageFor(cmd)
	if err != nil {
		return err
	}

	if err := svc.Storage.RemoveObject(cmd.Context(), args[0]); err != nil {
		return fmt.Errorf("deleting %q: %w", args[0], err)
	}

	cc.Statusf("Deleted %s\n", args[0])

	return nil
}

// runTransfers calls fn once per item with at most parallel_transfers
// running at a time. Each call gets its own Storage client: a session
// serializes its requests, so sharing one would undo the parallelism. All
// clients share the logged-in Identity and the bandwidth limiter.
func runTransfers(ctx context.Context, cc *CLIContext, svc *cloud.Service, items []string,
	fn func(ctx context.Context, st *cloud.Storage, item string) error,
) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cc.Cfg.Transfers.ParallelTransfers)

	opts := cc.cloudOptions()

	for _, item := range items {
		g.Go(func() error {
			st := cloud.NewStorage(svc.Identity, cc.Cfg.Project, opts)
			return fn(gctx, st, item)
		})
	}

	return g.Wait()
}

func runStorageGet(cmd *cobra.Command, args []string) error {
	cc, svc, err := storageFor(cmd)
	if err != nil {
		return err
	}

	outDir, err := cmd.Flags().GetString("out")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil { //nolint:mnd // standard dir perms
		return fmt.Errorf("creating output directory: %w", err)
	}

	progress := cc.showProgress(len(args))

	return runTransfers(cmd.Context(), cc, svc, args, func(ctx context.Context, st *cloud.Storage, name string) error {
		localPath := filepath.Join(outDir, path.Base(name))

		n, err := downloadObject(ctx, st, name, localPath, cc.progressPrinter(name, progress))
		if progress {
			fmt.Fprintln(cc.Err)
		}

		if err != nil {
			return err
		}

		cc.Logger.Debug("download complete",
			slog.String("name", name),
			slog.String("local_path", localPath),
			slog.Int64("bytes", n),
		)
		cc.Statusf("Downloaded %s (%s)\n", localPath, formatSize(n))

		return nil
	})
}

// downloadObject writes an object to a .partial file and renames it into
// place once complete, so an interrupted download never leaves a truncated
// file under the final name.
func downloadObject(ctx context.Context, st *cloud.Storage, name, localPath string, progress cloud.ProgressFunc) (int64, error) {
	partialPath := localPath + ".partial"

	f, err := os.Create(partialPath)
	if err != nil {
		return 0, fmt.Errorf("creating partial file for %q: %w", name, err)
	}

	n, dlErr := st.GetObject(ctx, name, f, progress)
	closeErr := f.Close()

	if dlErr != nil {
		os.Remove(partialPath)
		return 0, fmt.Errorf("downloading %q: %w", name, dlErr)
	}

	if closeErr != nil {
		os.Remove(partialPath)
		return 0, fmt.Errorf("writing %q: %w", partialPath, closeErr)
	}

	if err := os.Rename(partialPath, localPath); err != nil {
		return 0, fmt.Errorf("renaming download to %q: %w", localPath, err)
	}

	return n, nil
}

func runStoragePut(cmd *cobra.Command, args []string) error {
	cc, svc, err := storageFor(cmd)
	if err != nil {
		return err
	}

	prefix, err := cmd.Flags().GetString("prefix")
	if err != nil {
		return err
	}

	progress := cc.showProgress(len(args))

	return runTransfers(cmd.Context(), cc, svc, args, func(ctx context.Context, st *cloud.Storage, localPath string) error {
		name := prefix + filepath.Base(localPath)

		d, err := uploadFile(ctx, st, localPath, name, cc.progressPrinter(name, progress))
		if progress {
			fmt.Fprintln(cc.Err)
		}

		if err != nil {
			return err
		}

		cc.Logger.Debug("upload complete",
			slog.String("name", d.Name),
			slog.Int64("bytes", d.Size),
		)
		cc.Statusf("Uploaded %s (%s)\n", d.Name, formatSize(d.Size))

		return nil
	})
}

func uploadFile(ctx context.Context, st *cloud.Storage, localPath, name string, progress cloud.ProgressFunc) (*cloud.ObjectDetails, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("opening %q: %w", localPath, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stating %q: %w", localPath, err)
	}

	if fi.IsDir() {
		return nil, fmt.Errorf("%q is a directory, not a file", localPath)
	}

	d, err := st.CreateObject(ctx, name, f, fi.Size(), progress)
	if err != nil {
		return nil, fmt.Errorf("uploading %q: %w", localPath, err)
	}

	return d, nil
}
