// File: cmd/objstore/object_cmd.go
package main

import (
	"fmt"
	"io"
	"os"
	"path"
	"strconv"
	"strings"

	"objstore/internal/flags"
	"objstore/internal/service"
	"objstore/pkg/formatter"
	"objstore/pkg/storage"

	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/cobra"
)

type objectFlags struct {
	output      string
	rangeSpec   string
	suffix      int64
	ifNotExists bool
	partSize    string
	contentType string
	recursive   bool
	force       bool
}

func newObjectCmds() []*cobra.Command {
	return []*cobra.Command{
		newGetCmd(),
		newCatCmd(),
		newHeadCmd(),
		newPutCmd(),
		newListCmd(),
		newRemoveCmd(),
		newCopyCmd(),
		newMoveCmd(),
		newUsageCmd(),
	}
}

func newGetCmd() *cobra.Command {
	cmdFlags := objectFlags{}

	getCmd := &cobra.Command{
		Use:   "get [url]",
		Short: "Download an object",
		Long: `Downloads an object to a local file, named after the object unless --output is given.
Use --output - to write to stdout. --range and --suffix download part of the object.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFromContext(cmd.Context())
			if err != nil {
				return err
			}

			rng, err := resolveRange(cmdFlags.rangeSpec, cmdFlags.suffix)
			if err != nil {
				return err
			}

			dest := cmdFlags.output
			if dest == "" {
				dest = path.Base(args[0])
			}
			w, closeOutput, err := openOutput(dest)
			if err != nil {
				return err
			}

			_, n, err := app.ObjectService.Get(cmd.Context(), args[0], w, rng)
			if cerr := closeOutput(); err == nil {
				err = cerr
			}
			if err != nil {
				if dest != "-" {
					os.Remove(dest)
				}
				return fmt.Errorf("error downloading '%s': %w", args[0], err)
			}

			if dest != "-" {
				fmt.Printf("Downloaded %s (%s) to %s\n", args[0], formatter.FormatBytes(n), dest)
			}
			return nil
		},
	}
	getCmd.Flags().StringVarP(&cmdFlags.output, flags.Output, flags.OutputShort, "", "File to write the object to ('-' for stdout)")
	addRangeFlags(getCmd, &cmdFlags)

	return getCmd
}

func newCatCmd() *cobra.Command {
	cmdFlags := objectFlags{}

	catCmd := &cobra.Command{
		Use:   "cat [url]",
		Short: "Write an object to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFromContext(cmd.Context())
			if err != nil {
				return err
			}

			rng, err := resolveRange(cmdFlags.rangeSpec, cmdFlags.suffix)
			if err != nil {
				return err
			}
			if _, _, err := app.ObjectService.Get(cmd.Context(), args[0], cmd.OutOrStdout(), rng); err != nil {
				return fmt.Errorf("error reading '%s': %w", args[0], err)
			}
			return nil
		},
	}
	addRangeFlags(catCmd, &cmdFlags)

	return catCmd
}

func newHeadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "head [url]",
		Short: "Describe an object",
		Long:  `Shows an object's size, modification time, ETag and version without downloading it.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFromContext(cmd.Context())
			if err != nil {
				return err
			}

			meta, err := app.ObjectService.Head(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("error describing '%s': %w", args[0], err)
			}

			fmt.Println(app.ObjectFormatter.FormatObjectDetails(meta))
			return nil
		},
	}
}

func newPutCmd() *cobra.Command {
	cmdFlags := objectFlags{}

	putCmd := &cobra.Command{
		Use:   "put [file] [url]",
		Short: "Upload a local file",
		Long: `Uploads a local file, or stdin when the file is '-'. Files larger than the part size,
and stdin, are uploaded in parts.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFromContext(cmd.Context())
			if err != nil {
				return err
			}

			req := service.PutRequest{IfNotExists: cmdFlags.ifNotExists, ContentType: cmdFlags.contentType}
			if cmdFlags.partSize != "" {
				if req.PartSize, err = formatter.ParseBytes(cmdFlags.partSize); err != nil {
					return err
				}
			}

			r, size, closeInput, err := openInput(args[0])
			if err != nil {
				return err
			}
			defer closeInput()

			if req.ContentType == "" && args[0] != "-" {
				if mt, err := mimetype.DetectFile(args[0]); err == nil {
					req.ContentType = mt.String()
				}
			}

			res, err := app.ObjectService.Put(cmd.Context(), args[1], r, size, req)
			if err != nil {
				return fmt.Errorf("error uploading to '%s': %w", args[1], err)
			}

			fmt.Printf("Uploaded %s to %s (etag %s)\n", args[0], args[1], res.ETag)
			return nil
		},
	}
	putCmd.Flags().BoolVar(&cmdFlags.ifNotExists, flags.IfNotExists, false, "Fail if the object already exists")
	putCmd.Flags().StringVar(&cmdFlags.partSize, flags.PartSize, "", "Multipart chunk size, e.g. 8MiB (defaults to 8MiB)")
	putCmd.Flags().StringVar(&cmdFlags.contentType, flags.ContentType, "", "Content type to store (detected from the file when omitted)")

	return putCmd
}

func newListCmd() *cobra.Command {
	cmdFlags := objectFlags{}

	listCmd := &cobra.Command{
		Use:   "ls [url]",
		Short: "List objects",
		Long: `Lists the objects directly below a URL, grouping deeper objects into directories.
Use --recursive to list every object below the URL.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFromContext(cmd.Context())
			if err != nil {
				return err
			}

			res, err := app.ObjectService.List(cmd.Context(), args[0], cmdFlags.recursive)
			if err != nil {
				return fmt.Errorf("error listing '%s': %w", args[0], err)
			}

			if len(res.Objects) == 0 && len(res.CommonPrefixes) == 0 {
				fmt.Println("No objects found.")
				return nil
			}
			fmt.Println(app.ObjectFormatter.FormatObjectList(res))
			return nil
		},
	}
	listCmd.Flags().BoolVarP(&cmdFlags.recursive, flags.Recursive, flags.RecursiveShort, false, "List every object below the URL")

	return listCmd
}

func newRemoveCmd() *cobra.Command {
	cmdFlags := objectFlags{}

	removeCmd := &cobra.Command{
		Use:   "rm [url]",
		Short: "Delete objects",
		Long: `Deletes the object at a URL. With --recursive, deletes every object below the URL
after asking for confirmation, unless --force is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFromContext(cmd.Context())
			if err != nil {
				return err
			}

			if cmdFlags.recursive && !cmdFlags.force {
				confirmed, err := app.Prompter.Confirm(
					fmt.Sprintf("This will permanently delete every object below '%s'.", args[0]), args[0])
				if err != nil {
					return err
				}
				if !confirmed {
					fmt.Println("Deletion cancelled.")
					return nil
				}
			}

			n, err := app.ObjectService.Remove(cmd.Context(), args[0], cmdFlags.recursive)
			if err != nil {
				return fmt.Errorf("error deleting '%s' (%d objects deleted): %w", args[0], n, err)
			}

			fmt.Printf("Deleted %d object(s) from %s.\n", n, args[0])
			return nil
		},
	}
	removeCmd.Flags().BoolVarP(&cmdFlags.recursive, flags.Recursive, flags.RecursiveShort, false, "Delete every object below the URL")
	removeCmd.Flags().BoolVarP(&cmdFlags.force, flags.Force, flags.ForceShort, false, "Skip the confirmation prompt")

	return removeCmd
}

func newCopyCmd() *cobra.Command {
	cmdFlags := objectFlags{}

	copyCmd := &cobra.Command{
		Use:   "cp [source-url] [destination-url]",
		Short: "Copy an object",
		Long: `Copies an object. Copies within one store happen server-side; copies between stores
stream the object through this machine.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFromContext(cmd.Context())
			if err != nil {
				return err
			}

			if err := app.ObjectService.Copy(cmd.Context(), args[0], args[1], cmdFlags.ifNotExists); err != nil {
				return fmt.Errorf("error copying '%s' to '%s': %w", args[0], args[1], err)
			}
			fmt.Printf("Copied %s to %s.\n", args[0], args[1])
			return nil
		},
	}
	copyCmd.Flags().BoolVar(&cmdFlags.ifNotExists, flags.IfNotExists, false, "Fail if the destination already exists")

	return copyCmd
}

func newMoveCmd() *cobra.Command {
	cmdFlags := objectFlags{}

	moveCmd := &cobra.Command{
		Use:   "mv [source-url] [destination-url]",
		Short: "Move an object",
		Long:  `Moves an object by copying it and then deleting the source. The source is kept if the copy fails.`,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFromContext(cmd.Context())
			if err != nil {
				return err
			}

			if err := app.ObjectService.Move(cmd.Context(), args[0], args[1], cmdFlags.ifNotExists); err != nil {
				return fmt.Errorf("error moving '%s' to '%s': %w", args[0], args[1], err)
			}
			fmt.Printf("Moved %s to %s.\n", args[0], args[1])
			return nil
		},
	}
	moveCmd.Flags().BoolVar(&cmdFlags.ifNotExists, flags.IfNotExists, false, "Fail if the destination already exists")

	return moveCmd
}

func newUsageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "du [url]",
		Short: "Show storage usage",
		Long: `Reports the bytes stored below a URL. For a whole bucket, provider metrics are used
when available; otherwise the objects are listed and summed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFromContext(cmd.Context())
			if err != nil {
				return err
			}

			usage, err := app.ObjectService.Usage(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("error computing usage of '%s': %w", args[0], err)
			}
			fmt.Println(app.ObjectFormatter.FormatUsage(args[0], usage.Bytes, usage.Objects, usage.Source))
			return nil
		},
	}
}

func addRangeFlags(cmd *cobra.Command, f *objectFlags) {
	cmd.Flags().StringVar(&f.rangeSpec, flags.Range, "", "Byte range start-end (end exclusive) or start- for everything from start")
	cmd.Flags().Int64Var(&f.suffix, flags.Suffix, 0, "Only the last N bytes")
	cmd.MarkFlagsMutuallyExclusive(flags.Range, flags.Suffix)
}

// Turns the --range and --suffix flags into a GetRange
func resolveRange(spec string, suffix int64) (storage.GetRange, error) {
	if suffix < 0 {
		return storage.GetRange{}, fmt.Errorf("--%s must be positive", flags.Suffix)
	}
	if suffix > 0 {
		return storage.SuffixRange(suffix), nil
	}
	if spec == "" {
		return storage.FullRange(), nil
	}

	startStr, endStr, ok := strings.Cut(spec, "-")
	if !ok {
		return storage.GetRange{}, fmt.Errorf("invalid range %q: expected start-end or start-", spec)
	}
	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil {
		return storage.GetRange{}, fmt.Errorf("invalid range start %q", startStr)
	}

	var rng storage.GetRange
	if endStr == "" {
		rng = storage.OffsetRange(start)
	} else {
		end, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil {
			return storage.GetRange{}, fmt.Errorf("invalid range end %q", endStr)
		}
		rng = storage.BoundedRange(start, end)
	}
	if err := rng.Validate(); err != nil {
		return storage.GetRange{}, fmt.Errorf("invalid range %q: %w", spec, err)
	}
	return rng, nil
}

func openOutput(dest string) (io.Writer, func() error, error) {
	if dest == "-" {
		return os.Stdout, func() error { return nil }, nil
	}
	f, err := os.Create(dest)
	if err != nil {
		return nil, nil, fmt.Errorf("error creating output file: %w", err)
	}
	return f, f.Close, nil
}

// Returns the reader, its size (-1 for stdin) and a close function
func openInput(src string) (io.Reader, int64, func(), error) {
	if src == "-" {
		return os.Stdin, -1, func() {}, nil
	}
	f, err := os.Open(src)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("error opening input file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, nil, fmt.Errorf("error reading input file: %w", err)
	}
	return f, info.Size(), func() { f.Close() }, nil
}
