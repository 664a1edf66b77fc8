package client

import (
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mwantia/opsreg/internal/agent"
	"github.com/mwantia/opsreg/pkg/errs"
	"github.com/mwantia/opsreg/pkg/log"
)

func NewStorageCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "storage",
		Short: "Manage artifact storage",
		Long:  "List, transfer and remove artifacts in the configured storage backend.",
	}

	cmd.AddCommand(newStorageListCommand())
	cmd.AddCommand(newStorageInfoCommand())
	cmd.AddCommand(newStorageExistsCommand())
	cmd.AddCommand(newStorageGetCommand())
	cmd.AddCommand(newStoragePutCommand())
	cmd.AddCommand(newStorageCopyCommand())
	cmd.AddCommand(newStorageRemoveCommand())
	cmd.AddCommand(newStoragePresignCommand())
	cmd.AddCommand(newStorageUploadCommand())

	return cmd
}

func newStorageListCommand() *cobra.Command {
	var humanReadable bool
	var longFormat bool

	cmd := &cobra.Command{
		Use:   "ls [path]",
		Short: "List stored objects",
		Long:  "List every object stored at or below the given path.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) > 0 {
				path = args[0]
			}

			fs, _, err := openStorage(cmd.Context())
			if err != nil {
				return err
			}
			defer fs.Close()

			out := cmd.OutOrStdout()
			if !longFormat {
				keys, err := fs.Find(cmd.Context(), path)
				if err != nil {
					return err
				}
				for _, key := range keys {
					fmt.Fprintln(out, key)
				}
				return nil
			}

			infos, err := fs.FindInfo(cmd.Context(), path)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			for _, info := range infos {
				size := fmt.Sprintf("%d", info.Size)
				if humanReadable {
					size = humanize.IBytes(uint64(info.Size))
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", size, info.Created, info.Name)
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVarP(&humanReadable, "human", "H", false, "Enable human-readable format")
	cmd.Flags().BoolVarP(&longFormat, "long", "l", false, "Display long format")

	return cmd
}

func newStorageInfoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "info <path>",
		Short: "Show object metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fs, _, err := openStorage(cmd.Context())
			if err != nil {
				return err
			}
			defer fs.Close()

			infos, err := fs.FindInfo(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if len(infos) == 0 {
				return fmt.Errorf("no object at '%s': %w", args[0], errs.ErrNotFound)
			}

			return yaml.NewEncoder(cmd.OutOrStdout()).Encode(infos)
		},
	}
}

func newStorageExistsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "exists <path>",
		Short: "Test whether a path exists",
		Long:  "Tests if an object exists at the path, or below it for prefixes.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fs, _, err := openStorage(cmd.Context())
			if err != nil {
				return err
			}
			defer fs.Close()

			exists, err := fs.Exists(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), exists)
			return nil
		},
	}
}

func newStorageGetCommand() *cobra.Command {
	var recursive bool

	cmd := &cobra.Command{
		Use:   "get <remote> <local>",
		Short: "Download objects",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fs, _, err := openStorage(cmd.Context())
			if err != nil {
				return err
			}
			defer fs.Close()

			return fs.Get(cmd.Context(), args[1], args[0], recursive)
		},
	}

	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "Download every object below the remote prefix")

	return cmd
}

func newStoragePutCommand() *cobra.Command {
	var recursive bool

	cmd := &cobra.Command{
		Use:   "put <local> <remote>",
		Short: "Upload files",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fs, _, err := openStorage(cmd.Context())
			if err != nil {
				return err
			}
			defer fs.Close()

			return fs.Put(cmd.Context(), args[0], args[1], recursive)
		},
	}

	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "Upload every file below the local directory")

	return cmd
}

func newStorageCopyCommand() *cobra.Command {
	var recursive bool

	cmd := &cobra.Command{
		Use:   "cp <src> <dest>",
		Short: "Copy objects inside the backend",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fs, _, err := openStorage(cmd.Context())
			if err != nil {
				return err
			}
			defer fs.Close()

			return fs.Copy(cmd.Context(), args[0], args[1], recursive)
		},
	}

	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "Copy every object below the source prefix")

	return cmd
}

func newStorageRemoveCommand() *cobra.Command {
	var recursive bool

	cmd := &cobra.Command{
		Use:   "rm <path>",
		Short: "Remove objects",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fs, _, err := openStorage(cmd.Context())
			if err != nil {
				return err
			}
			defer fs.Close()

			return fs.Rm(cmd.Context(), args[0], recursive)
		},
	}

	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "Remove every object below the prefix")

	return cmd
}

func newStoragePresignCommand() *cobra.Command {
	var expires int64

	cmd := &cobra.Command{
		Use:   "presign <path>",
		Short: "Generate a presigned download url",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fs, _, err := openStorage(cmd.Context())
			if err != nil {
				return err
			}
			defer fs.Close()

			url, err := fs.GeneratePresignedURL(cmd.Context(), args[0], expires)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), url)
			return nil
		},
	}

	cmd.Flags().Int64VarP(&expires, "expires", "e", 600, "Expiration in seconds")

	return cmd
}

func newStorageUploadCommand() *cobra.Command {
	var chunkSize int64

	cmd := &cobra.Command{
		Use:   "upload <local> <remote>",
		Short: "Upload a large file in chunks",
		Long:  "Streams a single file through a resumable upload session using the configured chunk size.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			fs, cfg, err := openStorage(ctx)
			if err != nil {
				return err
			}
			defer fs.Close()

			file, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer file.Close()

			stat, err := file.Stat()
			if err != nil {
				return err
			}

			uploads := agent.NewUploadManager(fs, cfg.Upload,
				log.NewWriterLogger("opsreg/upload", cfg.Log.Level, os.Stderr))
			defer uploads.Stop(ctx)

			session, err := uploads.Create(ctx, args[1], chunkSize, stat.Size())
			if err != nil {
				return err
			}

			buf := make([]byte, session.ChunkSize())
			for {
				n, err := io.ReadFull(file, buf)
				if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
					if errors.Is(err, io.EOF) {
						return fmt.Errorf("'%s' ended before %d bytes were read: %w", args[0], stat.Size(), errs.ErrChunkSize)
					}
					return err
				}

				path, done, err := uploads.UploadChunk(ctx, args[1], buf[:n])
				if err != nil {
					return err
				}
				if done {
					fmt.Fprintln(cmd.OutOrStdout(), path)
					return nil
				}
			}
		},
	}

	cmd.Flags().Int64Var(&chunkSize, "chunk-size", 0, "Chunk size in bytes (defaults to upload.chunk_size)")

	return cmd
}
