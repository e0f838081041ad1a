package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"homeserver/internal/api"
	"homeserver/internal/config"
	"homeserver/internal/models"
)

func newPutCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	var (
		contentType string
		noHash      bool
	)
	flags := newClientFlags(cfg)

	cmd := &cobra.Command{
		Use:   "put <path> [file]",
		Short: "Upload a file into your namespace (reads stdin without a file)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := api.PutOptions{ContentType: contentType}
			var body io.Reader = os.Stdin
			if len(args) == 2 && args[1] != "-" {
				f, err := os.Open(args[1])
				if err != nil {
					return err
				}
				defer f.Close()

				if !noHash {
					sum, length, err := hashFile(f)
					if err != nil {
						return err
					}
					opts.Hash = sum.String()
					opts.Length = length
				}
				body = f
			}

			path := ownPath(args[0])
			return withSession(cmd.Context(), flags, func(client *api.Client, owner models.PublicKey) error {
				created, err := client.Put(cmd.Context(), owner.String(), path, body, opts)
				if err != nil {
					return err
				}
				if *jsonOutput {
					return writeJSON(map[string]any{"url": owner.URL(path), "created": created})
				}
				verb := "updated"
				if created {
					verb = "created"
				}
				return writePlain("%s %s\n", verb, owner.URL(path))
			})
		},
	}

	flags.register(cmd, true)
	cmd.Flags().StringVar(&contentType, "content-type", "", "media type stored with the file")
	cmd.Flags().BoolVar(&noHash, "no-hash", false, "skip sending the BLAKE3 digest of the file")
	return cmd
}

// hashFile digests f and rewinds it.
func hashFile(f *os.File) (models.ContentHash, int64, error) {
	hasher := models.NewHasher()
	if _, err := io.Copy(hasher, f); err != nil {
		return models.ContentHash{}, 0, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return models.ContentHash{}, 0, err
	}
	return hasher.Sum(), hasher.Len(), nil
}

func newGetCmd(cfg *config.Config) *cobra.Command {
	var out string
	flags := newClientFlags(cfg)

	cmd := &cobra.Command{
		Use:   "get <path|pubky-url>",
		Short: "Download a file to stdout or --out",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, path, err := resolveTarget(args[0], flags)
			if err != nil {
				return err
			}
			body, _, err := api.NewClient(flags.baseURL()).Get(cmd.Context(), owner.String(), path)
			if err != nil {
				return err
			}
			defer body.Close()

			var w io.Writer = os.Stdout
			if out != "" && out != "-" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			_, err = io.Copy(w, body)
			return err
		},
	}

	flags.register(cmd, false)
	cmd.Flags().StringVarP(&out, "out", "o", "", "write to this file instead of stdout")
	return cmd
}

func newListCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	var query api.ListQuery
	flags := newClientFlags(cfg)

	cmd := &cobra.Command{
		Use:   "ls <dir|pubky-url>",
		Short: "List the files under a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if query.Limit < 0 {
				return fmt.Errorf("--limit must be >= 0")
			}
			owner, dir, err := resolveTarget(args[0], flags)
			if err != nil {
				return err
			}
			if dir == "" || dir[len(dir)-1] != '/' {
				dir += "/"
			}
			urls, err := api.NewClient(flags.baseURL()).List(cmd.Context(), owner.String(), dir, query)
			if err != nil {
				return err
			}
			if *jsonOutput {
				return writeJSON(urls)
			}
			return writeLines(urls)
		},
	}

	flags.register(cmd, false)
	cmd.Flags().IntVar(&query.Limit, "limit", 0, "maximum number of entries (server default when 0)")
	cmd.Flags().StringVar(&query.Cursor, "cursor", "", "resume after this path or URL")
	cmd.Flags().BoolVar(&query.Reverse, "reverse", false, "list in descending order")
	cmd.Flags().BoolVar(&query.Shallow, "shallow", false, "list direct children only")
	return cmd
}

func newRemoveCmd(cfg *config.Config) *cobra.Command {
	flags := newClientFlags(cfg)

	cmd := &cobra.Command{
		Use:   "rm <path>",
		Short: "Delete a file from your namespace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), flags, func(client *api.Client, owner models.PublicKey) error {
				return client.Delete(cmd.Context(), owner.String(), ownPath(args[0]))
			})
		},
	}

	flags.register(cmd, true)
	return cmd
}
