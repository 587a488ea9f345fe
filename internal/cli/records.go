package cli

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"fieldsync/internal/domain"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

func NewCreateCommand(rootOpts *RootOptions) *cobra.Command {
	var fieldArgs []string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a record on this device",
		Example: `  fieldsync create -f name=Amina -f age=7 -f 'guardians=["Fatuma"]'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fields, err := parseFieldArgs(fieldArgs)
			if err != nil {
				return err
			}

			a, err := openApp(rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			rec := domain.NewRecord(a.cfg.UserName, fields)
			if err := a.records.CreateOrUpdate(cmd.Context(), rec); err != nil {
				return err
			}

			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			return out.Emit(map[string]string{"unique_identifier": rec.UniqueID}, func(w io.Writer) {
				fmt.Fprintln(w, rec.UniqueID)
			})
		},
	}

	cmd.Flags().StringArrayVarP(&fieldArgs, "field", "f", nil, "field as key=value (repeatable)")
	return cmd
}

func NewUpdateCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		fieldArgs []string
		unset     []string
	)

	cmd := &cobra.Command{
		Use:   "update <unique-id>",
		Short: "Change fields of a record; the change is added to its history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fields, err := parseFieldArgs(fieldArgs)
			if err != nil {
				return err
			}

			a, err := openApp(rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			rec, err := a.records.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, key := range fields.Keys() {
				v, _ := fields.Get(key)
				rec.Fields.Set(key, v)
			}
			for _, key := range unset {
				rec.Fields.Delete(key)
			}
			if err := a.records.CreateOrUpdate(cmd.Context(), rec); err != nil {
				return err
			}

			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			return out.Emit(recordView(rec), func(w io.Writer) {
				fmt.Fprintf(w, "updated %s (%d history entries)\n", rec.UniqueID, len(rec.History))
			})
		},
	}

	cmd.Flags().StringArrayVarP(&fieldArgs, "field", "f", nil, "field as key=value (repeatable)")
	cmd.Flags().StringArrayVar(&unset, "unset", nil, "field to remove (repeatable)")
	return cmd
}

func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <unique-id>",
		Short: "Print a record with its history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			rec, err := a.records.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			view := recordView(rec)
			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			return out.Emit(view, func(w io.Writer) {
				for _, key := range view.Keys() {
					if key == domain.KeyHistories {
						continue
					}
					fmt.Fprintf(w, "%-20s %s\n", key, view.String(key))
				}
				for _, h := range rec.History {
					fmt.Fprintf(w, "%s  %s", formatTime(h.Timestamp), h.UserName)
					for _, c := range h.Changes {
						fmt.Fprintf(w, "  %s", c.Field)
					}
					fmt.Fprintln(w)
				}
			})
		},
	}
}

func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	var page int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List this user's records, one page at a time",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if page < 0 {
				return fmt.Errorf("invalid page %d", page)
			}

			a, err := openApp(rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			size := a.cfg.PageSize
			records, err := a.records.Between(cmd.Context(), page*size, (page+1)*size)
			if err != nil {
				return err
			}
			total, err := a.records.Size(cmd.Context())
			if err != nil {
				return err
			}

			views := make([]*domain.Fields, len(records))
			for i, rec := range records {
				views[i] = recordView(rec)
			}
			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			return out.Emit(views, func(w io.Writer) {
				for _, rec := range records {
					fmt.Fprintf(w, "%s  %-7s  %s\n", rec.UniqueID, syncedMark(rec.Synced), formatTime(rec.LastUpdatedAt))
				}
				fmt.Fprintf(w, "page %d: %d of %d records\n", page, len(records), total)
			})
		},
	}

	cmd.Flags().IntVarP(&page, "page", "p", 0, "page number, starting at 0")
	return cmd
}

// NewAttachCommand stores a photo or audio file in the media store and
// references it from the record.
func NewAttachCommand(rootOpts *RootOptions) *cobra.Command {
	var audio bool

	cmd := &cobra.Command{
		Use:   "attach <unique-id> <file>",
		Short: "Attach a photo (or --audio recording) to a record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			rec, err := a.records.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			data, err := afero.ReadFile(a.fs, args[1])
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[1], err)
			}

			key := strings.ReplaceAll(uuid.New().String(), "-", "") + filepath.Ext(args[1])
			if err := a.media.Save(key, data); err != nil {
				return err
			}

			if audio {
				rec.Fields.Set(domain.KeyRecordedAudio, key)
			} else {
				rec.Fields.Set(domain.KeyPhotoKeys, append(rec.Fields.Strings(domain.KeyPhotoKeys), key))
				rec.Fields.Set(domain.KeyCurrentPhotoKey, key)
			}
			if err := a.records.CreateOrUpdate(cmd.Context(), rec); err != nil {
				return err
			}

			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			return out.Emit(map[string]string{"key": key}, func(w io.Writer) {
				fmt.Fprintln(w, key)
			})
		},
	}

	cmd.Flags().BoolVar(&audio, "audio", false, "attach as the recorded audio")
	return cmd
}

func NewPurgeCommand(rootOpts *RootOptions) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete every local record owned by the current user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("purge deletes unsynced work too; pass --yes to confirm")
			}

			a, err := openApp(rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.records.Size(cmd.Context())
			if err != nil {
				return err
			}
			if err := a.records.DeleteAllForOwner(cmd.Context(), a.cfg.UserName); err != nil {
				return err
			}

			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			return out.Emit(map[string]int{"deleted": n}, func(w io.Writer) {
				fmt.Fprintf(w, "deleted %d records\n", n)
			})
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion")
	return cmd
}
