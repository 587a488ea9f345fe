package cli

import (
	"errors"
	"fmt"
	"io"

	"fieldsync/internal/domain"
	"fieldsync/internal/service"

	"github.com/spf13/cobra"
)

type syncResult struct {
	Total         int      `json:"total"`
	Succeeded     int      `json:"succeeded"`
	Failed        int      `json:"failed"`
	MediaFailures int      `json:"media_failures"`
	Cancelled     bool     `json:"cancelled"`
	Errors        []string `json:"errors,omitempty"`
}

func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		all    bool
		id     string
		target string
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Push unsynced records to the server",
		Long: `Push every unsynced record of the current user (or of every user with
--all). With --id only that record is pushed. Records that fail stay
unsynced and are retried on the next run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}

			if id != "" {
				rec, err := a.records.Get(cmd.Context(), id)
				if err != nil {
					return err
				}
				merged, err := a.syncService().Sync(cmd.Context(), rec, target)
				if err != nil {
					return describeSyncError(err)
				}
				return out.Emit(recordView(merged), func(w io.Writer) {
					fmt.Fprintf(w, "synced %s as %s (%s)\n", merged.UniqueID, merged.InternalID, merged.InternalRev)
				})
			}

			scope := service.ScopeCurrentUser
			if all {
				scope = service.ScopeEveryone
			}

			t := a.batchService().Start(cmd.Context(), scope)
			if rootOpts.Format == "text" {
				for p := range t.Progress() {
					fmt.Fprintf(cmd.ErrOrStderr(), "\r%d/%d", p.Done, p.Total)
				}
				fmt.Fprintln(cmd.ErrOrStderr())
			}
			report, err := t.Wait()
			if report == nil {
				return err
			}

			result := syncResult{
				Total:         report.Total,
				Succeeded:     report.Succeeded,
				Failed:        report.Failed,
				MediaFailures: report.MediaFailures,
				Cancelled:     report.Cancelled,
			}
			for _, o := range report.Failures() {
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", o.UniqueID, o.Err))
			}

			if emitErr := out.Emit(result, func(w io.Writer) {
				fmt.Fprintf(w, "%d of %d records synced (%s)\n", result.Succeeded, result.Total, scope)
				for _, e := range result.Errors {
					fmt.Fprintf(w, "  failed %s\n", e)
				}
				if result.MediaFailures > 0 {
					fmt.Fprintf(w, "  %d records could not fetch all media\n", result.MediaFailures)
				}
			}); emitErr != nil {
				return emitErr
			}
			if err != nil {
				return err
			}
			if result.Failed > 0 {
				return fmt.Errorf("%d records failed to sync", result.Failed)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "sync records of every user on this device")
	cmd.Flags().StringVar(&id, "id", "", "sync a single record by unique id")
	cmd.Flags().StringVar(&target, "target", "", "override the endpoint path for --id")
	return cmd
}

// describeSyncError tells the user whether retrying can help.
func describeSyncError(err error) error {
	var syncErr *domain.SyncFailedError
	if errors.As(err, &syncErr) && syncErr.StatusCode != 0 {
		return fmt.Errorf("server rejected the record (status %d): %w", syncErr.StatusCode, err)
	}
	if domain.Retryable(err) {
		return fmt.Errorf("server unreachable, try again later: %w", err)
	}
	return err
}

func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Compare local and server revisions without changing anything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := service.NewConsistencyService(a.records, a.remote).Check(cmd.Context())
			if err != nil {
				return describeSyncError(err)
			}

			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			return out.Emit(report, func(w io.Writer) {
				if report.Consistent() {
					fmt.Fprintf(w, "consistent: %d records match\n", report.Matching)
					return
				}
				fmt.Fprintf(w, "%d records match\n", report.Matching)
				for _, id := range report.RevMismatch {
					fmt.Fprintf(w, "  revision differs  %s\n", id)
				}
				for _, id := range report.MissingLocally {
					fmt.Fprintf(w, "  missing locally   %s\n", id)
				}
				for _, id := range report.MissingRemotely {
					fmt.Fprintf(w, "  missing remotely  %s\n", id)
				}
			})
		},
	}
}

func NewLoginCommand(rootOpts *RootOptions) *cobra.Command {
	var password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Obtain an access token and store it in the data directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			if password == "" {
				password = a.cfg.Password
			}
			if password == "" {
				return fmt.Errorf("password is required (--password or FIELDSYNC_PASSWORD)")
			}

			token, err := a.remote.Login(cmd.Context(), a.cfg.UserName, password)
			if err != nil {
				return err
			}
			if err := a.saveToken(token); err != nil {
				return err
			}

			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			return out.Emit(map[string]string{"user_name": a.cfg.UserName}, func(w io.Writer) {
				fmt.Fprintf(w, "logged in as %s\n", a.cfg.UserName)
			})
		},
	}

	cmd.Flags().StringVar(&password, "password", "", "account password")
	return cmd
}
