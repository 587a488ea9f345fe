// Package cli is the device agent: it edits records in the local store and
// pushes them to the server.
package cli

import (
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// RootOptions holds global state shared by all commands.
type RootOptions struct {
	Viper  *viper.Viper
	Fs     afero.Fs
	Format string // "json" | "text"
}

var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command backed by the OS filesystem.
func NewRootCommand() *cobra.Command {
	return NewRootCommandWith(viper.New(), afero.NewOsFs())
}

// NewRootCommandWith lets tests supply their own viper instance and
// filesystem.
func NewRootCommandWith(v *viper.Viper, fs afero.Fs) *cobra.Command {
	opts := &RootOptions{Viper: v, Fs: fs}

	cmd := &cobra.Command{
		Use:   "fieldsync",
		Short: "fieldsync - offline-first record sync",
		Long: `Keep case records on this device and push them to the records server
when a connection is available.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	flags.String("config", "", "config file (yaml, json or toml)")
	flags.String("server-url", "", "records server base URL")
	flags.String("user", "", "acting user name")
	flags.String("organisation", "", "acting user's organisation")
	flags.String("device-id", "", "identifier of this device")
	flags.String("data-dir", "", "directory holding the record store and media")
	flags.Int("concurrency", 0, "records pushed in parallel during a batch sync")

	bind := map[string]string{
		"config":       "config",
		"server_url":   "server-url",
		"user_name":    "user",
		"organisation": "organisation",
		"device_id":    "device-id",
		"data_dir":     "data-dir",
		"concurrency":  "concurrency",
	}
	for key, flag := range bind {
		// Lookup cannot fail for flags declared above.
		_ = v.BindPFlag(key, flags.Lookup(flag))
	}

	cmd.AddCommand(NewCreateCommand(opts))
	cmd.AddCommand(NewUpdateCommand(opts))
	cmd.AddCommand(NewShowCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewAttachCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewCheckCommand(opts))
	cmd.AddCommand(NewPurgeCommand(opts))
	cmd.AddCommand(NewLoginCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
