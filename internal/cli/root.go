// Package cli implements formctl, a command line companion to the upload
// service.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/formingest/internal/logging"
)

// NewRootCmd builds the formctl command tree.
func NewRootCmd() *cobra.Command {
	var (
		logLevel  string
		logFormat string
	)

	root := &cobra.Command{
		Use:           "formctl",
		Short:         "Decode and send multipart/form-data bodies",
		Long:          "formctl decodes captured multipart bodies with the same engine the upload service uses, and sends multipart forms to it.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.Setup(logLevel, logFormat)
		},
	}

	root.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format: text or json")

	root.AddCommand(newDecodeCmd())
	root.AddCommand(newSendCmd())
	return root
}

// Execute runs formctl with os.Args.
func Execute() error {
	return NewRootCmd().Execute()
}
