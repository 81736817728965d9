package cli

import (
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// NewRoot returns the stompd command.
func NewRoot(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "stompd",
		Short:         "stompd: STOMP 1.0/1.1/1.2 message broker",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.Version = version
	cmd.SetVersionTemplate("stompd {{.Version}}\n")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newPublishCmd())
	cmd.AddCommand(newSubscribeCmd())
	return cmd
}

// newLogger returns a logrus logger writing to w at level.
func newLogger(w io.Writer, level string) (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return nil, errors.Wrap(err, "log level")
	}
	log := logrus.New()
	log.SetOutput(w)
	log.SetLevel(lvl)
	return log, nil
}
