package commands

import (
	"fmt"
	"io"

	"github.com/leapstack-labs/leapreport/internal/cli/config"
	"github.com/leapstack-labs/leapreport/pkg/core"
	"github.com/spf13/cobra"
)

// BuildInfo describes the running binary.
type BuildInfo struct {
	Version   string `json:"version" yaml:"version"`
	Protocol  string `json:"protocol" yaml:"protocol"`
	GitCommit string `json:"commit" yaml:"commit"`
	BuildDate string `json:"buildDate" yaml:"build_date"`
}

// NewVersionCommand creates the version command.
func NewVersionCommand(info BuildInfo) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long: `Display the leapreport version, its build, and the report protocol
it speaks. Clients refuse servers whose protocol major version differs.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			info.Protocol = core.ProtocolVersion
			return renderVersion(cmd.OutOrStdout(), info, config.GetConfig(cmd.Context()).Output)
		},
	}
}

func renderVersion(w io.Writer, info BuildInfo, format string) error {
	switch format {
	case config.OutputJSON, config.OutputYAML:
		return encodeDocument(w, info, format)
	}
	_, _ = fmt.Fprintf(w, "leapreport v%s\n", info.Version)
	_, _ = fmt.Fprintf(w, "Report protocol %s\n", info.Protocol)
	if info.GitCommit != "" && info.GitCommit != "unknown" {
		_, _ = fmt.Fprintf(w, "Commit %s, built %s\n", info.GitCommit, info.BuildDate)
	}
	return nil
}
