package cmd

import (
	"errors"
	"fmt"

	"github.com/smartdl/smartdl/internal/output"
	"github.com/smartdl/smartdl/internal/utils"
	"github.com/spf13/cobra"
)

// runClean removes the working directory of an interrupted download. The target is the
// -o path, or the name the URL would download to.
func runClean(cmd *cobra.Command, args []string) error {
	target := outputPath
	if target == "" && len(args) == 1 {
		target = utils.OutputNameFromURL(args[0])
	}
	if target == "" {
		return errors.New("--clean needs an output path (-o) or a URL")
	}
	if err := utils.Clean(target); err != nil {
		return fmt.Errorf("error cleaning up temporary files: %w", err)
	}
	output.PrintSuccess(cmd.OutOrStdout(), "Temporary files cleaned up")
	return nil
}
