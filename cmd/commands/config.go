package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/satriahrh/arunika/client/usecase"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the backend URL and model",
}

// configView is the printable form of the stored backend settings
type configView struct {
	BackendURL string `json:"backend_url" yaml:"backend_url"`
	Model      string `json:"model" yaml:"model"`
	Platform   string `json:"platform" yaml:"platform"`
	DataDir    string `json:"data_dir" yaml:"data_dir"`
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the backend settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		cfg, _ := a.Config.Current()
		format := outputFormat
		if format == "" {
			format = formatYAML
		}
		return output(cmd.OutOrStdout(), configView{
			BackendURL: cfg.BackendURL,
			Model:      cfg.Model,
			Platform:   string(a.Config.Platform()),
			DataDir:    settings.DataDir,
		}, format)
	},
}

var configSetURLCmd = &cobra.Command{
	Use:   "set-url URL",
	Short: "Store the backend URL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Config.SaveURL(cmd.Context(), args[0]); err != nil {
			return err
		}
		printSuccess(cmd.OutOrStdout(), "Backend URL set to %s", args[0])
		return nil
	},
}

var configSetModelCmd = &cobra.Command{
	Use:   "set-model MODEL",
	Short: "Store the model name locally",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Config.SaveModelLocally(cmd.Context(), args[0]); err != nil {
			return err
		}
		printSuccess(cmd.OutOrStdout(), "Model set to %s", args[0])
		return nil
	},
}

var configPushModelCmd = &cobra.Command{
	Use:   "push-model MODEL",
	Short: "Ask the backend to switch its model",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		return printResult(cmd, a.Config.UpdateModelRemotely(cmd.Context(), args[0]))
	},
}

var configTestCmd = &cobra.Command{
	Use:   "test [URL]",
	Short: "Check that a backend is reachable",
	Long:  "Check that a backend is reachable. Without URL the stored backend URL is tested.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		target, _ := a.Config.Current()
		url := target.BackendURL
		if len(args) == 1 {
			url = args[0]
		}
		return printResult(cmd, a.Config.TestConnection(cmd.Context(), url))
	},
}

// printResult prints a connection result and turns a failure into a non-zero
// exit status
func printResult(cmd *cobra.Command, result usecase.ConnectionResult) error {
	w := cmd.OutOrStdout()
	if outputFormat != "" {
		if err := output(w, result, outputFormat); err != nil {
			return err
		}
	} else if result.Success {
		printSuccess(w, "%s", result.Message)
	} else {
		printFailure(w, "%s", result.Message)
	}

	if !result.Success {
		return fmt.Errorf("backend request failed")
	}
	return nil
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetURLCmd)
	configCmd.AddCommand(configSetModelCmd)
	configCmd.AddCommand(configPushModelCmd)
	configCmd.AddCommand(configTestCmd)
	rootCmd.AddCommand(configCmd)
}
