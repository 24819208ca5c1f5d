package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/sproutlog/sproutlog/internal/client/config"
)

var (
	red   = color.New(color.FgHiRed, color.Bold).SprintFunc()
	green = color.New(color.FgHiGreen).SprintFunc()
	cyan  = color.New(color.FgHiCyan).SprintFunc()
)

func init() {
	rootCmd.AddCommand(newInitCmd())
}

func newInitCmd() *cobra.Command {
	var email string
	var dataDir string
	var serverURL string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a Sproutlog config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			if cfg, err := config.LoadFromFile(config.DefaultConfigPath); err == nil {
				fmt.Println("Sproutlog already initialized")
				printConfig(cfg)
				return nil
			}

			cfg := &config.Config{
				Email:     email,
				DataDir:   dataDir,
				ServerURL: serverURL,
				AutoSync:  true,
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("%s: %w", red("invalid config"), err)
			}
			if err := cfg.Save(); err != nil {
				return fmt.Errorf("%s: %w", red("save config"), err)
			}

			fmt.Println("Sproutlog initialized")
			printConfig(cfg)
			return nil
		},
	}

	cmd.Flags().StringVarP(&email, "email", "e", "", "Email of the Sproutlog account")
	cmd.Flags().StringVarP(&dataDir, "datadir", "d", config.DefaultDataDir, "Sproutlog data directory")
	cmd.Flags().StringVarP(&serverURL, "server", "s", config.DefaultServerURL, "Sproutlog server url")
	cmd.MarkFlagRequired("email")

	return cmd
}

func printConfig(cfg *config.Config) {
	fmt.Printf("Config Path: %s\n", green(cfg.Path))
	fmt.Printf("Email:       %s\n", cyan(cfg.Email))
	fmt.Printf("Data Dir:    %s\n", cyan(cfg.DataDir))
	fmt.Printf("Server:      %s\n", cyan(cfg.ServerURL))
}
