package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:     "terminal",
		Short:   "Card-present payment terminal",
		Version: Version,
	}

	rootCmd.PersistentFlags().String("config", "", "config file (yaml)")
	rootCmd.PersistentFlags().String("env-file", ".env", "dotenv file loaded before reading the environment")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(payCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
