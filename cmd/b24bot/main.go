package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "b24bot",
	Short: "Telegram bot for Bitrix24 CRM",
	Long:  `A Telegram bot that links personal Bitrix24 webhooks and manages leads, deals, tasks and contacts from chat.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
