package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "memora",
	Short: "Conversational agent with layered memory",
	Long:  "memora is a conversational agent with short-term session memory and long-term vector-store recall.",
}

func Execute() error {
	return rootCmd.Execute()
}
