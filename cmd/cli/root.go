package main

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "reviewcore",
	Short: "reviewcore is a CLI for the PR review pipeline",
	Long:  `A command-line interface for running and inspecting knowledge-graph-assisted pull request reviews.`,
}

func Execute() error {
	return rootCmd.Execute()
}
