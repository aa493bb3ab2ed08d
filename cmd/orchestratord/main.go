// Command orchestratord runs the career-assistance orchestration service:
// the Conversation Orchestrator, Goal Planner/Executor, Background Task
// Runner, and Push Fabric, wired from a single YAML config file.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "orchestratord",
		Short: "Career-assistance multi-agent orchestration service",
	}
	root.AddCommand(newServeCommand())
	root.AddCommand(newMigrateCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
