package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jonathan/interview-evaluator/internal/prompts"
)

var (
	promptNotes    string
	promptActivate bool
)

var promptsCmd = &cobra.Command{
	Use:   "prompts",
	Short: "Manage versioned agent prompts",
}

var promptsListCmd = &cobra.Command{
	Use:   "list <agent>",
	Short: "List all versions for an agent",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		store, err := openPromptStore()
		if err != nil {
			return err
		}
		agent := prompts.Agent(args[0])
		metas, active, err := store.ListVersions(agent)
		if err != nil {
			return err
		}
		for _, m := range metas {
			marker := " "
			if m.Version == active {
				marker = "*"
			}
			fmt.Printf("%s v%d  %s  %s\n", marker, m.Version, m.CreatedAt.Format("2006-01-02 15:04"), m.Notes)
		}
		return nil
	},
}

var promptsShowCmd = &cobra.Command{
	Use:   "show <agent> [version]",
	Short: "Print a prompt version (active version when omitted)",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(_ *cobra.Command, args []string) error {
		store, err := openPromptStore()
		if err != nil {
			return err
		}
		agent := prompts.Agent(args[0])
		if len(args) == 1 {
			content, err := store.Active(agent)
			if err != nil {
				return err
			}
			fmt.Print(content)
			return nil
		}
		v, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid version: %s", args[1])
		}
		version, err := store.GetVersion(agent, v)
		if err != nil {
			return err
		}
		fmt.Print(version.Content)
		return nil
	},
}

var promptsSaveCmd = &cobra.Command{
	Use:   "save <agent> <file>",
	Short: "Save a file as a new prompt version",
	Args:  cobra.ExactArgs(2),
	RunE: func(_ *cobra.Command, args []string) error {
		store, err := openPromptStore()
		if err != nil {
			return err
		}
		content, err := os.ReadFile(args[1])
		if err != nil {
			return fmt.Errorf("reading prompt file: %w", err)
		}
		v, err := store.CreateVersion(prompts.Agent(args[0]), string(content), promptNotes, promptActivate)
		if err != nil {
			return err
		}
		fmt.Printf("saved %s v%d\n", args[0], v)
		return nil
	},
}

var promptsActivateCmd = &cobra.Command{
	Use:   "activate <agent> <version>",
	Short: "Switch the active version for an agent",
	Args:  cobra.ExactArgs(2),
	RunE: func(_ *cobra.Command, args []string) error {
		store, err := openPromptStore()
		if err != nil {
			return err
		}
		v, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid version: %s", args[1])
		}
		if err := store.Activate(prompts.Agent(args[0]), v); err != nil {
			return err
		}
		fmt.Printf("activated %s v%d\n", args[0], v)
		return nil
	},
}

var promptsDeleteCmd = &cobra.Command{
	Use:   "delete <agent> <version>",
	Short: "Delete a non-active prompt version",
	Args:  cobra.ExactArgs(2),
	RunE: func(_ *cobra.Command, args []string) error {
		store, err := openPromptStore()
		if err != nil {
			return err
		}
		v, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid version: %s", args[1])
		}
		if err := store.Delete(prompts.Agent(args[0]), v); err != nil {
			return err
		}
		fmt.Printf("deleted %s v%d\n", args[0], v)
		return nil
	},
}

func openPromptStore() (*prompts.Store, error) {
	cfg, _, err := setup()
	if err != nil {
		return nil, err
	}
	return prompts.NewStore(cfg.PromptsDir)
}

func init() {
	promptsSaveCmd.Flags().StringVar(&promptNotes, "notes", "", "Notes describing the version")
	promptsSaveCmd.Flags().BoolVar(&promptActivate, "activate", false, "Activate the new version immediately")
	promptsCmd.AddCommand(promptsListCmd, promptsShowCmd, promptsSaveCmd, promptsActivateCmd, promptsDeleteCmd)
	rootCmd.AddCommand(promptsCmd)
}
