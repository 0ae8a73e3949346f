package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/stagehand-dev/stagehand/internal/bus"
	"github.com/stagehand-dev/stagehand/internal/config"
	"github.com/stagehand-dev/stagehand/internal/story"
	"github.com/stagehand-dev/stagehand/pkg/models"
)

var storyCmd = &cobra.Command{
	Use:   "story",
	Short: "Manage story lifecycle",
	Long: `Create stories, advance them through their lifecycle, and inspect
epic progress.

Stories are identified as <epic>.<story> (e.g. 3.2) and move through the
states: ready → in_progress → code_review → testing → done. A story can be
archived from any state after ready.`,
}

var storyCreateCmd = &cobra.Command{
	Use:   "create <epic> <story> [details...]",
	Short: "Create a new story in the ready state",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		epic, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid epic number %q", args[0])
		}
		storyNum, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid story number %q", args[1])
		}
		details := strings.Join(args[2:], " ")

		stories, closeStories, err := openStoryManager()
		if err != nil {
			return err
		}
		defer closeStories()

		s, err := stories.CreateStory(cmd.Context(), epic, storyNum, details)
		if err != nil {
			return err
		}
		fmt.Printf("%s story %s created\n", color.GreenString("✓"), s.ID)
		return nil
	},
}

var storyAdvanceCmd = &cobra.Command{
	Use:   "advance <id> <state>",
	Short: "Move a story to a new lifecycle state",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		to := models.StoryState(args[1])
		if !to.Valid() {
			return fmt.Errorf("invalid state %q (valid: ready, in_progress, code_review, testing, done, archived)", args[1])
		}

		stories, closeStories, err := openStoryManager()
		if err != nil {
			return err
		}
		defer closeStories()

		s, err := stories.TransitionState(cmd.Context(), args[0], to)
		if err != nil {
			return err
		}
		fmt.Printf("%s story %s is now %s\n", color.GreenString("✓"), s.ID, s.State)
		return nil
	},
}

var storyProgressCmd = &cobra.Command{
	Use:   "progress <epic>",
	Short: "Show completion progress for an epic",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		epic, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid epic number %q", args[0])
		}

		stories, closeStories, err := openStoryManager()
		if err != nil {
			return err
		}
		defer closeStories()

		progress, err := stories.EpicProgress(cmd.Context(), epic)
		if err != nil {
			return err
		}

		fmt.Printf("Epic %d: %d/%d stories done (%.0f%%)\n",
			epic, progress.Done, progress.Total, progress.PercentComplete)
		fmt.Println(progressBar(progress))
		return nil
	},
}

// progressBar renders a simple completion bar for an epic.
func progressBar(p models.EpicProgress) string {
	const width = 30
	filled := 0
	if p.Total > 0 {
		filled = p.Done * width / p.Total
	}
	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
	if p.Total > 0 && p.Done == p.Total {
		return color.GreenString(bar)
	}
	return color.CyanString(bar)
}

// openStoryManager opens the project story database for CLI commands.
func openStoryManager() (*story.Manager, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return nil, nil, fmt.Errorf("getting working directory: %w", err)
	}

	dbPath := cfg.Storage.DBPath
	if dbPath == "" {
		dbPath = story.DefaultDBPath(cwd)
	}
	repo, err := story.OpenSQLite(dbPath)
	if err != nil {
		return nil, nil, fmt.Errorf("opening story database: %w", err)
	}

	b := bus.New(cfg.Events.BufferSize)
	return story.NewManager(repo, b), func() { repo.Close() }, nil
}

func init() {
	storyCmd.AddCommand(storyCreateCmd)
	storyCmd.AddCommand(storyAdvanceCmd)
	storyCmd.AddCommand(storyProgressCmd)
}
