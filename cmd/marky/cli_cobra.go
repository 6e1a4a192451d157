package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

func executeCLI() error {
	root := buildRootCommand()
	if err := root.Execute(); err != nil {
		return err
	}
	return nil
}

func buildRootCommand() *cobra.Command {
	var showVersion bool

	root := &cobra.Command{
		Use:   "marky",
		Short: "Markov chain chat bot with a Discord gateway",
		Long: strings.TrimSpace(`marky learns from chat messages and talks back in the same style.

Use CLI commands to onboard, train models from text files, chat with the
local model, generate one-shot text, and run the Discord gateway.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				printVersion()
				return nil
			}
			_ = cmd.Help()
			return fmt.Errorf("a subcommand is required")
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.Flags().BoolVarP(&showVersion, "version", "v", false, "Show build/version metadata")

	root.AddCommand(newOnboardCommand())
	root.AddCommand(newGatewayCommand())
	root.AddCommand(newChatCommand())
	root.AddCommand(newFeedCommand())
	root.AddCommand(newGenerateCommand())
	root.AddCommand(newStatusCommand())
	root.AddCommand(newVersionCommand())

	return root
}

func runLegacyWithArgs(args []string, fn func()) error {
	original := os.Args
	os.Args = append([]string{original[0]}, args...)
	defer func() {
		os.Args = original
	}()
	fn()
	return nil
}

func newOnboardCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "onboard",
		Short:   "Initialize ~/.marky configuration",
		Long:    "Create the default configuration file for a new marky installation.",
		Example: "  marky onboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLegacyWithArgs([]string{"onboard"}, onboard)
		},
	}
}

func newGatewayCommand() *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:     "gateway",
		Short:   "Run the Discord gateway + health server",
		Long:    "Start the channel adapters, bot loop, inactivity scheduler, and state flusher.",
		Example: "  marky gateway --debug",
		RunE: func(cmd *cobra.Command, args []string) error {
			legacyArgs := []string{"gateway"}
			if debug {
				legacyArgs = append(legacyArgs, "--debug")
			}
			return runLegacyWithArgs(legacyArgs, gatewayCmd)
		},
	}

	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func newChatCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "chat",
		Short:   "Chat with the local model interactively",
		Long:    "Run an interactive session against the local conversation. Every line trains the model and gets a generated reply.",
		Example: "  marky chat",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLegacyWithArgs([]string{"chat"}, chatCmd)
		},
	}
}

func newFeedCommand() *cobra.Command {
	var conversation string

	cmd := &cobra.Command{
		Use:   "feed <file>",
		Short: "Train a model from a text file",
		Long:  "Tokenize a text file line by line and train the target conversation's model.",
		Args:  cobra.ExactArgs(1),
		Example: strings.Join([]string{
			"  marky feed corpus.txt",
			"  marky feed --conversation discord:1234 corpus.txt",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			legacyArgs := []string{"feed", "--conversation", conversation, args[0]}
			return runLegacyWithArgs(legacyArgs, feedCmd)
		},
	}

	cmd.Flags().StringVarP(&conversation, "conversation", "c", localConversation, "Conversation ID to train")
	return cmd
}

func newGenerateCommand() *cobra.Command {
	var (
		conversation string
		seed         string
		maxTokens    int
		count        int
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate text from a trained model",
		Example: strings.Join([]string{
			"  marky generate",
			"  marky generate --seed coffee --count 5",
			"  marky generate --conversation discord:1234 --max-tokens 50",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			legacyArgs := []string{"generate", "--conversation", conversation, "--count", strconv.Itoa(count)}
			if strings.TrimSpace(seed) != "" {
				legacyArgs = append(legacyArgs, "--seed", seed)
			}
			if maxTokens > 0 {
				legacyArgs = append(legacyArgs, "--max-tokens", strconv.Itoa(maxTokens))
			}
			return runLegacyWithArgs(legacyArgs, generateCmd)
		},
	}

	cmd.Flags().StringVarP(&conversation, "conversation", "c", localConversation, "Conversation ID to generate from")
	cmd.Flags().StringVarP(&seed, "seed", "s", "", "Seed word to start from")
	cmd.Flags().IntVarP(&maxTokens, "max-tokens", "m", 0, "Token budget (default from config)")
	cmd.Flags().IntVarP(&count, "count", "n", 1, "Number of utterances to generate")
	return cmd
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		Short:   "Show configuration and model status",
		Example: "  marky status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLegacyWithArgs([]string{"status"}, statusCmd)
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "version",
		Short:   "Show build/version metadata",
		Example: "  marky version",
		RunE: func(cmd *cobra.Command, args []string) error {
			printVersion()
			return nil
		},
	}
}
