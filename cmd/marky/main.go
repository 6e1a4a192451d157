package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/markybot/marky/pkg/activity"
	"github.com/markybot/marky/pkg/bot"
	"github.com/markybot/marky/pkg/bus"
	"github.com/markybot/marky/pkg/channels"
	"github.com/markybot/marky/pkg/config"
	"github.com/markybot/marky/pkg/health"
	"github.com/markybot/marky/pkg/logger"
	"github.com/markybot/marky/pkg/markov"
	"github.com/markybot/marky/pkg/scheduler"
	"github.com/markybot/marky/pkg/store"
)

var (
	version   = "dev"
	gitCommit string
	buildTime string
	goVersion string
)

const appName = "marky"

// localConversation is where the interactive chat and default feed/generate
// commands train and read.
const localConversation = "cli:local"

func formatVersion() string {
	v := version
	if gitCommit != "" {
		v += fmt.Sprintf(" (git: %s)", gitCommit)
	}
	return v
}

func formatBuildInfo() (build string, goVer string) {
	if buildTime != "" {
		build = buildTime
	}
	goVer = goVersion
	if goVer == "" {
		goVer = runtime.Version()
	}
	return
}

func printVersion() {
	fmt.Printf("%s %s\n", appName, formatVersion())
	build, goVer := formatBuildInfo()
	if build != "" {
		fmt.Printf("  Build: %s\n", build)
	}
	if goVer != "" {
		fmt.Printf("  Go: %s\n", goVer)
	}
}

func main() {
	if len(os.Args) < 2 {
		printHelp()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "onboard":
		onboard()
	case "gateway":
		gatewayCmd()
	case "chat":
		chatCmd()
	case "feed":
		feedCmd()
	case "generate":
		generateCmd()
	case "status":
		statusCmd()
	case "version", "--version", "-v":
		printVersion()
	case "help", "--help", "-h":
		printHelp()
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		printHelp()
		os.Exit(1)
	}
}

func printHelp() {
	fmt.Printf("%s - Markov chain chat bot v%s\n\n", appName, version)
	fmt.Println("Usage: marky <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  onboard     Initialize marky configuration")
	fmt.Println("  gateway     Start the Discord gateway")
	fmt.Println("  chat        Chat with the local model interactively")
	fmt.Println("  feed        Train a model from a text file")
	fmt.Println("  generate    Generate text from a trained model")
	fmt.Println("  status      Show configuration and model status")
	fmt.Println("  version     Show version information")
}

func getConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".marky", "config.json")
}

func loadConfig() (*config.Config, error) {
	return config.LoadConfig(getConfigPath())
}

func applyLogLevel(cfg *config.Config) {
	if lvl, ok := logger.ParseLevel(cfg.Bot.LogLevel); ok {
		logger.SetLevel(lvl)
	}
}

func settingsFromConfig(cfg *config.Config) markov.Settings {
	return markov.Settings{
		Order:               cfg.Markov.DefaultOrder,
		RandomReplyChance:   cfg.Markov.RandomReplyChance,
		InactivityThreshold: time.Duration(cfg.Markov.InactivityThreshold) * time.Second,
		WordFromUserChance:  cfg.Markov.WordFromUserChance,
	}
}

// engine bundles the wired-up runtime shared by the gateway and the local
// CLI commands.
type engine struct {
	cfg        *config.Config
	gateway    *store.Gateway
	chainStore *markov.Store
	bus        *bus.MessageBus
	tracker    *activity.Tracker
	generator  *markov.Generator
	bot        *bot.Bot
	flusher    *store.Flusher
}

func openEngine(cfg *config.Config) (*engine, error) {
	gw, err := store.NewGateway(cfg.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}

	chainStore := markov.NewStore(settingsFromConfig(cfg))
	loaded, err := gw.LoadAll(context.Background(), chainStore)
	if err != nil {
		gw.Close()
		return nil, fmt.Errorf("load persisted state: %w", err)
	}
	logger.InfoCF("main", "State loaded", map[string]any{
		"conversations": loaded,
	})

	msgBus := bus.NewMessageBus()
	generator := markov.NewGenerator(chainStore, nil)
	tracker := activity.NewTracker(chainStore, generator.Rand())
	flushInterval := time.Duration(cfg.Storage.FlushInterval) * time.Second
	if flushInterval < time.Second {
		flushInterval = time.Second
	}

	return &engine{
		cfg:        cfg,
		gateway:    gw,
		chainStore: chainStore,
		bus:        msgBus,
		tracker:    tracker,
		generator:  generator,
		bot:        bot.New(cfg, chainStore, tracker, generator, msgBus),
		flusher:    store.NewFlusher(gw, chainStore, flushInterval),
	}, nil
}

func (e *engine) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	e.flusher.FlushNow(ctx)
	if err := e.gateway.Close(); err != nil {
		logger.WarnCF("main", "Error closing state database", map[string]any{
			"error": err.Error(),
		})
	}
}

func onboard() {
	configPath := getConfigPath()

	if _, err := os.Stat(configPath); err == nil {
		fmt.Printf("Config already exists at %s\n", configPath)
		fmt.Print("Overwrite? (y/n): ")
		reader := bufio.NewReader(os.Stdin)
		response, readErr := reader.ReadString('\n')
		if readErr != nil {
			fmt.Printf("Error reading input: %v\n", readErr)
			fmt.Println("Aborted.")
			return
		}
		response = strings.ToLower(strings.TrimSpace(response))
		if response != "y" && response != "yes" {
			fmt.Println("Aborted.")
			return
		}
	}

	cfg := config.DefaultConfig()
	if err := config.SaveConfig(configPath, cfg); err != nil {
		fmt.Printf("Error saving config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("%s is ready!\n", appName)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Add your Discord bot token to channels.discord.token in", configPath)
	fmt.Println("  2. Train locally: marky feed corpus.txt")
	fmt.Println("  3. Chat locally: marky chat")
	fmt.Println("  4. Run gateway: marky gateway")
	fmt.Println("  5. Check readiness: marky status")
}

func gatewayCmd() {
	for _, arg := range os.Args[2:] {
		if arg == "--debug" || arg == "-d" {
			logger.SetLevel(logger.DEBUG)
			fmt.Println("Debug mode enabled")
			break
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
	applyLogLevel(cfg)
	if err := cfg.Validate(); err != nil {
		fmt.Printf("Configuration error: %v\n", err)
		os.Exit(1)
	}
	if strings.TrimSpace(cfg.Channels.Discord.Token) == "" {
		fmt.Printf("channels.discord.token is required in %s or MARKY_CHANNELS_DISCORD_TOKEN\n", getConfigPath())
		os.Exit(1)
	}

	eng, err := openEngine(cfg)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	sched := scheduler.New(
		eng.chainStore,
		eng.tracker,
		eng.generator,
		eng.bus,
		time.Duration(cfg.Scheduler.CheckInterval)*time.Second,
		cfg.Scheduler.ActiveHours,
		cfg.Markov.MaxGeneratedTokens,
	)
	if !sched.ValidateActiveHours() {
		fmt.Printf("Configuration error: scheduler.active_hours is not a valid cron expression: %q\n", cfg.Scheduler.ActiveHours)
		eng.gateway.Close()
		os.Exit(1)
	}

	channelManager, err := channels.NewManager(cfg, eng.bus)
	if err != nil {
		fmt.Printf("Error creating channel manager: %v\n", err)
		eng.gateway.Close()
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := channelManager.StartAll(ctx); err != nil {
		fmt.Printf("Error starting channels: %v\n", err)
		cancel()
		eng.close()
		os.Exit(1)
	}
	fmt.Printf("Channels enabled: %s\n", strings.Join(channelManager.GetEnabledChannels(), ", "))

	healthServer := health.NewServer(cfg.Gateway.Host, cfg.Gateway.Port)
	healthServer.Start()
	healthServer.SetReady(true)
	fmt.Printf("Health endpoints at http://%s:%d/health and /ready\n", cfg.Gateway.Host, cfg.Gateway.Port)

	flusherDone := make(chan struct{})
	go func() {
		defer close(flusherDone)
		eng.flusher.Run(ctx)
	}()
	go eng.bot.Run(ctx)
	go sched.Run(ctx)

	fmt.Println("Gateway started. Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	<-sigChan

	fmt.Println("\nShutting down...")
	cancel()
	healthServer.Stop(context.Background())
	channelManager.StopAll(context.Background())
	eng.bus.Close()
	// The flush loop writes everything dirty on its way out.
	<-flusherDone
	if err := eng.gateway.Close(); err != nil {
		fmt.Printf("Error closing state database: %v\n", err)
	}
	fmt.Println("Gateway stopped")
}

func chatCmd() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
	applyLogLevel(cfg)

	eng, err := openEngine(cfg)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	defer eng.close()

	fmt.Printf("%s Interactive mode (Ctrl+C to exit)\n\n", appName)

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "you: ",
		HistoryFile:     filepath.Join(os.TempDir(), ".marky_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Printf("Error initializing readline: %v\n", err)
		fmt.Println("Falling back to simple input mode...")
		simpleChatLoop(eng)
		return
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				fmt.Println("\nGoodbye!")
				return
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}
		if !chatTurn(eng, line) {
			return
		}
	}
}

func simpleChatLoop(eng *engine) {
	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Print("you: ")
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				fmt.Println("\nGoodbye!")
				return
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}
		if !chatTurn(eng, line) {
			return
		}
	}
}

// chatTurn runs one REPL exchange through the same loop the gateway uses.
// Returns false when the user asked to quit.
func chatTurn(eng *engine, line string) bool {
	input := strings.TrimSpace(line)
	if input == "" {
		return true
	}
	if input == "exit" || input == "quit" {
		fmt.Println("Goodbye!")
		return false
	}

	eng.bot.HandleInbound(context.Background(), bus.InboundMessage{
		Channel:   "cli",
		SenderID:  "local",
		ChatID:    "local",
		Content:   input,
		Timestamp: time.Now(),
		IsAdmin:   true,
		IsDM:      true,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	out, ok := eng.bus.SubscribeOutbound(ctx)
	cancel()
	if ok {
		fmt.Printf("\n%s: %s\n\n", appName, out.Content)
	}
	return true
}

func feedCmd() {
	fs := flag.NewFlagSet("feed", flag.ExitOnError)
	conversation := fs.String("conversation", localConversation, "Conversation ID to train")
	fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: marky feed [--conversation <id>] <file>")
		os.Exit(1)
	}
	path := fs.Arg(0)

	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
	applyLogLevel(cfg)

	eng, err := openEngine(cfg)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	defer eng.close()

	f, err := os.Open(path)
	if err != nil {
		fmt.Printf("Error opening %s: %v\n", path, err)
		os.Exit(1)
	}
	defer f.Close()

	lines, transitions, err := eng.bot.Feed(*conversation, f, 0)
	if err != nil {
		fmt.Printf("Error feeding %s: %v\n", path, err)
		os.Exit(1)
	}

	keys, pairs := eng.chainStore.Stats(*conversation)
	fmt.Printf("Fed %d lines (%d transitions) into %s\n", lines, transitions, *conversation)
	fmt.Printf("Model now has %d contexts and %d transitions\n", keys, pairs)
}

func generateCmd() {
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	conversation := fs.String("conversation", localConversation, "Conversation ID to generate from")
	seed := fs.String("seed", "", "Seed word to start from")
	maxTokens := fs.Int("max-tokens", 0, "Token budget (default from config)")
	count := fs.Int("count", 1, "Number of utterances to generate")
	fs.Parse(os.Args[2:])

	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
	applyLogLevel(cfg)

	eng, err := openEngine(cfg)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	defer eng.close()

	budget := *maxTokens
	if budget < 1 {
		budget = cfg.Markov.MaxGeneratedTokens
	}

	var seedTokens []string
	if s := strings.TrimSpace(*seed); s != "" {
		seedTokens = markov.Tokenize(s)
	}

	for i := 0; i < *count; i++ {
		tokens, err := eng.generator.Generate(*conversation, budget, seedTokens...)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
		if len(tokens) == 0 {
			fmt.Println("(nothing to say)")
			continue
		}
		fmt.Println(strings.Join(tokens, " "))
	}
}

func statusCmd() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		return
	}

	configPath := getConfigPath()

	fmt.Printf("%s Status\n", appName)
	fmt.Printf("Version: %s\n", formatVersion())
	build, _ := formatBuildInfo()
	if build != "" {
		fmt.Printf("Build: %s\n", build)
	}
	fmt.Println()

	if _, err := os.Stat(configPath); err == nil {
		fmt.Println("Config:", configPath, "ok")
	} else {
		fmt.Println("Config:", configPath, "missing")
	}

	dbPath := cfg.DatabasePath()
	if _, err := os.Stat(dbPath); err == nil {
		fmt.Println("State DB:", dbPath, "ok")

		gw, err := store.NewGateway(dbPath)
		if err == nil {
			chainStore := markov.NewStore(settingsFromConfig(cfg))
			if n, loadErr := gw.LoadAll(context.Background(), chainStore); loadErr == nil {
				fmt.Printf("Conversations: %d\n", n)
			}
			gw.Close()
		}
	} else {
		fmt.Println("State DB:", dbPath, "not initialized")
	}

	status := func(ready bool) string {
		if ready {
			return "ok"
		}
		return "not set"
	}
	discordReady := strings.TrimSpace(cfg.Channels.Discord.Token) != ""
	fmt.Println("Discord token:", status(discordReady))
	fmt.Println("Gateway ready:", status(discordReady))
}
