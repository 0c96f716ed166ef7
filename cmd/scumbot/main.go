// scumbot - SCUM dedicated server automation and Discord relay
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	flag "github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/spidees/scum-server-automation/internal/bus"
	"github.com/spidees/scum-server-automation/internal/config"
	"github.com/spidees/scum-server-automation/internal/domain"
	"github.com/spidees/scum-server-automation/internal/gateway"
	"github.com/spidees/scum-server-automation/internal/notify"
	"github.com/spidees/scum-server-automation/internal/scum"
	"github.com/spidees/scum-server-automation/internal/storage"
)

var version = "dev"

const defaultConfigPath = "/etc/scumbot/config.yml"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "init":
		cmdInit(os.Args[2:])
	case "run":
		cmdRun(os.Args[2:])
	case "players":
		cmdPlayers(os.Args[2:])
	case "leaderboard":
		cmdLeaderboard(os.Args[2:])
	case "version":
		fmt.Printf("scumbot %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: scumbot <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  init                 Bootstrap config and Discord token")
	fmt.Println("  run                  Start the automation daemon")
	fmt.Println("  players [--recent N] Show recently seen players (default: 20)")
	fmt.Println("  leaderboard [--top N]")
	fmt.Println("                       Show top players by kills (default: 20)")
	fmt.Println("  version              Show version")
	fmt.Println("  help                 Show this help")
	fmt.Println()
	fmt.Println("Global Options:")
	fmt.Println("  --config <path>    Path to configuration file (default /etc/scumbot/config.yml)")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  sudo scumbot init")
	fmt.Println("  scumbot run --config /etc/scumbot/config.yml")
	fmt.Println("  scumbot leaderboard --top 50")
}

// cmdInit writes a starter config and captures the Discord token
func cmdInit(args []string) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to configuration file")
	fs.Parse(args)

	if _, err := os.Stat(*configPath); err == nil {
		fmt.Printf("scumbot is already initialized (%s exists).\n", *configPath)
		fmt.Println("To re-initialize, remove the config file first.")
		return
	}

	configDir := filepath.Dir(*configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating %s: %v\n", configDir, err)
		os.Exit(1)
	}

	fmt.Print("Enter Discord bot token: ")
	token, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading token: %v\n", err)
		os.Exit(1)
	}
	if len(token) == 0 {
		fmt.Fprintln(os.Stderr, "Error: token must not be empty")
		os.Exit(1)
	}

	envPath := filepath.Join(configDir, ".env")
	envContent := fmt.Sprintf("DISCORD_TOKEN=%s\n", string(token))
	if err := os.WriteFile(envPath, []byte(envContent), 0600); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing %s: %v\n", envPath, err)
		os.Exit(1)
	}
	fmt.Printf("Token: %s\n", envPath)

	cfg := &config.Config{
		Discord: config.DiscordConfig{
			ActivityUpdateInterval: 30 * time.Second,
			RecoveryCooldown:       30 * time.Second,
			MaxRecoveryAttempts:    3,
			HandshakeTimeout:       60 * time.Second,
		},
		Scum: config.ScumConfig{
			LogPath:      "/srv/scum/SCUM/Saved/Logs/SCUM.log",
			Address:      "127.0.0.1:27015",
			PollInterval: 30 * time.Second,
			MaxPlayers:   64,
		},
		Database: config.DatabaseConfig{
			Path: "/var/lib/scumbot/scumbot.db",
		},
	}
	if err := config.Save(*configPath, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing config: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Config: %s\n", *configPath)

	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  1. Edit the config: set discord.channel_id, scum.log_path, scum.address")
	fmt.Printf("  2. Start the daemon: scumbot run --config %s\n", *configPath)
}

// cmdRun starts the automation daemon
func cmdRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to configuration file")
	debug := fs.Bool("debug", false, "enable debug logging")
	fs.Parse(args)

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()
	if *debug {
		log = log.Level(zerolog.DebugLevel)
	} else {
		log = log.Level(zerolog.InfoLevel)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("loading config")
	}
	if cfg.Discord.Token == "" {
		log.Fatal().Msg("DISCORD_TOKEN is not set (run scumbot init, or export it)")
	}
	if cfg.Discord.ChannelID == "" {
		log.Fatal().Msg("discord.channel_id is not configured")
	}

	log.Info().Str("version", version).Msg("scumbot starting")

	store, err := storage.New(cfg.Database.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("initializing database")
	}
	defer store.Close()

	eventBus, err := bus.New(log)
	if err != nil {
		log.Fatal().Err(err).Msg("starting event bus")
	}
	defer eventBus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rest := gateway.NewRESTClient(cfg.Discord.Token, log)
	presence := gateway.NewPresenceUpdater(cfg.Discord.ActivityUpdateInterval, log)

	supervisor := gateway.NewSupervisor(gateway.SupervisorConfig{
		Token:               cfg.Discord.Token,
		Intents:             gateway.ComputeIntents(gateway.IntentGuildMessages, gateway.IntentDirectMessages),
		HandshakeTimeout:    cfg.Discord.HandshakeTimeout,
		RecoveryCooldown:    cfg.Discord.RecoveryCooldown,
		MaxRecoveryAttempts: cfg.Discord.MaxRecoveryAttempts,
	}, rest, presence, log)

	sink := notify.NewSink(rest, cfg.Discord.ChannelID, log)
	if err := sink.Start(ctx, eventBus, supervisor.Lifecycle()); err != nil {
		log.Fatal().Err(err).Msg("starting notification sink")
	}
	defer sink.Stop()

	manager := scum.NewManager(cfg.Scum, store, eventBus, log)
	manager.OnStatusChange(func(status domain.ServerStatus) {
		presence.SetDesired(presenceForStatus(status))
	})

	if err := supervisor.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("connecting to Discord")
	}
	defer supervisor.Stop()

	go presence.Run(ctx)
	go handleCommands(ctx, supervisor, store, manager, rest, cfg.Discord.ChannelID, log)

	if err := manager.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("starting server manager")
	}
	defer manager.Stop()

	log.Info().
		Str("log_path", cfg.Scum.LogPath).
		Str("address", cfg.Scum.Address).
		Msg("scumbot running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("shutting down")
}

// presenceForStatus maps the observed server state onto the bot's presence
func presenceForStatus(status domain.ServerStatus) (gateway.PresenceStatus, gateway.ActivityKind, string) {
	switch status.State {
	case domain.ServerStateOnline:
		return gateway.StatusOnline, gateway.ActivityWatching,
			fmt.Sprintf("%d/%d online", status.PlayerCount, status.MaxPlayers)
	case domain.ServerStateStarting:
		return gateway.StatusIdle, gateway.ActivityWatching, "server starting"
	case domain.ServerStateStopping:
		return gateway.StatusIdle, gateway.ActivityWatching, "server stopping"
	default:
		return gateway.StatusDND, gateway.ActivityWatching, "server offline"
	}
}

// messageCreate is the MESSAGE_CREATE dispatch payload subset we use
type messageCreate struct {
	Content   string `json:"content"`
	ChannelID string `json:"channel_id"`
	Author    struct {
		Username string `json:"username"`
		Bot      bool   `json:"bot"`
	} `json:"author"`
}

// handleCommands answers chat commands posted in the relay channel
func handleCommands(ctx context.Context, supervisor *gateway.Supervisor, store *storage.Store,
	manager *scum.Manager, rest *gateway.RESTClient, channelID string, log zerolog.Logger) {

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-supervisor.Dispatch():
			if ev.Name != "MESSAGE_CREATE" {
				continue
			}
			var msg messageCreate
			if err := json.Unmarshal(ev.Data, &msg); err != nil {
				log.Debug().Err(err).Msg("undecodable message event")
				continue
			}
			if msg.Author.Bot || msg.ChannelID != channelID {
				continue
			}

			var reply string
			switch strings.TrimSpace(msg.Content) {
			case "!status":
				status := manager.Status()
				reply = fmt.Sprintf("Server **%s**: %d/%d players", status.State,
					status.PlayerCount, status.MaxPlayers)
				if status.Version != "" {
					reply += fmt.Sprintf(" (v%s)", status.Version)
				}
			case "!top":
				entries, err := store.GetLeaderboard(ctx, 10)
				if err != nil {
					log.Warn().Err(err).Msg("leaderboard query failed")
					continue
				}
				var b strings.Builder
				b.WriteString("**Top players**\n")
				for i, e := range entries {
					fmt.Fprintf(&b, "%d. %s — %d kills, %d deaths (%.2f)\n",
						i+1, e.Player.Name, e.Kills, e.Deaths, e.KDRatio)
				}
				reply = b.String()
			case "!reconnect":
				supervisor.ResetRecovery()
				reply = "Recovery counter reset."
			default:
				continue
			}

			if _, err := rest.SendMessage(ctx, channelID, reply, nil); err != nil {
				log.Warn().Err(err).Msg("sending command reply")
			}
		}
	}
}

func cmdPlayers(args []string) {
	fs := flag.NewFlagSet("players", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to configuration file")
	limit := fs.Int("recent", 20, "number of players to show")
	fs.Parse(args)

	store := openStore(*configPath)
	defer store.Close()

	players, err := store.GetPlayers(context.Background(), *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if len(players) == 0 {
		fmt.Println("No players recorded")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PLAYER\tSTEAM_ID\tFIRST_SEEN\tLAST_SEEN")
	fmt.Fprintln(w, "------\t--------\t----------\t---------")
	for _, p := range players {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.Name, p.SteamID,
			p.FirstSeen.Format("2006-01-02 15:04"), p.LastSeen.Format("2006-01-02 15:04"))
	}
	w.Flush()
}

func cmdLeaderboard(args []string) {
	fs := flag.NewFlagSet("leaderboard", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to configuration file")
	limit := fs.Int("top", 20, "number of top players to show")
	fs.Parse(args)

	store := openStore(*configPath)
	defer store.Close()

	entries, err := store.GetLeaderboard(context.Background(), *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if len(entries) == 0 {
		fmt.Println("No kills recorded")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RANK\tPLAYER\tKILLS\tDEATHS\tK/D\tPLAYTIME")
	fmt.Fprintln(w, "----\t------\t-----\t------\t---\t--------")
	for i, e := range entries {
		playtime := (time.Duration(e.PlaytimeSec) * time.Second).Round(time.Minute)
		fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%.2f\t%s\n",
			i+1, e.Player.Name, e.Kills, e.Deaths, e.KDRatio, playtime)
	}
	w.Flush()
}

// openStore loads config for the database path and opens the store
func openStore(configPath string) *storage.Store {
	dbPath := "/var/lib/scumbot/scumbot.db"
	if cfg, err := config.Load(configPath); err == nil {
		dbPath = cfg.Database.Path
	}
	store, err := storage.New(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to open database: %v\n", err)
		os.Exit(1)
	}
	return store
}
