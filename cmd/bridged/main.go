// Command bridged runs the bridge daemon (spec §1): the long-lived process
// that mirrors one IDE workspace's agent conversations into a chat-service
// guild/channel/thread hierarchy. Subcommand dispatch follows
// 88lin-divinesense's cmd/divinesense/main.go cobra structure, replacing the
// teacher's manual os.Args[1] switch in cmd/ricochet/main.go with a richer
// serve/install/doctor surface.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ricochet-labs/cursor-discord-bridge/internal/actuator"
	"github.com/ricochet-labs/cursor-discord-bridge/internal/config"
	"github.com/ricochet-labs/cursor-discord-bridge/internal/convstore"
	"github.com/ricochet-labs/cursor-discord-bridge/internal/gateway"
	"github.com/ricochet-labs/cursor-discord-bridge/internal/interaction"
	"github.com/ricochet-labs/cursor-discord-bridge/internal/mcpinstall"
	"github.com/ricochet-labs/cursor-discord-bridge/internal/namesync"
	"github.com/ricochet-labs/cursor-discord-bridge/internal/paths"
	"github.com/ricochet-labs/cursor-discord-bridge/internal/registry"
	"github.com/ricochet-labs/cursor-discord-bridge/internal/rpc"
	"github.com/ricochet-labs/cursor-discord-bridge/internal/watcher"
)

const ideAppName = "Cursor"

var (
	flagWorkspace     string
	flagConfigFile    string
	flagOpenConvCmd   string
	flagFocusCmd      string
	flagAdapterPath   string
	flagMCPConfigPath string
)

func main() {
	root := &cobra.Command{
		Use:   "bridged",
		Short: "Bridges one IDE workspace's agent conversations into a chat-service channel.",
	}
	root.PersistentFlags().StringVar(&flagWorkspace, "workspace", mustGetwd(), "workspace root to bridge")
	root.PersistentFlags().StringVar(&flagConfigFile, "config", "", "optional path to config.yaml")

	root.AddCommand(serveCmd(), installCmd(), doctorCmd())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go waitForSignal(cancel)

	if err := root.ExecuteContext(ctx); err != nil {
		log.Fatal(err)
	}
}

func mustGetwd() string {
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}

// actuatorAdapter satisfies internal/gateway.Actuator by pinning the
// workspace root that internal/actuator.Actuator needs on every call but the
// gateway never tracks itself.
type actuatorAdapter struct {
	act           *actuator.Actuator
	workspaceRoot string
}

func (a actuatorAdapter) Inject(ctx context.Context, conversationID, text, threadID string) error {
	if a.act == nil {
		return fmt.Errorf("actuator unavailable on this platform")
	}
	return a.act.Deliver(ctx, a.workspaceRoot, conversationID, text, threadID)
}

// messageActuator adapts *actuator.Actuator (or its absence) to rpc.Actuator.
type messageActuator struct {
	act *actuator.Actuator
}

func (m messageActuator) Deliver(ctx context.Context, workspaceRoot, conversationID, text, threadID string) error {
	if m.act == nil {
		return fmt.Errorf("actuator unavailable on this platform")
	}
	return m.act.Deliver(ctx, workspaceRoot, conversationID, text, threadID)
}

// noopActuator satisfies internal/gateway.Actuator for `doctor`, which never
// intends to deliver an inbound message, only to probe connectivity.
type noopActuator struct{}

func (noopActuator) Inject(ctx context.Context, conversationID, text, threadID string) error {
	return fmt.Errorf("doctor mode: actuator not wired")
}

// resolverBox forwards to a *interaction.Manager set after construction,
// breaking the gateway<->interaction construction cycle (the gateway needs a
// QuestionResolver before the Manager can be built, since the Manager's
// Poster is the gateway itself).
type resolverBox struct {
	mgr *interaction.Manager
}

func (b *resolverBox) ResolveText(threadID, text string) bool {
	if b.mgr == nil {
		return false
	}
	return b.mgr.ResolveText(threadID, text)
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge daemon until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&flagOpenConvCmd, "open-conversation-command", "cursor.openAiConversation", "IDE command that opens a conversation by id")
	cmd.Flags().StringVar(&flagFocusCmd, "focus-chat-command", "cursor.focusAiChat", "IDE command that focuses the agent chat pane")
	return cmd
}

func runServe(ctx context.Context) error {
	host, err := config.Load(flagConfigFile)
	if err != nil {
		return err
	}

	stateDir := paths.StateDir(flagWorkspace)
	if err := paths.EnsureDir(stateDir); err != nil {
		return err
	}

	projectPath := filepath.Join(stateDir, "project.json")
	project, err := config.LoadProjectConfig(projectPath)
	if err != nil {
		return err
	}
	if project.ChannelID == "" {
		return fmt.Errorf("no channel selected for this workspace yet: %s has no channelId; run `bridged doctor` to inspect", projectPath)
	}

	store, err := locateConversationStore(flagWorkspace)
	if err != nil {
		return err
	}

	reg, err := registry.Open(filepath.Join(stateDir, "registry.json"))
	if err != nil {
		return err
	}

	act, err := actuator.New(flagOpenConvCmd, flagFocusCmd)
	if err != nil {
		log.Printf("serve: actuator unavailable on this platform, /message will fail: %v", err)
	}

	// gateway.New needs a QuestionResolver at construction, but
	// interaction.New needs the gateway itself as its Poster. resolverBox
	// breaks the cycle: the gateway only calls ResolveText once a message
	// arrives, by which point box.mgr has been filled in below.
	box := &resolverBox{}
	gw, err := gateway.New(host.BotToken, host.GuildID, host.GlobalConfig, reg, actuatorAdapter{act: act, workspaceRoot: flagWorkspace}, box)
	if err != nil {
		return err
	}
	questionMgr := interaction.New(gw)
	box.mgr = questionMgr
	gw.RegisterInteractionHandler(questionMgr.HandleInteraction)
	gw.SelectChannel(project.ChannelID)

	if err := gw.Connect(ctx); err != nil {
		return err
	}
	defer gw.Close()

	w := watcher.New(store, gw, reg, flagWorkspace, host.GlobalConfig)
	w.Seed()

	nameWatcher, err := namesync.New(store, gw, reg, store.Path())
	if err != nil {
		return err
	}
	nameWatcher.Seed(gw)

	pendingResolver := rpc.NewPendingResolver(store, gw, reg, flagWorkspace)
	rpcServer := rpc.New(gw, reg, pendingResolver, questionMgr, messageActuator{act: act}, flagWorkspace, project.ChannelName, project.ChannelID)
	port, err := rpcServer.Listen()
	if err != nil {
		return err
	}
	log.Printf("bridged: rpc listening on 127.0.0.1:%d for workspace %s", port, flagWorkspace)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		w.Run(egCtx)
		return nil
	})
	eg.Go(func() error {
		return nameWatcher.Start(egCtx)
	})
	eg.Go(func() error {
		return rpcServer.Serve(egCtx)
	})

	return eg.Wait()
}

func locateConversationStore(workspaceRoot string) (*convstore.Store, error) {
	base := paths.IDEStorageBase(ideAppName)
	return convstore.Locate(base, workspaceRoot)
}

func installCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Write the MCP adapter config so the IDE discovers the bundled tool-protocol adapter.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInstall()
		},
	}
	cmd.Flags().StringVar(&flagAdapterPath, "adapter-path", "", "path to the bundled MCP adapter binary (required)")
	cmd.Flags().StringVar(&flagMCPConfigPath, "mcp-config", "", "override the default mcp.json path")
	return cmd
}

func runInstall() error {
	if flagAdapterPath == "" {
		return fmt.Errorf("--adapter-path is required")
	}

	configPath := flagMCPConfigPath
	if configPath == "" {
		var err error
		configPath, err = mcpinstall.DefaultConfigPath()
		if err != nil {
			return err
		}
	}

	wrote, err := mcpinstall.Ensure(configPath, flagAdapterPath)
	if err != nil {
		return err
	}
	if wrote {
		fmt.Printf("Wrote %s: %s now points at %s\n", configPath, mcpinstall.ServerName, flagAdapterPath)
		fmt.Println("Restart your IDE to pick up the change.")
	} else {
		fmt.Printf("%s already points at %s; nothing to do.\n", configPath, flagAdapterPath)
	}
	return nil
}

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Print config resolution and chat-service health without starting any watcher.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor()
		},
	}
}

func runDoctor() error {
	host, err := config.Load(flagConfigFile)
	if err != nil {
		fmt.Printf("config: FAILED (%v)\n", err)
	} else {
		fmt.Printf("config: guildId=%q notify=%s pingMode=%s\n", host.GuildID, host.ThreadCreationNotify, host.MessagePingMode)
	}

	stateDir := paths.StateDir(flagWorkspace)
	fmt.Printf("state dir: %s\n", stateDir)

	projectPath := filepath.Join(stateDir, "project.json")
	project, err := config.LoadProjectConfig(projectPath)
	if err != nil {
		fmt.Printf("project config: FAILED (%v)\n", err)
	} else if project.ChannelID == "" {
		fmt.Println("project config: no channel selected yet")
	} else {
		fmt.Printf("project config: channel %s (%s)\n", project.ChannelName, project.ChannelID)
	}

	store, err := locateConversationStore(flagWorkspace)
	if err != nil {
		fmt.Printf("conversation store: FAILED (%v)\n", err)
		return nil
	}
	ids, err := store.GetAllIds()
	if err != nil {
		fmt.Printf("conversation store: FAILED (%v)\n", err)
		return nil
	}
	fmt.Printf("conversation store: %d conversation(s) at %s\n", len(ids), store.Path())

	if host == nil || host.BotToken == "" {
		return nil
	}
	reg, err := registry.Open(filepath.Join(stateDir, "registry.json"))
	if err != nil {
		fmt.Printf("registry: FAILED (%v)\n", err)
		return nil
	}
	gw, err := gateway.New(host.BotToken, host.GuildID, host.GlobalConfig, reg, noopActuator{}, nil)
	if err != nil {
		fmt.Printf("gateway: FAILED (%v)\n", err)
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := gw.Connect(ctx); err != nil {
		fmt.Printf("gateway connect: FAILED (%v)\n", err)
		return nil
	}
	defer gw.Close()

	if host.GuildID != "" {
		report, err := gw.CheckPermissions(host.GuildID)
		if err != nil {
			fmt.Printf("permissions: FAILED (%v)\n", err)
		} else if report.OK {
			fmt.Println("permissions: ok")
		} else {
			fmt.Printf("permissions: missing %v\n", report.Missing)
		}
	}
	return nil
}

func waitForSignal(cancel context.CancelFunc) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Println("bridged: shutting down")
	cancel()
}
