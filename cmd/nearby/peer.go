package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/1ureka/nearby/internal/config"
	"github.com/1ureka/nearby/internal/nearby"
	"github.com/1ureka/nearby/internal/transport"
	"github.com/1ureka/nearby/internal/util"
)

var (
	peerHub       string
	peerAdvertise bool
	peerDiscover  bool
	peerSend      string
)

var peerCmd = &cobra.Command{
	Use:   "peer",
	Short: "joins the hub as a peer",
	Long: `joins the hub and drives a node interactively. With --advertise, --discover
or --send it runs non-interactively until interrupted`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if peerHub != "" {
			hubURL, err := normalizeWSURL(peerHub)
			if err != nil {
				return err
			}
			cfg.Hub.URL = hubURL
		}
		return runPeer(cmd.Context(), cfg)
	},
}

func init() {
	peerCmd.Flags().StringVar(&peerHub, "hub", "", "hub URL (overrides hub.url)")
	peerCmd.Flags().BoolVar(&peerAdvertise, "advertise", false, "start advertising immediately")
	peerCmd.Flags().BoolVar(&peerDiscover, "discover", false, "start discovery immediately")
	peerCmd.Flags().StringVar(&peerSend, "send", "", "text to send once connected")
}

// ---------------------------------------------------------------------------
// Run modes
// ---------------------------------------------------------------------------

func runPeer(ctx context.Context, cfg config.Config) error {
	strategy, err := nearby.ParseStrategy(cfg.Strategy)
	if err != nil {
		return err
	}

	tr, err := transport.Dial(ctx, cfg.Hub.URL, transport.Options{
		Link:    transport.LinkKind(cfg.Link),
		STUN:    cfg.STUN,
		Timeout: cfg.Timeout,
	})
	if err != nil {
		return err
	}
	defer tr.Close()

	identity := nearby.NewLocalIdentity()
	if cfg.Nickname != "" {
		identity = nearby.LocalIdentity{Nickname: cfg.Nickname}
	}

	node := nearby.NewNode(tr, nearby.Options{
		ServiceID: cfg.ServiceID,
		Strategy:  strategy,
		Identity:  identity,
		Accept:    cfg.AcceptPolicy(),
		Retry:     cfg.RetryPolicy(),
	})

	pterm.Info.Printfln("nearby v%s", version)
	util.LogSuccess("joined %s as %s (%s)", cfg.Hub.URL, tr.ID(), identity.Nickname)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	runDone := make(chan error, 1)
	go func() { runDone <- node.Run(runCtx) }()

	util.StartStatsReporter(runCtx)

	if peerAdvertise || peerDiscover || peerSend != "" {
		runScripted(runCtx, node, tr)
	} else {
		runInteractive(runCtx, node, tr)
	}

	node.Shutdown()
	cancel()
	if err := <-runDone; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	util.LogInfo("left the hub")
	return nil
}

// runScripted applies the command-line actions and then waits for Ctrl+C or
// the hub to go away.
func runScripted(ctx context.Context, node *nearby.Node, tr *transport.Transport) {
	if peerAdvertise {
		_ = node.StartAdvertising(ctx)
	}
	if peerDiscover {
		_ = node.StartDiscovery(ctx)
	}

	if peerSend != "" {
		if endpointID, ok := waitForConnection(ctx, node, tr); ok {
			if err := node.SendText(ctx, peerSend); err == nil {
				util.LogSuccess("sent %q to %s", peerSend, endpointID)
			}
		}
	}

	select {
	case <-ctx.Done():
	case <-tr.Done():
	}
}

// runInteractive loops over the presentation commands until Quit.
func runInteractive(ctx context.Context, node *nearby.Node, tr *transport.Transport) {
	const (
		optAdvertise     = "Start advertising"
		optStopAdvertise = "Stop advertising"
		optDiscover      = "Start discovery"
		optStopDiscover  = "Stop discovery"
		optSend          = "Send message"
		optDisconnect    = "Disconnect"
		optStatus        = "Status"
		optQuit          = "Quit"
	)
	options := []string{optAdvertise, optStopAdvertise, optDiscover, optStopDiscover, optSend, optDisconnect, optStatus, optQuit}

	for {
		select {
		case <-ctx.Done():
			return
		case <-tr.Done():
			util.LogWarning("hub connection lost")
			return
		default:
		}

		choice, err := pterm.DefaultInteractiveSelect.
			WithOptions(options).
			WithDefaultText("Select a command").
			Show()
		if err != nil {
			return
		}

		// Commands report their own failures through the notifier.
		switch choice {
		case optAdvertise:
			_ = node.StartAdvertising(ctx)
		case optStopAdvertise:
			node.StopAdvertising()
		case optDiscover:
			_ = node.StartDiscovery(ctx)
		case optStopDiscover:
			node.StopDiscovery()
		case optSend:
			text, _ := pterm.DefaultInteractiveTextInput.
				WithDefaultText("Message").
				Show()
			if text = strings.TrimSpace(text); text != "" {
				_ = node.SendText(ctx, text)
			}
		case optDisconnect:
			node.Disconnect()
		case optStatus:
			printStatus(node, tr)
		case optQuit:
			return
		}
		pterm.Println()
	}
}

// ---------------------------------------------------------------------------
// Helper Functions
// ---------------------------------------------------------------------------

// waitForConnection polls until the node has an active connection.
func waitForConnection(ctx context.Context, node *nearby.Node, tr *transport.Transport) (string, bool) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if id := node.Manager().Active(); id != "" {
			return id, true
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return "", false
		case <-tr.Done():
			return "", false
		}
	}
}

// printStatus renders the node's endpoints and connections as tables.
func printStatus(node *nearby.Node, tr *transport.Transport) {
	pterm.DefaultSection.Println("Status")
	pterm.Printfln("endpoint ID: %s    nickname: %s", tr.ID(), node.Identity().Nickname)
	pterm.Printfln("advertising: %t    discovering: %t    active: %q",
		node.Advertiser().Advertising(), node.Discoverer().Discovering(), node.Manager().Active())

	endpoints := pterm.TableData{{"Endpoint", "Name", "Service"}}
	for _, ep := range node.Discoverer().Endpoints() {
		endpoints = append(endpoints, []string{ep.ID, ep.Name, ep.ServiceID})
	}
	_ = pterm.DefaultTable.WithHasHeader().WithData(endpoints).Render()

	conns := pterm.TableData{{"Endpoint", "State", "Direction", "Token"}}
	for _, c := range node.Manager().Connections() {
		dir := "outgoing"
		if c.Incoming {
			dir = "incoming"
		}
		conns = append(conns, []string{c.Endpoint.ID, c.State.String(), dir, c.Token})
	}
	_ = pterm.DefaultTable.WithHasHeader().WithData(conns).Render()
}

// normalizeWSURL validates a hub address and fills in the scheme and path.
func normalizeWSURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "ws://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid hub URL: %s", raw)
	}
	scheme := "wss"
	if u.Scheme == "ws" || u.Scheme == "wss" {
		scheme = u.Scheme
	}
	return fmt.Sprintf("%s://%s/ws", scheme, u.Host), nil
}
