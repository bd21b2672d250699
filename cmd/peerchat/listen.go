package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/omochice/toy-p2p-chat/internal/logging"
	"github.com/omochice/toy-p2p-chat/internal/peer"
	"github.com/omochice/toy-p2p-chat/internal/session"
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Receive messages and send stdin lines to the selected peer",
	Long: `Receive messages and send stdin lines to the selected peer.

Peers are given with --peers id=host[:port],... or a single --peer. Lines
starting with a slash are commands:

  /peers        list known peers, the selected one marked with *
  /select <id>  send subsequent lines to peer <id>`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("port") {
			cfg.Port, _ = cmd.Flags().GetInt("port")
		}
		if cmd.Flags().Changed("host") {
			cfg.ListenHost, _ = cmd.Flags().GetString("host")
		}
		if cmd.Flags().Changed("observe") {
			cfg.ObserveAddr, _ = cmd.Flags().GetString("observe")
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		peerFlag, _ := cmd.Flags().GetString("peer")
		peersFlag, _ := cmd.Flags().GetStringSlice("peers")

		registry, err := buildRegistry(peerFlag, peersFlag)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		s := session.New(session.OptionsFromConfig(cfg), registry, log)
		if err := s.Start(ctx); err != nil {
			return err
		}
		defer s.Stop()

		cliLog := logging.For(log, logging.ComponentCLI)
		fmt.Printf("Listening on %s\n", s.ListenAddr())
		if addr := s.ObserveAddr(); addr != "" {
			fmt.Printf("Observers: ws://%s\n", addr)
		}
		if id := registry.SelectedID(); id != "" {
			fmt.Printf("Sending to %s. Type a message (or 'quit' to exit):\n", id)
		}

		received, cancel := s.Received().Subscribe()
		defer cancel()
		go func() {
			for msg := range received {
				fmt.Println(formatMessage(msg))
			}
		}()

		outcomes, cancelOutcomes := s.Outcomes().Subscribe()
		defer cancelOutcomes()
		go func() {
			for o := range outcomes {
				if !o.OK() {
					fmt.Printf("! send to %s failed: %v\n", o.PeerID, o.Err)
				}
			}
		}()

		// The session ends on its own if the listening socket is lost.
		ended := make(chan error, 1)
		go func() { ended <- s.Wait() }()

		lines := make(chan string)
		go func() {
			defer close(lines)
			scanner := bufio.NewScanner(os.Stdin)
			for scanner.Scan() {
				lines <- scanner.Text()
			}
			if err := scanner.Err(); err != nil {
				cliLog.Warn("error reading input", zap.Error(err))
			}
		}()

		var sends sync.WaitGroup
		defer sends.Wait()

		err = inputLoop(ctx, ended, lines, func(line string) {
			if runCommand(registry, strings.TrimSpace(line), os.Stdout) {
				return
			}
			sends.Add(1)
			go func() {
				defer sends.Done()
				// Failures are reported through the outcome store.
				_ = s.Send(context.WithoutCancel(ctx), "", line)
			}()
		})
		if err != nil {
			cliLog.Error("session ended", zap.Error(err))
		}
		return err
	},
}

// inputLoop feeds non-blank lines to handle until ctx is done, the session
// ends, or the user types quit. It returns the session's error, if any. When
// input is exhausted it keeps waiting so messages are still received.
func inputLoop(ctx context.Context, ended <-chan error, lines <-chan string, handle func(line string)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-ended:
			return err
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}
			if text == "quit" || text == "exit" {
				return nil
			}
			handle(line)
		}
	}
}

// buildRegistry registers the peers from --peers and --peer. --peer selects
// a peer by ID, or adds an address and selects it; a single peer is selected
// by default.
func buildRegistry(peerFlag string, peersFlag []string) (*peer.Registry, error) {
	peers := make([]peer.Peer, 0, len(peersFlag)+1)
	for _, spec := range peersFlag {
		p, err := peer.ParsePeer(spec)
		if err != nil {
			return nil, err
		}
		peers = append(peers, p)
	}

	selected := ""
	if peerFlag != "" {
		known := lo.ContainsBy(peers, func(p peer.Peer) bool { return p.ID == peerFlag })
		if known {
			selected = peerFlag
		} else {
			p, err := peer.ParsePeer(peerFlag)
			if err != nil {
				return nil, err
			}
			peers = append(peers, p)
			selected = p.ID
		}
	} else if len(peers) == 1 {
		selected = peers[0].ID
	}

	registry := peer.NewRegistry()
	registry.Update(peers)
	if selected != "" {
		if err := registry.Select(selected); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// runCommand handles slash commands and reports whether line was one.
func runCommand(registry *peer.Registry, line string, out io.Writer) bool {
	if !strings.HasPrefix(line, "/") {
		return false
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/peers":
		selected := registry.SelectedID()
		for _, p := range registry.Peers() {
			mark := " "
			if p.ID == selected {
				mark = "*"
			}
			fmt.Fprintf(out, "%s %s %s:%d\n", mark, p.ID, p.Host, p.Port)
		}
	case "/select":
		if len(fields) != 2 {
			fmt.Fprintln(out, "usage: /select <id>")
			return true
		}
		if err := registry.Select(fields[1]); err != nil {
			fmt.Fprintf(out, "! %v\n", err)
			return true
		}
		fmt.Fprintf(out, "Sending to %s\n", fields[1])
	default:
		fmt.Fprintf(out, "! unknown command %s\n", fields[0])
	}
	return true
}

func init() {
	listenCmd.Flags().String("peer", "", "Peer to send to: an ID from --peers or host[:port]")
	listenCmd.Flags().StringSlice("peers", nil, "Known peers as id=host[:port], comma separated")
	listenCmd.Flags().String("observe", "", "Address for the WebSocket observation bridge")
	listenCmd.Flags().Int("port", 8888, "Port to listen on")
	listenCmd.Flags().String("host", "0.0.0.0", "Interface to listen on")
}
