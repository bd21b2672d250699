package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/omochice/toy-p2p-chat/internal/client/tcp"
	"github.com/omochice/toy-p2p-chat/internal/peer"
)

var sendCmd = &cobra.Command{
	Use:   "send <message...>",
	Short: "Send one message to a peer",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		to, _ := cmd.Flags().GetString("to")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		endpoint, err := peer.AddrResolver{DefaultPort: cfg.Port}.Resolve(ctx, to)
		if err != nil {
			return err
		}

		client := tcp.New(
			tcp.WithConnectTimeout(cfg.ConnectTimeout),
			tcp.WithWriteTimeout(cfg.WriteTimeout),
			tcp.WithLogger(log),
		)
		if err := client.Send(ctx, endpoint, strings.Join(args, " ")); err != nil {
			return err
		}
		fmt.Printf("Sent to %s\n", endpoint)
		return nil
	},
}

func init() {
	sendCmd.Flags().String("to", "", "Peer address (host[:port])")
	_ = sendCmd.MarkFlagRequired("to")
}
