package main

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	wsclient "github.com/omochice/toy-p2p-chat/internal/client/ws"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print events from a running session's observation bridge",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		if addr == "" {
			addr = cfg.ObserveAddr
		}
		if addr == "" {
			return fmt.Errorf("no observer address, use --addr or PEERCHAT_OBSERVE_ADDR")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		c := wsclient.New("ws://"+addr, wsclient.WithLogger(log))
		if err := c.Connect(ctx); err != nil {
			return err
		}
		defer c.Disconnect()

		for {
			select {
			case <-ctx.Done():
				return nil
			case e, ok := <-c.Events():
				if !ok {
					return nil
				}
				fmt.Println(formatEvent(e))
			}
		}
	},
}

func init() {
	watchCmd.Flags().String("addr", "", "Observation bridge address (host:port)")
}
