package main

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/omochice/toy-p2p-chat/internal/peer"
)

func TestBuildRegistry(t *testing.T) {
	tests := []struct {
		name         string
		peerFlag     string
		peersFlag    []string
		wantSelected string
		wantPeers    int
		wantErr      bool
	}{
		{name: "nothing", wantPeers: 0},
		{name: "single address", peerFlag: "192.168.49.1", wantSelected: "192.168.49.1", wantPeers: 1},
		{name: "single listed peer is selected", peersFlag: []string{"phone=192.168.49.1"}, wantSelected: "phone", wantPeers: 1},
		{name: "several listed peers, none selected", peersFlag: []string{"a=10.0.0.1", "b=10.0.0.2"}, wantPeers: 2},
		{name: "peer picks a listed ID", peerFlag: "b", peersFlag: []string{"a=10.0.0.1", "b=10.0.0.2"}, wantSelected: "b", wantPeers: 2},
		{name: "peer adds an address", peerFlag: "10.0.0.3:9000", peersFlag: []string{"a=10.0.0.1"}, wantSelected: "10.0.0.3:9000", wantPeers: 2},
		{name: "invalid peer spec", peersFlag: []string{"=10.0.0.1"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry, err := buildRegistry(tt.peerFlag, tt.peersFlag)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.wantSelected, registry.SelectedID())
			require.Len(t, registry.Peers(), tt.wantPeers)
		})
	}
}

func TestRunCommand(t *testing.T) {
	req := require.New(t)
	registry := peer.NewRegistry()
	registry.Update([]peer.Peer{
		{ID: "a", Host: "10.0.0.1", Port: 8888},
		{ID: "b", Host: "10.0.0.2", Port: 8888},
	})

	var out bytes.Buffer
	req.False(runCommand(registry, "hello there", &out))
	req.Empty(out.String())

	req.True(runCommand(registry, "/select b", &out))
	req.Equal("b", registry.SelectedID())
	req.Equal("Sending to b\n", out.String())

	out.Reset()
	req.True(runCommand(registry, "/peers", &out))
	req.Equal("  a 10.0.0.1:8888\n* b 10.0.0.2:8888\n", out.String())

	out.Reset()
	req.True(runCommand(registry, "/select zz", &out))
	req.Equal("b", registry.SelectedID())
	req.Contains(out.String(), "peer not found")

	out.Reset()
	req.True(runCommand(registry, "/select", &out))
	req.Contains(out.String(), "usage")

	out.Reset()
	req.True(runCommand(registry, "/nope", &out))
	req.Contains(out.String(), "unknown command")
}

func TestInputLoop(t *testing.T) {
	errLost := errors.New("accept loop terminated")

	t.Run("returns when the session ends", func(t *testing.T) {
		ended := make(chan error, 1)
		lines := make(chan string)
		ended <- errLost

		done := make(chan error, 1)
		go func() {
			done <- inputLoop(context.Background(), ended, lines, func(string) {})
		}()

		select {
		case err := <-done:
			require.ErrorIs(t, err, errLost)
		case <-time.After(time.Second):
			t.Fatal("input loop kept running after the session ended")
		}
	})

	t.Run("keeps waiting after input is exhausted", func(t *testing.T) {
		ended := make(chan error, 1)
		lines := make(chan string, 3)
		lines <- "hello"
		lines <- "   "
		lines <- "world"
		close(lines)

		var handled []string
		done := make(chan error, 1)
		go func() {
			done <- inputLoop(context.Background(), ended, lines, func(line string) {
				handled = append(handled, line)
			})
		}()

		select {
		case <-done:
			t.Fatal("input loop returned on end of input")
		case <-time.After(50 * time.Millisecond):
		}

		ended <- nil
		require.NoError(t, <-done)
		require.Equal(t, []string{"hello", "world"}, handled)
	})

	t.Run("quit and cancel", func(t *testing.T) {
		lines := make(chan string, 2)
		lines <- "quit"
		lines <- "never handled"
		require.NoError(t, inputLoop(context.Background(), nil, lines, func(string) {
			t.Error("line after quit was handled")
		}))

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		require.NoError(t, inputLoop(ctx, nil, make(chan string), func(string) {}))
	})
}
