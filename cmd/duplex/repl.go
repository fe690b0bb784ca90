package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/pion/webrtc/v4"

	"github.com/okutko/duplex/internal/app"
	"github.com/okutko/duplex/internal/domain"
)

// runREPL reads commands from stdin until quit, EOF or ctx cancel.
func runREPL(ctx context.Context, ctrl *app.Controller) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	fmt.Print("> ")
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if quit := dispatch(ctx, ctrl, line); quit {
				return
			}
			fmt.Print("> ")
		}
	}
}

func dispatch(ctx context.Context, ctrl *app.Controller, line string) (quit bool) {
	fields := strings.Fields(strings.TrimSpace(line))
	if len(fields) == 0 {
		return false
	}

	var err error
	switch fields[0] {
	case "call":
		if len(fields) != 2 {
			fmt.Println("usage: call <peer-id>")
			return false
		}
		err = ctrl.Start(ctx, domain.PeerID(fields[1]))
	case "answer":
		err = ctrl.Answer(ctx)
	case "reject":
		err = ctrl.Reject()
	case "hangup":
		err = ctrl.End()
	case "mute", "unmute":
		kind, ok := parseKind(fields)
		if !ok {
			fmt.Printf("usage: %s audio|video\n", fields[0])
			return false
		}
		ctrl.SetMuted(kind, fields[0] == "mute")
	case "status":
		st := ctrl.Status()
		if peer := ctrl.RemotePeer(); peer != "" {
			fmt.Printf("%s (peer %s)\n", st, peer)
		} else {
			fmt.Println(st)
		}
	case "quit", "exit":
		return true
	default:
		fmt.Printf("unknown command %q\n", fields[0])
	}

	if err != nil {
		fmt.Println("error:", err)
	}
	return false
}

func parseKind(fields []string) (webrtc.RTPCodecType, bool) {
	if len(fields) != 2 {
		return 0, false
	}
	switch fields[1] {
	case "audio":
		return webrtc.RTPCodecTypeAudio, true
	case "video":
		return webrtc.RTPCodecTypeVideo, true
	}
	return 0, false
}
