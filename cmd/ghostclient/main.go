// Ghost relay client - sends stdin lines as data packets and prints what
// the relay forwards.
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/luciancaetano/ghostrelay/internal/protocol"
)

var (
	version    = "1.0.0"
	serverAddr = flag.String("server", "localhost:45565", "Relay address (host:port)")
	playerID   = flag.String("id", "", "Player id announced in the join packet")
	gameVer    = flag.String("game-version", "dev", "Version tag announced in the join packet")
)

var (
	joinColor  = color.New(color.FgGreen, color.Bold)
	leaveColor = color.New(color.FgRed)
	dataColor  = color.New(color.FgCyan)
	infoColor  = color.New(color.FgWhite)
)

func main() {
	flag.Parse()

	id := *playerID
	if id == "" {
		id = fmt.Sprintf("ghost-%d", time.Now().Unix()%10000)
	}

	client, err := Dial(*serverAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ghostclient: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	if err := client.Join(id, *gameVer); err != nil {
		fmt.Fprintf(os.Stderr, "ghostclient: join: %v\n", err)
		os.Exit(1)
	}
	infoColor.Printf("connected to %s as %s (v%s)\n", *serverAddr, id, version)

	setupGracefulShutdown(client)

	go func() {
		if err := sendLines(client, os.Stdin); err != nil {
			fmt.Fprintf(os.Stderr, "ghostclient: %v\n", err)
		}
		client.Leave()
	}()

	for {
		msg, err := client.Receive()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				infoColor.Println("disconnected")
				return
			}
			fmt.Fprintf(os.Stderr, "ghostclient: %v\n", err)
			os.Exit(1)
		}
		printMessage(os.Stdout, msg)
	}
}

// sendLines relays every non-empty line of r as a data packet.
func sendLines(c *Client, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := c.Send([]byte(line)); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func printMessage(w io.Writer, msg Message) {
	env := msg.Envelope
	timestamp := time.Now().Format("15:04:05")
	switch msg.Kind {
	case protocol.KindJoin:
		info, _ := protocol.Packet{Key: protocol.KeyJoin, Payload: env.Content}.Join()
		joinColor.Fprintf(w, "[%s] %s joined as %q version %q (%d players)\n",
			timestamp, env.SenderID, info.ID, info.Version, env.Players)
	case protocol.KindLeave:
		leaveColor.Fprintf(w, "[%s] %s left (%d players)\n", timestamp, env.SenderID, env.Players)
	default:
		dataColor.Fprintf(w, "[%s] %s: %s\n", timestamp, env.SenderID, env.Content)
	}
}

// setupGracefulShutdown sends a leave on interrupt so the relay drops the
// player right away.
func setupGracefulShutdown(c *Client) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sig
		c.Leave()
		c.Close()
	}()
}
