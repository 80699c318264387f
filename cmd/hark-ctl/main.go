package main

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	cli "github.com/spf13/pflag"

	"hark/internal/ipc"
)

func main() {
	socket := cli.StringP("socket", "s", ipc.SocketPath, "Control socket path")
	timeout := cli.DurationP("timeout", "t", 5*time.Second, "Reply timeout")
	cli.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: hark-ctl [flags] <%s> [text]\n", strings.Join(ipc.Commands, "|"))
		cli.PrintDefaults()
	}
	cli.Parse()

	args := cli.Args()
	if len(args) == 0 {
		args = []string{ipc.CmdTrigger}
	}
	if !slices.Contains(ipc.Commands, args[0]) {
		cli.Usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	reply, err := ipc.SendCommand(ctx, *socket, ipc.ControlMessage{
		Cmd:  args[0],
		Text: strings.Join(args[1:], " "),
	})
	if err != nil {
		fmt.Println("hark-daemon not running:", err)
		os.Exit(1)
	}

	if !reply.OK {
		fmt.Println("error:", reply.Error)
		os.Exit(1)
	}
	fmt.Println(reply.State)
}
