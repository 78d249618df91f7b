package main

import (
	"encoding/json"
	"fmt"
	"os"

	cli "github.com/spf13/pflag"

	"sakhivox/internal/ipc"
)

func main() {
	socket := cli.StringP("socket", "s", ipc.SocketPath, "Control socket path")
	cli.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: vox-ctl [--socket path] [start|stop|toggle|confirm|cancel|status]")
		cli.PrintDefaults()
	}
	cli.Parse()

	cmd := "toggle"
	if cli.NArg() > 0 {
		cmd = cli.Arg(0)
	}

	reply, err := ipc.SendCommand(*socket, cmd)
	if err != nil {
		fmt.Fprintln(os.Stderr, "vox-daemon not running:", err)
		os.Exit(1)
	}

	if reply.State != nil {
		b, _ := json.MarshalIndent(reply.State, "", "  ")
		fmt.Println(string(b))
	}
	if !reply.OK {
		fmt.Fprintln(os.Stderr, "error:", reply.Error)
		os.Exit(1)
	}
}
