// codeai-handler — обработчик URI-схемы codeai://, регистрируемый в ОС.
// Браузер вызывает его с callback-URI первым аргументом; обработчик
// пересылает URI строкой в сокет работающего агента и завершается.
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/pribylovaa/go-codeai/internal/agent"
)

func main() {
	socketPath := flag.String("socket", "", "agent socket path (default: runtime dir)")
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: codeai-handler [-socket path] <callback-uri>")
		os.Exit(2)
	}

	path := *socketPath
	if path == "" {
		path = agent.SocketPath()
	}

	conn, err := net.DialTimeout("unix", path, 3*time.Second)
	if err != nil {
		fmt.Fprintf(os.Stderr, "agent is not running: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = conn.Close() }()

	_ = conn.SetWriteDeadline(time.Now().Add(3 * time.Second))
	if _, err := fmt.Fprintln(conn, flag.Arg(0)); err != nil {
		fmt.Fprintf(os.Stderr, "failed to deliver callback: %v\n", err)
		os.Exit(1)
	}
}
