// codeai-agent — локальный агент аутентификации десктопного клиента.
//
// Режимы:
//
//	codeai-agent run     — демон: слушает callback-сокет и упреждающе
//	                       обновляет токены (режим по умолчанию);
//	codeai-agent signin  — открывает браузер на странице входа;
//	codeai-agent logout  — отзывает refresh-токен и стирает сессию;
//	codeai-agent status  — печатает состояние входа.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/pribylovaa/go-codeai/internal/agent"
)

func main() {
	var (
		serverURL  = flag.String("server", "http://localhost:51155", "base URL of the API server")
		provider   = flag.String("provider", "github", "OAuth provider name")
		socketPath = flag.String("socket", "", "callback socket path (default: runtime dir)")
	)
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(log)

	store, err := agent.NewCredStore()
	if err != nil {
		log.Error("credstore_init_failed", slog.String("err", err.Error()))
		os.Exit(1)
	}

	a := agent.New(agent.Config{
		ServerURL: *serverURL,
		Provider:  *provider,
	}, store, log, nil)

	cmd := "run"
	if flag.NArg() > 0 {
		cmd = flag.Arg(0)
	}

	switch cmd {
	case "run":
		runDaemon(a, log, *socketPath)

	case "signin":
		if err := a.SignIn(); err != nil {
			log.Error("signin_failed", slog.String("err", err.Error()))
			os.Exit(1)
		}
		fmt.Println("browser opened, complete the sign-in there")

	case "logout":
		a.Logout(context.Background())
		fmt.Println("signed out")

	case "status":
		if a.SignedIn() {
			fmt.Println("signed in")
			return
		}
		fmt.Println("signed out")

	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		os.Exit(2)
	}
}

func runDaemon(a *agent.Agent, log *slog.Logger, socketPath string) {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a.StartAutoRefresh(ctx)

	if err := agent.NewListener(a, log, socketPath).Run(ctx); err != nil {
		log.Error("listener_failed", slog.String("err", err.Error()))
		os.Exit(1)
	}

	log.Info("agent_stopped")
}
