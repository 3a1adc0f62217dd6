package agent

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// readDeadline ограничивает время чтения одной строки: обработчик схемы
// пишет URI и сразу закрывает соединение.
const readDeadline = 5 * time.Second

// SocketPath — путь unix-сокета агента в пользовательской runtime-директории.
func SocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "codeai-agent.sock")
	}
	return filepath.Join(os.TempDir(), "codeai-agent.sock")
}

// Listener принимает callback-URI от обработчика схемы. Одна строка на
// соединение; соединения обслуживаются по одному. Некорректные строки
// игнорируются — слушатель живёт, пока не отменён контекст.
type Listener struct {
	agent *Agent
	log   *slog.Logger
	path  string
}

// NewListener создаёт слушатель на заданном пути сокета.
func NewListener(agent *Agent, log *slog.Logger, path string) *Listener {
	if path == "" {
		path = SocketPath()
	}
	return &Listener{agent: agent, log: log, path: path}
}

// Run слушает сокет до отмены контекста. Остатки сокета от прошлого
// запуска удаляются перед биндом.
func (l *Listener) Run(ctx context.Context) error {
	const op = "agent.listener.Run"

	if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s: %w", op, err)
	}

	ln, err := net.Listen("unix", l.path)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := os.Chmod(l.path, 0o600); err != nil {
		_ = ln.Close()
		return fmt.Errorf("%s: %w", op, err)
	}

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	l.log.Info("callback_listen_start", slog.String("path", l.path))

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			l.log.Warn("callback_accept_failed", slog.String("err", err.Error()))
			continue
		}

		l.serve(conn)
	}
}

func (l *Listener) serve(conn net.Conn) {
	defer func() { _ = conn.Close() }()

	_ = conn.SetReadDeadline(time.Now().Add(readDeadline))

	line, err := bufio.NewReader(conn).ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		if err != nil {
			l.log.Warn("callback_read_failed", slog.String("err", err.Error()))
		}
		return
	}

	if err := l.agent.HandleCallbackURL(line); err != nil {
		l.log.Warn("callback_rejected", slog.String("err", err.Error()))
	}
}
