package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Netflix/go-env"
	"github.com/gookit/color"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
)

// Exit codes for the client application.
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

// Config defines the client-side environment variables.
type Config struct {
	ServerAddress string `env:"RELAY_ADDR,default=localhost:8080"`
	Username      string `env:"RELAY_USERNAME"`
	LogLevel      string `env:"LOG_LEVEL,default=INFO"`
}

type lineKind int

const (
	kindPrompt lineKind = iota
	kindServer
	kindOwn
	kindPeer
)

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Client error: %v\n", err)
	}
	os.Exit(code)
}

// run connects to a broadcast relay, forwards stdin lines and prints what the relay sends back.
func run() (int, error) {
	_ = godotenv.Load()
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", config.ServerAddress)
	if err != nil {
		return exitRuntime, fmt.Errorf("could not connect to relay at %s: %w", config.ServerAddress, err)
	}
	defer func() {
		log.Info("Closing connection...")
		_ = conn.Close()
	}()
	context.AfterFunc(ctx, func() { _ = conn.Close() })

	username := config.Username
	if username != "" {
		// Answer the prompt ahead of time, the relay reads it once it asked
		if _, err := io.WriteString(conn, username+"\n"); err != nil {
			return exitRuntime, fmt.Errorf("handshake: %w", err)
		}
	}

	go forwardInput(conn, os.Stdin)

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := scanner.Text()
		printLine(line, classify(line, username))
	}
	if ctx.Err() != nil {
		log.Info("Stopping client...")
		return exitOK, nil
	}
	if err := scanner.Err(); err != nil {
		return exitRuntime, fmt.Errorf("stream error: %w", err)
	}
	log.Info("Relay closed the connection")
	return exitOK, nil
}

func forwardInput(conn net.Conn, input io.Reader) {
	scanner := bufio.NewScanner(input)
	for scanner.Scan() {
		if _, err := io.WriteString(conn, scanner.Text()+"\n"); err != nil {
			return
		}
	}
	// End of input: stop sending but keep reading what is already on its way
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.CloseWrite()
	}
}

func classify(line, username string) lineKind {
	sender, _, found := strings.Cut(line, ":")
	switch {
	case !found || line == "Enter your username:":
		return kindPrompt
	case sender == "Server":
		return kindServer
	case username != "" && sender == username:
		return kindOwn
	default:
		return kindPeer
	}
}

func printLine(line string, kind lineKind) {
	switch kind {
	case kindPrompt:
		color.Bold.Println(line)
	case kindServer:
		color.Yellow.Println(line)
	case kindOwn:
		color.Green.Println(line)
	default:
		color.Cyan.Println(line)
	}
}
