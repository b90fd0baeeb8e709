package runtime

import (
	"bufio"
	"context"
	goerrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"relay-lab/contract"
	"relay-lab/domain"
	"relay-lab/errors"
)

const usernamePrompt = "Enter your username:"

// SessionSettings tunes every broadcast session of a server.
type SessionSettings struct {
	ChannelCapacity  int
	MaxLineLength    int           // bytes, delimiter excluded
	HandshakeTimeout time.Duration // 0 waits forever
	HistorySize      int           // messages replayed on join, 0 disables
}

// Session relays one broadcast connection.
// It goes through handshake, joined, active and leaving, strictly in that order.
type Session struct {
	log        *slog.Logger
	conn       net.Conn
	identity   domain.Identity
	registry   *Registry
	settings   SessionSettings
	repository contract.IMessageRepository
	censor     contract.Censor
	writer     sync.WaitGroup
}

// NewSession binds a connection to the shared registry.
// repository and censor are optional.
func NewSession(log *slog.Logger, conn net.Conn, registry *Registry, settings SessionSettings,
	repository contract.IMessageRepository, censor contract.Censor) *Session {
	identity := domain.IdentityOf(conn)
	return &Session{
		log:        log.With("peer", identity),
		conn:       conn,
		identity:   identity,
		registry:   registry,
		settings:   settings,
		repository: repository,
		censor:     censor,
	}
}

// Run blocks until the connection ends. A clean EOF returns nil.
// Cancelling ctx closes the connection.
func (s *Session) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = s.conn.Close() })
	defer stop()
	defer s.conn.Close()

	scanner := s.newScanner()
	peer, err := s.handshake(scanner)
	if err != nil {
		return fmt.Errorf("handshake: %w", err)
	}

	outbox := s.join(peer)
	err = s.relay(peer, scanner)
	s.leave(peer, outbox)

	if err != nil && ctx.Err() != nil {
		// Shutdown closed the socket under the reader
		return nil
	}
	return err
}

func (s *Session) newScanner() *bufio.Scanner {
	// Room for the delimiter, "\r\n" included
	limit := s.settings.MaxLineLength + 2
	scanner := bufio.NewScanner(s.conn)
	scanner.Buffer(make([]byte, 0, limit), limit)
	return scanner
}

func (s *Session) handshake(scanner *bufio.Scanner) (domain.Peer, error) {
	if _, err := io.WriteString(s.conn, usernamePrompt+"\n"); err != nil {
		return domain.Peer{}, err
	}

	if s.settings.HandshakeTimeout > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.settings.HandshakeTimeout))
		defer s.conn.SetReadDeadline(time.Time{})
	}

	line, err := s.readLine(scanner)
	if goerrors.Is(err, io.EOF) {
		return domain.Peer{}, errors.ErrHandshakeClosed
	}
	if err != nil {
		return domain.Peer{}, err
	}
	username := strings.TrimSpace(line)
	if username == "" {
		return domain.Peer{}, errors.ErrEmptyUsername
	}
	// The first ':' of a wire line ends the sender
	if strings.Contains(username, ":") {
		return domain.Peer{}, errors.ErrInvalidUsername
	}
	return domain.NewPeer(s.identity, username), nil
}

// readLine returns io.EOF when the stream ends cleanly between lines.
func (s *Session) readLine(scanner *bufio.Scanner) (string, error) {
	if !scanner.Scan() {
		err := scanner.Err()
		switch {
		case err == nil:
			return "", io.EOF
		case goerrors.Is(err, bufio.ErrTooLong):
			return "", errors.ErrLineTooLong
		default:
			return "", err
		}
	}
	line := scanner.Text()
	if len(line) > s.settings.MaxLineLength {
		return "", errors.ErrLineTooLong
	}
	if !utf8.ValidString(line) {
		return "", errors.ErrMalformedLine
	}
	return line, nil
}

func (s *Session) join(peer domain.Peer) *Outbox {
	outbox := s.registry.Register(s.identity, s.settings.ChannelCapacity)

	s.writer.Add(1)
	go func() {
		defer s.writer.Done()
		s.write(outbox)
	}()

	s.replayHistory(outbox)
	s.log.Info("Peer joined", "username", peer.Username)
	_ = s.registry.Broadcast(s.identity, domain.JoinMessage(peer.Username))
	return outbox
}

func (s *Session) relay(peer domain.Peer, scanner *bufio.Scanner) error {
	for {
		line, err := s.readLine(scanner)
		if goerrors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		content := line
		if s.censor != nil {
			verdict := s.censor.Inspect(line)
			if len(verdict.Words) > 0 {
				s.log.Info("Line censored",
					"username", peer.Username,
					"lang", verdict.Language,
					"words", verdict.Words)
			}
			content = verdict.Content
		}

		message := domain.NewMessage(peer.Username, content)
		_ = s.registry.Broadcast(s.identity, message)
		s.remember(message)
	}
}

func (s *Session) leave(peer domain.Peer, outbox *Outbox) {
	s.registry.Release(outbox)
	_ = s.registry.Broadcast(s.identity, domain.LeaveMessage(peer.Username))
	s.log.Info("Peer left", "username", peer.Username)

	// A writer stuck on a slow socket is released by the close
	_ = s.conn.Close()
	s.writer.Wait()
}

// write drains the outbox onto the wire, one message per line.
func (s *Session) write(outbox *Outbox) {
	for {
		select {
		case <-outbox.Done():
			return
		case message := <-outbox.Messages():
			if _, err := io.WriteString(s.conn, message.String()+"\n"); err != nil {
				s.log.Warn("Failed to send message to peer", "error", err)
				// Unblocks the reader so the leave cleanup runs
				_ = s.conn.Close()
				return
			}
		}
	}
}

func (s *Session) replayHistory(outbox *Outbox) {
	if s.repository == nil || s.settings.HistorySize <= 0 {
		return
	}
	messages, err := s.repository.Recent(s.settings.HistorySize)
	if err != nil {
		s.log.Warn("Failed to load history", "error", err)
		return
	}
	for i := range messages {
		if err := outbox.Offer(&messages[i]); err != nil {
			s.log.Warn("History replay truncated", "error", err)
			return
		}
	}
}

func (s *Session) remember(message *domain.Message) {
	if s.repository == nil {
		return
	}
	if err := s.repository.StoreMessage(*message); err != nil {
		s.log.Warn("Failed to store message", "error", err)
	}
}
