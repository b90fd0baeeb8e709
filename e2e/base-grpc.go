package e2e

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/gookit/color"
	"github.com/stretchr/testify/suite"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

type BaseRelaySuite struct {
	suite.Suite
	Config Config
}

// SetupSuite loads the environment configuration before running tests
func (s *BaseRelaySuite) SetupSuite() {
	var err error
	s.Config, err = LoadConfig()
	s.Require().NoError(err)
	if s.Config.BroadcastAddr == "" && s.Config.TunnelAddr == "" {
		s.T().Skip("RELAY_BROADCAST_ADDR and RELAY_TUNNEL_ADDR are unset, no relay to test")
	}
}

// Step prints a colorized header in the test logs
func (s *BaseRelaySuite) Step(name string) {
	header := fmt.Sprintf("  ====== %s ======", name)
	if s.Config.Colours {
		header = color.New(color.BgBlack, color.FgGreen).Render(header)
	}
	s.T().Log(header)
}

// GrpcConn initializes a gRPC connection with logging and JSON debugging
func (s *BaseRelaySuite) GrpcConn(name string, addr string) *grpc.ClientConn {
	s.Step(name)
	t := s.T()

	marshaler := protojson.MarshalOptions{
		UseProtoNames:   true,
		Multiline:       true,
		EmitUnpopulated: true,
	}

	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
			start := time.Now()
			err := invoker(ctx, method, req, reply, cc, opts...)

			logBuilder := strings.Builder{}
			fmt.Fprintf(&logBuilder, "GRPC %s [%s] in %v", method, status.Code(err), time.Since(start))

			// Log full JSON request/response bodies if E2E_DEBUG_JSON is enabled
			if s.Config.DebugJSON {
				fmt.Fprintln(&logBuilder, "\nREQUEST:")
				fmt.Fprintln(&logBuilder, marshaler.Format(req.(proto.Message)))
				if err != nil {
					fmt.Fprintln(&logBuilder, "ERROR:", err)
				} else {
					fmt.Fprintln(&logBuilder, "RESPONSE:")
					fmt.Fprintln(&logBuilder, marshaler.Format(reply.(proto.Message)))
				}
			}
			t.Log(logBuilder.String())
			return err
		}),
	)
	s.Require().NoError(err, "Failed to connect to gRPC server at "+addr)
	return conn
}

// WithHealth provides a health client within a contextual test step
func (s *BaseRelaySuite) WithHealth(name string, fn func(ctx context.Context, client grpc_health_v1.HealthClient)) {
	if s.Config.HealthAddr == "" {
		s.T().Skip("RELAY_HEALTH_ADDR is unset")
	}
	conn := s.GrpcConn(name, s.Config.HealthAddr)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	fn(ctx, grpc_health_v1.NewHealthClient(conn))
}

// LineConn is a chat participant speaking the newline protocol
type LineConn struct {
	s      *BaseRelaySuite
	conn   net.Conn
	reader *bufio.Reader
}

func (s *BaseRelaySuite) Dial(name string, addr string) *LineConn {
	s.Step(name)
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	s.Require().NoError(err, "Failed to connect to relay at "+addr)
	s.T().Cleanup(func() { _ = conn.Close() })
	return &LineConn{s: s, conn: conn, reader: bufio.NewReader(conn)}
}

func (c *LineConn) ReadLine() string {
	c.s.Require().NoError(c.conn.SetReadDeadline(time.Now().Add(5 * time.Second)))
	line, err := c.reader.ReadString('\n')
	c.s.Require().NoError(err)
	line = strings.TrimSuffix(line, "\n")
	c.s.T().Log("<< " + line)
	return line
}

// ReadUntil skips lines, such as greetings of other testers, until want shows up
func (c *LineConn) ReadUntil(want string) {
	for {
		if c.ReadLine() == want {
			return
		}
	}
}

func (c *LineConn) Send(line string) {
	_, err := io.WriteString(c.conn, line+"\n")
	c.s.Require().NoError(err)
	c.s.T().Log(">> " + line)
}

func (c *LineConn) Join(username string) {
	c.s.Require().Equal("Enter your username:", c.ReadLine())
	c.Send(username)
	c.ReadUntil("Server:Hello, " + username + "!")
}

func (c *LineConn) Close() {
	_ = c.conn.Close()
}
