// Command dynamo-cli is the client CLI: submit, poll, kill and run
// (synchronous submit with live output tailing) against an application
// server, following the teacher's cmd/warren/main.go subcommand-per-action
// layout adapted from a gRPC stub to pkg/dynamoclient's wire-protocol
// wrapper.
package main

import (
	"bufio"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net"
	"os"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/dynamo-go/dynamo/pkg/appserver"
	"github.com/dynamo-go/dynamo/pkg/dynamoclient"
	"github.com/dynamo-go/dynamo/pkg/wireframe"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	serverAddr string
	service    string
	certFile   string
	keyFile    string
	caFile     string
	execArgs   []string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "dynamo-cli",
	Short: "dynamo-cli submits, polls, kills and runs applications against dynamod",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", "localhost:8443", "application server address")
	rootCmd.PersistentFlags().StringVar(&service, "service", "default", "service name to authenticate against")
	rootCmd.PersistentFlags().StringVar(&certFile, "cert", "", "client TLS certificate")
	rootCmd.PersistentFlags().StringVar(&keyFile, "key", "", "client TLS key")
	rootCmd.PersistentFlags().StringVar(&caFile, "ca", "", "CA bundle that signed the server certificate")

	submitCmd.Flags().StringArrayVar(&execArgs, "arg", nil, "argv entry to pass to the submitted executable (repeatable)")
	runCmd.Flags().StringArrayVar(&execArgs, "arg", nil, "argv entry to pass to the submitted executable (repeatable)")

	rootCmd.AddCommand(submitCmd, pollCmd, killCmd, runCmd)
}

func clientTLSConfig() (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("loading client certificate: %w", err)
	}
	caBytes, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("reading CA bundle: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caBytes) {
		return nil, fmt.Errorf("no certificates parsed from %s", caFile)
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}, RootCAs: pool}, nil
}

var submitCmd = &cobra.Command{
	Use:   "submit <title> <exec-path>",
	Short: "schedule an application asynchronously and print its id",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		tlsConfig, err := clientTLSConfig()
		if err != nil {
			return err
		}
		c, err := dynamoclient.Dial(serverAddr, service, tlsConfig)
		if err != nil {
			return err
		}
		defer c.Close()

		appID, path, err := c.Submit(args[0], args[1], "", false, execArgs)
		if err != nil {
			return err
		}
		fmt.Printf("appid=%d path=%s\n", appID, path)
		return nil
	},
}

var pollCmd = &cobra.Command{
	Use:   "poll <appid>",
	Short: "print an application's current status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tlsConfig, err := clientTLSConfig()
		if err != nil {
			return err
		}
		c, err := dynamoclient.Dial(serverAddr, service, tlsConfig)
		if err != nil {
			return err
		}
		defer c.Close()

		var appID int64
		if _, err := fmt.Sscanf(args[0], "%d", &appID); err != nil {
			return fmt.Errorf("invalid appid %q", args[0])
		}
		content, err := c.Poll(appID)
		if err != nil {
			return err
		}
		fmt.Printf("id=%d title=%s status=%s exit_code=%d path=%s\n",
			content.ID, content.Title, content.Status, content.ExitCode, content.Path)
		return nil
	},
}

var killCmd = &cobra.Command{
	Use:   "kill <appid>",
	Short: "request that a running or pending application be aborted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tlsConfig, err := clientTLSConfig()
		if err != nil {
			return err
		}
		c, err := dynamoclient.Dial(serverAddr, service, tlsConfig)
		if err != nil {
			return err
		}
		defer c.Close()

		var appID int64
		if _, err := fmt.Sscanf(args[0], "%d", &appID); err != nil {
			return fmt.Errorf("invalid appid %q", args[0])
		}
		msg, err := c.Kill(appID)
		if err != nil {
			return err
		}
		fmt.Println(msg)
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run <title> <exec-path>",
	Short: "submit synchronously, streaming stdout/stderr until the application exits",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		tlsConfig, err := clientTLSConfig()
		if err != nil {
			return err
		}
		return runSynch(args[0], args[1], execArgs, tlsConfig)
	},
}

// runSynch speaks the submit protocol directly rather than through
// dynamoclient.Client, since the synchronous path needs the raw connection
// to send a follow-up HostPort frame and accept the server's two dial-back
// connections for stdout/stderr (spec.md §4.F).
func runSynch(title, execPath string, args []string, tlsConfig *tls.Config) error {
	conn, err := tls.Dial("tcp", serverAddr, tlsConfig)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()
	r := bufio.NewReader(conn)

	if _, err := readReply(r); err != nil {
		return err
	}

	req := appserver.Request{
		Service:  service,
		Command:  appserver.CommandSubmit,
		Title:    title,
		ExecPath: execPath,
		Args:     args,
		Mode:     appserver.ModeSynch,
	}
	if err := writeRequest(conn, req); err != nil {
		return err
	}

	reply, err := readReply(r)
	if err != nil {
		return err
	}
	submit, err := decodeAs[appserver.SubmitContent](reply.Content)
	if err != nil {
		return err
	}
	fmt.Printf("appid=%d path=%s\n", submit.AppID, submit.Path)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("opening local tail listener: %w", err)
	}
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	if err := wireframe.WriteFrame(conn, mustMarshal(appserver.HostPort{Host: "127.0.0.1", Port: port})); err != nil {
		return fmt.Errorf("sending tail target: %w", err)
	}

	go acceptAndCopy(ln, os.Stdout)
	go acceptAndCopy(ln, os.Stderr)

	final, err := readReply(r)
	if err != nil {
		return err
	}
	fin, err := decodeAs[appserver.FinalContent](final.Content)
	if err != nil {
		return err
	}
	fmt.Printf("status=%s exit_code=%d\n", fin.Status, fin.ExitCode)
	if fin.Status != string(appserver.StatusOK) && fin.ExitCode != 0 {
		os.Exit(fin.ExitCode)
	}
	return nil
}

func acceptAndCopy(ln net.Listener, dst io.Writer) {
	conn, err := ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()
	io.Copy(dst, conn)
}

func readReply(r *bufio.Reader) (appserver.Reply, error) {
	frame, err := wireframe.ReadFrame(r)
	if err != nil {
		return appserver.Reply{}, fmt.Errorf("reading reply: %w", err)
	}
	var reply appserver.Reply
	if err := json.Unmarshal(frame, &reply); err != nil {
		return appserver.Reply{}, fmt.Errorf("malformed reply: %w", err)
	}
	if reply.Status != appserver.StatusOK {
		return reply, fmt.Errorf("server: %v", reply.Content)
	}
	return reply, nil
}

func writeRequest(conn net.Conn, req appserver.Request) error {
	return wireframe.WriteFrame(conn, mustMarshal(req))
}

func mustMarshal(v interface{}) []byte {
	b, _ := json.Marshal(v)
	return b
}

func decodeAs[T any](content interface{}) (T, error) {
	var out T
	raw, err := json.Marshal(content)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, err
	}
	return out, nil
}
