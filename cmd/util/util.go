package util

import (
	"fmt"
	"strings"

	"github.com/ValentinKolb/ckv/rpc/common"
	"github.com/ValentinKolb/ckv/rpc/serializer"
	"github.com/ValentinKolb/ckv/rpc/transport"
	"github.com/ValentinKolb/ckv/rpc/transport/http"
	"github.com/ValentinKolb/ckv/rpc/transport/tcp"
	"github.com/ValentinKolb/ckv/rpc/transport/unix"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50

	// EnvPrefix is the prefix of all environment variables (CKV_<FLAG>)
	EnvPrefix = "ckv"
)

// TransportNames lists the values accepted by --transport
var TransportNames = []string{"tcp", "unix", "http"}

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// InitEnv loads .env files and lets viper read CKV_ prefixed variables
func InitEnv() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// SetupTransportFlags adds the socket option flags shared by serve and kv
func SetupTransportFlags(cmd *cobra.Command) {
	key := "transport-write-buffer"
	cmd.PersistentFlags().Int(key, 512, WrapString("The size of the socket write buffer (in KB, ignored for http and unix)"))

	key = "transport-read-buffer"
	cmd.PersistentFlags().Int(key, 512, WrapString("The size of the socket read buffer (in KB, ignored for http and unix)"))

	key = "transport-tcp-nodelay"
	cmd.PersistentFlags().Bool(key, true, WrapString("Whether to enable TCP_NODELAY (only for tcp)"))

	key = "transport-tcp-keepalive"
	cmd.PersistentFlags().Int(key, 0, WrapString("The keepalive interval (in seconds, only for tcp, 0 disables keepalive)"))

	key = "transport-tcp-linger"
	cmd.PersistentFlags().Int(key, 0, WrapString("The linger time (in seconds, only for tcp, 0 keeps the OS default)"))
}

// SetupRPCClientFlags adds common RPC connection flags to a command
func SetupRPCClientFlags(cmd *cobra.Command) {
	key := "timeout"
	cmd.PersistentFlags().Int(key, 10, WrapString("The timeout in seconds of the client"))

	key = "transport-endpoints"
	cmd.PersistentFlags().String(key, "localhost:8080", WrapString("The address of a ckv node. Multiple endpoints can be specified as a comma-separated list, requests are spread round-robin"))

	key = "transport-conn-per-endpoint"
	cmd.PersistentFlags().Int(key, 1, WrapString("Simultaneous connections per endpoint (tcp and unix)"))

	key = "transport-retries"
	cmd.PersistentFlags().Int(key, 3, WrapString("How many times to retry the request"))

	SetupTransportFlags(cmd)
}

// GetTransportConfig reads the socket options from viper
func GetTransportConfig() common.TransportConfig {
	return common.TransportConfig{
		WriteBufferSize: viper.GetInt("transport-write-buffer") * 1024,
		ReadBufferSize:  viper.GetInt("transport-read-buffer") * 1024,
		TCPKeepAliveSec: viper.GetInt("transport-tcp-keepalive"),
		TCPLingerSec:    viper.GetInt("transport-tcp-linger"),
		TCPNoDelay:      viper.GetBool("transport-tcp-nodelay"),
	}
}

// GetClientConfig reads client configuration from viper
func GetClientConfig() *common.ClientConfig {
	var endpoints []string
	for _, e := range strings.Split(viper.GetString("transport-endpoints"), ",") {
		if e = strings.TrimSpace(e); e != "" {
			endpoints = append(endpoints, e)
		}
	}
	return &common.ClientConfig{
		Endpoints:              endpoints,
		TimeoutSecond:          viper.GetInt("timeout"),
		RetryCount:             viper.GetInt("transport-retries"),
		ConnectionsPerEndpoint: viper.GetInt("transport-conn-per-endpoint"),
		Transport:              GetTransportConfig(),
	}
}

// GetSerializer creates a serializer based on configuration
func GetSerializer() (serializer.IRPCSerializer, error) {
	return serializer.ByName(viper.GetString("serializer"))
}

// GetTransport creates a client transport based on configuration
func GetTransport() (transport.IRPCClientTransport, error) {
	factory, err := GetTransportFactory()
	if err != nil {
		return nil, err
	}
	return factory(), nil
}

// GetTransportFactory returns the constructor of the configured client transport
func GetTransportFactory() (func() transport.IRPCClientTransport, error) {
	switch name := viper.GetString("transport"); name {
	case "http":
		return http.NewHttpClientTransport, nil
	case "tcp":
		return tcp.NewTCPClientTransport, nil
	case "unix":
		return unix.NewUnixClientTransport, nil
	default:
		return nil, fmt.Errorf("invalid transport %s (expected one of: %s)", name, strings.Join(TransportNames, ", "))
	}
}

// GetServerTransport creates the configured server transport
func GetServerTransport(bufferSize int) (transport.IRPCServerTransport, error) {
	switch name := viper.GetString("transport"); name {
	case "http":
		return http.NewHttpServerTransport(), nil
	case "tcp":
		return tcp.NewTCPServerTransport(bufferSize), nil
	case "unix":
		return unix.NewUnixServerTransport(bufferSize), nil
	default:
		return nil, fmt.Errorf("invalid transport %s (expected one of: %s)", name, strings.Join(TransportNames, ", "))
	}
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}
