package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ValentinKolb/ckv/cmd/kv"
	"github.com/ValentinKolb/ckv/cmd/serve"
	"github.com/ValentinKolb/ckv/cmd/util"
	"github.com/ValentinKolb/ckv/rpc/serializer"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.0"
)

var (
	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "ckv",
		Short: "coherent in-memory key-value store",
		Long: fmt.Sprintf(`ckv (v%s)

A distributed in-memory key-value store. Every key has a home node that
serializes its writes; other nodes cache values on read and are invalidated
before a write completes, so reads never see a value older than the last
completed write.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of ckv",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("ckv v%s\n", Version)
		},
	}
)

func init() {
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(kv.KeyValueCommands)
	RootCmd.AddCommand(versionCmd)

	key := "serializer"
	RootCmd.PersistentFlags().String(key, "binary", util.WrapString(fmt.Sprintf("serializer to use (%s)", strings.Join(serializer.Names, ", "))))
	key = "transport"
	RootCmd.PersistentFlags().String(key, "tcp", util.WrapString(fmt.Sprintf("transport to use (%s)", strings.Join(util.TransportNames, ", "))))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := RootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
