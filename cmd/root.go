package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/zijiren233/livecache/cmd/flags"
)

var RootCmd = &cobra.Command{
	Use:   "livecache",
	Short: "livecache",
	Long:  `livecache is a live stream server that lets players join mid-stream`,
}

func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	RootCmd.PersistentFlags().BoolVar(&flags.Debug, "debug", false, "debug mode")
	RootCmd.PersistentFlags().BoolVar(&flags.Dev, "dev", false, "development logging")
}
