package cmd

import (
	"github.com/spf13/cobra"
	"github.com/zijiren233/livecache/cmd/flags"
)

var ClientCmd = &cobra.Command{
	Use:   "client",
	Short: "Start livecache client",
	Long:  `Start livecache client`,
}

func init() {
	RootCmd.AddCommand(ClientCmd)
	ClientCmd.PersistentFlags().IntVar(&flags.GopNum, "gop-num", 1, "complete gops cached by the client")
}
