package cmd

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zijiren233/livecache/av"
	"github.com/zijiren233/livecache/client"
	"github.com/zijiren233/livecache/cmd/flags"
	"github.com/zijiren233/livecache/container/flv"
)

var PlayCmd = &cobra.Command{
	Use:   "play",
	Short: "Play a channel and save it to a flv file",
	Long:  `Play a channel over HTTP-FLV and save it to a flv file`,
	RunE:  Play,
}

func Play(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := client.NewClient(av.PLAY, client.WithGopNum(flags.GopNum))
	if err != nil {
		return err
	}
	if err := c.Dial(ctx, flags.PlayURL); err != nil {
		return err
	}
	defer c.Close()

	file, err := os.Create(flags.FilePath)
	if err != nil {
		return err
	}
	if err := c.AddPlayer(flv.NewWriteCloser(file)); err != nil {
		file.Close()
		return err
	}

	err = c.PullStart(ctx)
	if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func init() {
	ClientCmd.AddCommand(PlayCmd)
	PlayCmd.Flags().StringVar(&flags.PlayURL, "dial", "http://127.0.0.1:1935/app/channel.flv", "channel to play")
	PlayCmd.Flags().StringVarP(&flags.FilePath, "file", "f", "", "flv save to filepath")
	PlayCmd.MarkFlagRequired("file")
}
