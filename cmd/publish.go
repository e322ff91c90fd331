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

var PublishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish a flv file to a channel",
	Long:  `Publish a flv file to a channel over raw TCP, paced by its timestamps`,
	RunE:  Publish,
}

func Publish(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := client.NewClient(av.PUBLISH, client.WithRealtime(true))
	if err != nil {
		return err
	}
	if err := c.Dial(ctx, flags.PublishURL); err != nil {
		return err
	}
	defer c.Close()

	for {
		if err := publishFile(ctx, c, flags.FilePath); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if !flags.Loop {
			return nil
		}
	}
}

func publishFile(ctx context.Context, c *client.Client, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()
	err = c.PushStart(ctx, flv.NewReader(file))
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func init() {
	ClientCmd.AddCommand(PublishCmd)
	PublishCmd.Flags().StringVar(&flags.PublishURL, "dial", "tcp://127.0.0.1:1935/app/channel", "channel to publish to")
	PublishCmd.Flags().StringVarP(&flags.FilePath, "file", "f", "", "flv file to publish")
	PublishCmd.Flags().BoolVar(&flags.Loop, "loop", false, "publish the file again when it ends")
	PublishCmd.MarkFlagRequired("file")
}
