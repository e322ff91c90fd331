package main

import "github.com/zijiren233/livecache/cmd"

func main() {
	cmd.Execute()
}
