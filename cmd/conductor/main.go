package main

import (
	"github.com/spf13/cobra"
)

func main() {
	var root = &cobra.Command{Use: "conductor"}

	root.AddCommand(runCMD(), replayCMD(), evalCMD(), toolsCMD(), migrateCMD())
	_ = root.Execute()
}
