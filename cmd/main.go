package main

import (
	"os"

	"github.com/Muradxanyann/OnlineQuizScoreService/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
