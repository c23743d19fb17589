package main

import (
	"os"

	"github.com/yeremiapane/restaurant-sync/cmd"
	"github.com/yeremiapane/restaurant-sync/utils"
)

func main() {
	if err := cmd.Execute(); err != nil {
		utils.ErrorLogger.Error(err)
		os.Exit(1)
	}
}
