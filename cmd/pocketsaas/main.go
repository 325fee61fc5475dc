package main

import (
	"log"

	"github.com/m3rciful/pocketsaas/core/cmd"
	"github.com/m3rciful/pocketsaas/internal/app"
	"github.com/m3rciful/pocketsaas/internal/config"
)

func main() {
	err := cmd.Run(cmd.Options{
		ConfigEnvVar:      "CONFIG_PATH",
		DefaultConfigPath: "config.yaml",
		LoadConfig: func(path string) (cmd.ConfigCarrier, error) {
			return config.Load(path)
		},
		Bootstrap: app.Bootstrap,
	})
	if err != nil {
		log.Fatal(err)
	}
}
