package main

import (
	"fmt"
	"os"

	"github.com/plugdl/plugdl/config"
	"github.com/plugdl/plugdl/host"
	"github.com/plugdl/plugdl/plugins"
	"github.com/plugdl/plugdl/utils"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

// Version of the plugin pack, not of any single plugin.
const Version = "2021.11.05"

func newApp() *cli.App {
	cli.VersionFlag = &cli.BoolFlag{
		Name:    "version",
		Aliases: []string{"V"},
		Usage:   "print the plugin pack version",
	}
	return &cli.App{
		Name:      "plugdl",
		Usage:     "download media through the bundled site plugins",
		ArgsUsage: "URL...",
		Version:   Version,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "debug logging plus a per plugin summary",
			},
			&cli.StringFlag{
				Name:  "config",
				Usage: "load configuration from `FILE`",
			},
			&cli.StringFlag{
				Name:    "format",
				Aliases: []string{"f"},
				Usage:   "format to download: best, worst, bestaudio or a format id",
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "output filename `TEMPLATE` with %(title)s style fields",
			},
			&cli.BoolFlag{
				Name:    "dump-json",
				Aliases: []string{"J"},
				Usage:   "print the info json instead of downloading",
			},
			&cli.StringSliceFlag{
				Name:  "use",
				Usage: "post-processor to run after each download, repeatable",
			},
			&cli.BoolFlag{
				Name:  "list-plugins",
				Usage: "print the registered plugins and exit",
			},
		},
		Action: run,
	}
}

func run(c *cli.Context) error {
	config.InitConfig(c.String("config"))
	if c.Bool("verbose") {
		config.Config.LogLevel = "debug"
	}
	config.InitLog()
	config.InitProfiling()
	utils.SetupRedis(config.Config.RedisHost)

	reg, failures := plugins.Initialize()
	if c.Bool("list-plugins") {
		for _, line := range plugins.Summary(reg, failures) {
			fmt.Println(line)
		}
		return nil
	}
	if c.Bool("verbose") {
		for _, line := range plugins.Summary(reg, failures) {
			log.Debugf("plugin: %s", line)
		}
	}

	urls := c.Args().Slice()
	if len(urls) == 0 {
		_ = cli.ShowAppHelp(c)
		return cli.Exit("you must provide at least one URL", 2)
	}

	pipeline := host.New(reg, host.Options{
		Format:         c.String("format"),
		OutputTemplate: c.String("output"),
		DumpJSON:       c.Bool("dump-json"),
		PostProcessors: c.StringSlice("use"),
	})
	if failed := pipeline.Run(urls); failed > 0 {
		return cli.Exit(fmt.Sprintf("%d of %d downloads failed", failed, len(urls)), 1)
	}
	return nil
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
