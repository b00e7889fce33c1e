package main

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/1ureka/nearby/internal/hub"
	"github.com/1ureka/nearby/internal/util"
)

var hubListen string

var hubCmd = &cobra.Command{
	Use:   "hub",
	Short: "runs the rendezvous hub",
	Long:  `runs the WebSocket hub peers use to advertise, discover, connect and relay payloads`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if hubListen != "" {
			cfg.Hub.Listen = hubListen
		}

		s := hub.NewServer()
		addr, err := s.Start(cfg.Hub.Listen)
		if err != nil {
			return err
		}

		pterm.Info.Printfln("nearby hub v%s", version)
		util.LogSuccess("hub listening on ws://%s/ws", addr)

		<-cmd.Context().Done()

		util.LogInfo("shutting down hub (%d peers connected)", s.Clients())
		return s.Close()
	},
}

func init() {
	hubCmd.Flags().StringVar(&hubListen, "listen", "", "address to listen on (overrides hub.listen)")
}
