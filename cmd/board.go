package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"stopboard.dev/board"
)

var (
	stopID         string
	lookBack       time.Duration
	platformPrefix string
)

func init() {
	boardCmd.Flags().StringVarP(&stopID, "stop", "s", "", "stop or station ID")
	boardCmd.Flags().DurationVarP(&lookBack, "look-back", "", 30*time.Minute, "keep entries that departed up to this long ago")
	boardCmd.Flags().StringVarP(&platformPrefix, "platform-prefix", "", "", "prefix stripped from platform names")
	boardCmd.MarkFlagRequired("stop")
}

var boardCmd = &cobra.Command{
	Use:   "board",
	Short: "Compose the board for a stop",
	RunE: func(cmd *cobra.Command, args []string) error {
		registry, err := openRegistry()
		if err != nil {
			return err
		}
		defer registry.Close()

		composer := board.NewComposer(registry)
		composer.PlatformPrefix = platformPrefix

		now := time.Now()
		b, err := composer.Compose(stopID, now, now, lookBack)
		if err != nil {
			return err
		}

		fmt.Printf("%s (#%s)\n", b.Stop.Name, b.Color)
		if b.Description != "" {
			fmt.Println(b.Description)
		}

		routes := []string{}
		for _, route := range b.Routes {
			routes = append(routes, route.DisplayName())
		}
		fmt.Printf("Routes: %s\n", strings.Join(routes, ", "))
		if len(b.Zones) > 0 {
			fmt.Printf("Zones: %s\n", strings.Join(b.Zones, ", "))
		}
		if b.Accessible {
			fmt.Println("Wheelchair accessible")
		}

		for _, alert := range b.Alerts {
			fmt.Printf("! %s\n", alert.Header)
		}

		for _, entry := range b.Entries {
			live := " "
			if entry.Live {
				live = "*"
			}
			name := ""
			if entry.Route != nil {
				name = entry.Route.DisplayName()
			}
			fmt.Printf(
				"%s%s  %-8s %-24s %s\n",
				clock(entry.DepartureSeconds),
				live,
				name,
				entry.Destination,
				entry.Platform,
			)
		}

		return nil
	},
}
