// SPDX-FileCopyrightText: Copyright (C) 2026 The porelay Authors
// SPDX-License-Identifier: AGPL-3.0-only

package main

import (
	"fmt"
	"strconv"

	"charm.land/lipgloss/v2"
	"charm.land/lipgloss/v2/table"
	"github.com/spf13/cobra"

	"github.com/porelay/porelay/common"
	"github.com/porelay/porelay/server"
	"github.com/porelay/porelay/server/config"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	numberStyle = cellStyle.Align(lipgloss.Right)
	titleStyle  = lipgloss.NewStyle().Bold(true).MarginBottom(1)
)

func newTicketsCommand(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "tickets",
		Short: "Show ticket statistics",
		Long: `Reads the ticket database of a stopped node and prints the number and
value of tickets in every state, and the proportion of winning tickets.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			serverCfg, err := config.LoadFile(cfg.ConfigFile)
			if err != nil {
				return fmt.Errorf("failed to load config file '%v': %v", cfg.ConfigFile, err)
			}
			stats, err := server.ReadTicketStats(serverCfg)
			if err != nil {
				return fmt.Errorf("failed to read ticket database: %v", err)
			}
			_, err = fmt.Fprintln(common.NewWriter(cmd.OutOrStdout()), renderStats(serverCfg.Server.Identifier, &stats))
			return err
		},
	}
}

// formatWinProportion renders p in [0, 1] as a percentage.
func formatWinProportion(p float64) string {
	return strconv.FormatFloat(p*100, 'f', 2, 64) + "%"
}

func renderStats(identifier string, s *server.TicketStats) string {
	count := func(n uint64) string { return strconv.FormatUint(n, 10) }

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		Headers("State", "Tickets", "Value").
		Row("Pending", count(s.Pending), "").
		Row("Unredeemed", count(s.Unredeemed), s.UnredeemedValue.Dec()).
		Row("Redeemed", count(s.Redeemed), s.RedeemedValue.Dec()).
		Row("Losing", count(s.Losing), "").
		Row("Neglected", count(s.Neglected), "").
		Row("Rejected", count(s.Rejected), s.RejectedValue.Dec()).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case col == 0:
				return cellStyle
			default:
				return numberStyle
			}
		})

	return lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("Tickets of "+identifier),
		t.Render(),
		fmt.Sprintf("Total tickets: %d", s.Total()),
		"Win proportion: "+formatWinProportion(s.WinProportion),
	)
}
