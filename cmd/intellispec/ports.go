package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/CK6170/Intellispec-go/models"
	"github.com/CK6170/Intellispec-go/serial"
)

func NewPortsCommand(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:     "ports",
		Short:   "List serial ports",
		GroupID: gSetup,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.setup(); err != nil {
				return err
			}
			ports := serial.ListPorts()
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(ports)
			}
			return printPorts(cmd.OutOrStdout(), ports, a.cfg.Serial.PORT)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")

	return cmd
}

// printPorts writes a port table; the configured port is highlighted.
func printPorts(w io.Writer, ports []models.PortInfo, configured string) error {
	if len(ports) == 0 {
		_, err := fmt.Fprintln(w, "No serial ports found.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PORT\tUSB\tVID:PID\tSERIAL\tPRODUCT")
	for _, p := range ports {
		ids := ""
		if p.IsUSB {
			ids = p.VID + ":" + p.PID
		}
		name := p.Name
		if p.Name == configured {
			name = color.HiGreenString("%s*", p.Name)
		}
		fmt.Fprintf(tw, "%s\t%t\t%s\t%s\t%s\n", name, p.IsUSB, ids, p.SerialNumber, p.Product)
	}
	return tw.Flush()
}
