package cli

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/latticemem/lattice/internal/client"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show engine stats from a running server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return printGet("/api/stats")
	},
}

var decisionsN int

var decisionsCmd = &cobra.Command{
	Use:   "decisions",
	Short: "Show recent injection decisions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return printGet(fmt.Sprintf("/api/decisions?n=%d", decisionsN))
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Wipe all concepts, threads, profile, and logs",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := client.New()
		if !c.Healthy() {
			return fmt.Errorf("no lattice server reachable (is `lattice serve` running?)")
		}
		data, err := c.Post("/api/clear", []byte("{}"))
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	},
}

func init() {
	decisionsCmd.Flags().IntVarP(&decisionsN, "count", "n", 20, "number of decisions to show")
}

func printGet(path string) error {
	c := client.New()
	if !c.Healthy() {
		return fmt.Errorf("no lattice server reachable (is `lattice serve` running?)")
	}
	data, err := c.Get(path)
	if err != nil {
		return err
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, data, "", "  "); err != nil {
		fmt.Println(string(data))
		return nil
	}
	fmt.Println(pretty.String())
	return nil
}
