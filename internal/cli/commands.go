package cli

import (
	"encoding/json"
	"fmt"

	"github.com/berrythewa/cliped-daemon/internal/ipc"
	"github.com/berrythewa/cliped-daemon/internal/types"

	"github.com/spf13/cobra"
)

var (
	historyOffset int
	historyLimit  int
	showPending   bool
)

func init() {
	historyCmd.Flags().IntVar(&historyOffset, "offset", 0, "number of entries to skip")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum entries to show")
	devicesCmd.Flags().BoolVar(&showPending, "pending", false, "show pending connection requests instead")

	RootCmd.AddCommand(historyCmd)
	RootCmd.AddCommand(devicesCmd)
	RootCmd.AddCommand(discoverCmd)
	RootCmd.AddCommand(versionCmd)
}

// request sends one IPC request to the running daemon and fails on an
// error status.
func request(cmd string, args map[string]interface{}) (*ipc.Response, error) {
	resp, err := ipc.SendRequest(socketPath, &ipc.Request{Command: cmd, Args: args})
	if err != nil {
		return nil, fmt.Errorf("is the daemon running? %w", err)
	}
	if resp.Status != "ok" {
		return nil, fmt.Errorf("%s", resp.Message)
	}
	return resp, nil
}

// decodeInto re-marshals the generic response data into a typed value.
func decodeInto(data interface{}, v interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show clipboard history from the running daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := request(ipc.CmdHistory, map[string]interface{}{
			"offset": historyOffset,
			"limit":  historyLimit,
		})
		if err != nil {
			return err
		}

		var entries []types.ClipboardEntry
		if err := decodeInto(resp.Data, &entries); err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("history is empty")
			return nil
		}
		for _, e := range entries {
			fmt.Printf("%s  [%s]  %s\n",
				e.Created.Format("2006-01-02 15:04:05"), e.Type, e.Content)
		}
		return nil
	},
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List connected devices (or pending requests with --pending)",
	RunE: func(cmd *cobra.Command, args []string) error {
		command := ipc.CmdDevices
		if showPending {
			command = ipc.CmdPending
		}
		resp, err := request(command, nil)
		if err != nil {
			return err
		}

		var devices []types.Device
		if err := decodeInto(resp.Data, &devices); err != nil {
			return err
		}
		if len(devices) == 0 {
			fmt.Println("no devices")
			return nil
		}
		for _, d := range devices {
			fmt.Printf("%-36s  %-20s  %-16s  %s\n", d.ID, d.Name, d.Status, d.Addr)
		}
		return nil
	},
}

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Sweep the local network for cliped devices",
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := request(ipc.CmdDiscover, nil)
		if err != nil {
			return err
		}

		var devices []types.Device
		if err := decodeInto(resp.Data, &devices); err != nil {
			return err
		}
		if len(devices) == 0 {
			fmt.Println("no devices found")
			return nil
		}
		for _, d := range devices {
			fmt.Printf("%-36s  %-20s  %s\n", d.ID, d.Name, d.Addr)
		}
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("clipedd %s (built %s)\n", Version, BuildTime)
	},
}
