package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joshp123/gohome-melcloud/internal/rpc"
	"github.com/joshp123/gohome-melcloud/plugins/melcloud"
)

var setFlags struct {
	power    string
	mode     string
	temp     float64
	fan      int
	vane     string
	heatTemp float64
	coolTemp float64
}

var melcloudCmd = &cobra.Command{
	Use:     "melcloud",
	Aliases: []string{"ac"},
	Short:   "Inspect and control MELCloud air conditioners",
}

var unitsCmd = &cobra.Command{
	Use:     "units",
	Aliases: []string{"list"},
	Short:   "List units with their last known state",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, conn, done, err := dial(cmd)
		if err != nil {
			return err
		}
		defer done()
		units, err := listUnits(ctx, conn, "ListUnits")
		if err != nil {
			return err
		}
		return printUnits(units)
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Poll the cloud now and list the result",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, conn, done, err := dial(cmd)
		if err != nil {
			return err
		}
		defer done()
		units, err := listUnits(ctx, conn, "Refresh")
		if err != nil {
			return err
		}
		return printUnits(units)
	},
}

var showCmd = &cobra.Command{
	Use:   "show <unit>",
	Short: "Show one unit by id or name",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, conn, done, err := dial(cmd)
		if err != nil {
			return err
		}
		defer done()
		unitID, err := lookupUnit(ctx, conn, args[0])
		if err != nil {
			return err
		}
		req, err := rpc.Encode(map[string]any{"unit_id": unitID})
		if err != nil {
			return err
		}
		resp, err := rpc.Invoke(ctx, conn, melcloud.ServiceName, "GetUnit", req)
		if err != nil {
			return fmt.Errorf("get unit: %w", err)
		}
		return printUnitResponse(resp)
	},
}

var setCmd = &cobra.Command{
	Use:   "set <unit>",
	Short: "Change power, mode, setpoint, fan speed or vane of a unit",
	Example: `  gohome-cli melcloud set "Living Room" --mode cool --temp 23.5
  gohome-cli melcloud set bedroom --power off
  gohome-cli melcloud set office --fan 0 --vane swing
  gohome-cli melcloud set office --mode auto --heat 20 --cool 25`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := dispatchRequest(cmd)
		if err != nil {
			return err
		}

		ctx, conn, done, err := dial(cmd)
		if err != nil {
			return err
		}
		defer done()
		req.UnitID, err = lookupUnit(ctx, conn, args[0])
		if err != nil {
			return err
		}

		in, err := rpc.Encode(req)
		if err != nil {
			return err
		}
		resp, err := rpc.Invoke(ctx, conn, melcloud.ServiceName, "Dispatch", in)
		if err != nil {
			return fmt.Errorf("dispatch: %w", err)
		}
		return printUnitResponse(resp)
	},
}

func init() {
	f := setCmd.Flags()
	f.StringVar(&setFlags.power, "power", "", "on or off")
	f.StringVar(&setFlags.mode, "mode", "", "heat, cool, auto, dry or fan")
	f.Float64Var(&setFlags.temp, "temp", 0, "Target temperature in °C")
	f.IntVar(&setFlags.fan, "fan", 0, "Fan speed, 0 for auto")
	f.StringVar(&setFlags.vane, "vane", "", "auto, swing or a position 1-5")
	f.Float64Var(&setFlags.heatTemp, "heat", 0, "Heating threshold in °C")
	f.Float64Var(&setFlags.coolTemp, "cool", 0, "Cooling threshold in °C")

	melcloudCmd.AddCommand(unitsCmd, showCmd, setCmd, refreshCmd)
	rootCmd.AddCommand(melcloudCmd)
}

// dispatchRequest maps only the flags that were given.
func dispatchRequest(cmd *cobra.Command) (melcloud.DispatchRequest, error) {
	var req melcloud.DispatchRequest
	f := cmd.Flags()
	if f.Changed("power") {
		on, err := parsePower(setFlags.power)
		if err != nil {
			return req, err
		}
		req.Power = &on
	}
	if f.Changed("mode") {
		req.Mode = &setFlags.mode
	}
	if f.Changed("temp") {
		req.Temperature = &setFlags.temp
	}
	if f.Changed("fan") {
		req.FanSpeed = &setFlags.fan
	}
	if f.Changed("vane") {
		req.Vane = &setFlags.vane
	}
	if f.Changed("heat") {
		req.HeatingThreshold = &setFlags.heatTemp
	}
	if f.Changed("cool") {
		req.CoolingThreshold = &setFlags.coolTemp
	}
	if req == (melcloud.DispatchRequest{}) {
		return req, fmt.Errorf("nothing to set; pass at least one of --power --mode --temp --fan --vane --heat --cool")
	}
	return req, nil
}

func parsePower(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "on":
		return true, nil
	case "off":
		return false, nil
	}
	on, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid --power %q (want on or off)", raw)
	}
	return on, nil
}

func listUnits(ctx context.Context, conn grpc.ClientConnInterface, method string) ([]melcloud.UnitInfo, error) {
	resp, err := rpc.Invoke(ctx, conn, melcloud.ServiceName, method, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", strings.ToLower(method), err)
	}
	var list struct {
		Units []melcloud.UnitInfo `json:"units"`
	}
	if err := rpc.Decode(resp, &list); err != nil {
		return nil, err
	}
	return list.Units, nil
}

func lookupUnit(ctx context.Context, conn grpc.ClientConnInterface, input string) (string, error) {
	units, err := listUnits(ctx, conn, "ListUnits")
	if err != nil {
		return "", err
	}
	return resolveUnit(input, units)
}

func printUnits(units []melcloud.UnitInfo) error {
	out := newOutput()
	if out.json {
		return out.printJSON(map[string]any{"units": units})
	}
	rows := [][]string{{"UNIT", "ID", "POWER", "MODE", "SET", "ROOM", "FAN", "VANE", "STATE", "SYNC"}}
	for _, u := range units {
		mode := u.Mode
		if u.PendingMode != "" {
			mode += " (next " + u.PendingMode + ")"
		}
		rows = append(rows, []string{
			u.Name,
			u.ID,
			formatBool(u.Power, "on", "off"),
			mode,
			formatTemp(u.SetTemperature),
			formatTemp(u.RoomTemperature),
			u.FanSpeed,
			u.Vane,
			u.CurrentState,
			formatBool(u.Connected, u.Status, "offline"),
		})
	}
	return out.table(rows)
}

func printUnitResponse(resp *structpb.Struct) error {
	var got struct {
		Unit melcloud.UnitInfo `json:"unit"`
	}
	if err := rpc.Decode(resp, &got); err != nil {
		return err
	}
	out := newOutput()
	if out.json {
		return out.printJSON(got)
	}
	u := got.Unit
	fmt.Fprintf(out.w, "unit: %s (%s)\n", u.Name, u.ID)
	if u.Building != "" {
		fmt.Fprintf(out.w, "building: %s\n", u.Building)
	}
	fmt.Fprintf(out.w, "status: %s\n", u.Status)
	fmt.Fprintf(out.w, "connected: %t\n", u.Connected)
	fmt.Fprintf(out.w, "power: %s\n", formatBool(u.Power, "on", "off"))
	fmt.Fprintf(out.w, "mode: %s\n", u.Mode)
	if u.PendingMode != "" {
		fmt.Fprintf(out.w, "pending_mode: %s\n", u.PendingMode)
	}
	fmt.Fprintf(out.w, "set_temperature: %s\n", formatTemp(u.SetTemperature))
	fmt.Fprintf(out.w, "room_temperature: %s\n", formatTemp(u.RoomTemperature))
	if u.HeatingThreshold != nil || u.CoolingThreshold != nil {
		fmt.Fprintf(out.w, "thresholds: %s .. %s\n", formatTemp(u.HeatingThreshold), formatTemp(u.CoolingThreshold))
	}
	fmt.Fprintf(out.w, "fan_speed: %s (of %d)\n", u.FanSpeed, u.FanSpeeds)
	fmt.Fprintf(out.w, "vane: %s\n", u.Vane)
	fmt.Fprintf(out.w, "current_state: %s\n", u.CurrentState)
	if u.Verifying {
		fmt.Fprintln(out.w, "verifying: true")
	}
	return nil
}
