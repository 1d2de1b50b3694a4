package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/GXboy12345/newtab-rick/internal/dispatch"
	"github.com/GXboy12345/newtab-rick/internal/httpapi"
	"github.com/GXboy12345/newtab-rick/internal/state"
	"github.com/pterm/pterm"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

const defaultServer = "http://127.0.0.1:8091"

var errStopWatch = errors.New("stop watching")

type app struct {
	server  string
	token   string
	timeout time.Duration
	// maxEvents stops watch after that many snapshots; 0 streams forever.
	maxEvents int
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:          "newtabrick",
		Short:        "Control a running newtabrickd",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&a.server, "server", envOr("NEWTABRICK_SERVER", defaultServer), "daemon base URL")
	root.PersistentFlags().StringVar(&a.token, "token", os.Getenv("NEWTABRICK_TOKEN"), "bearer token")
	root.PersistentFlags().DurationVar(&a.timeout, "timeout", 30*time.Second, "request timeout")

	root.AddCommand(
		a.stateCmd(),
		a.toggleCmd(),
		a.simpleCmd("reset", "Reset tab counters (the rickroll total is kept)", dispatch.ActionResetCount, "Counters reset"),
		a.numberCmd("chance", "Set the Roll mode chance (1 in N)", dispatch.ActionUpdateChance),
		a.modeCmd(),
		a.numberCmd("interval", "Set the Interval/Roulette value N", dispatch.ActionUpdateInterval),
		a.nowCmd(),
		a.checkCmd(),
		a.remoteURLCmd(),
		a.prefsCmd(),
		a.exportCmd(),
		a.watchCmd(),
		tokenCmd(),
	)
	return root
}

func (a *app) client() *client {
	return newClient(a.server, a.token, a.timeout)
}

func (a *app) send(cmd *cobra.Command, req dispatch.Request, okMessage string) (dispatch.Response, error) {
	resp, err := a.client().command(cmd.Context(), req)
	if err != nil {
		pterm.Error.Printfln("Could not reach newtabrickd at %s", a.server)
		return resp, err
	}
	if !resp.Success {
		reason := lo.Ternary(resp.Error != "", resp.Error, "rejected by daemon")
		pterm.Error.Println(reason)
		return resp, fmt.Errorf("%s: %s", req.Action, reason)
	}
	if okMessage != "" {
		pterm.Success.Println(okMessage)
	}
	return resp, nil
}

func (a *app) stateCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Show settings and counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			snap, err := a.client().state(cmd.Context())
			if err != nil {
				return err
			}
			if output == "json" {
				return writeIndentedJSON(cmd.OutOrStdout(), snap)
			}
			printState(snap)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output format (json)")
	return cmd
}

func (a *app) toggleCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "toggle on|off",
		Short:     "Enable or disable redirects",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			enabled, err := parseOnOff(args[0])
			if err != nil {
				return err
			}
			_, err = a.send(cmd, dispatch.Request{Action: dispatch.ActionToggleEnabled, IsEnabled: &enabled},
				"Redirects "+lo.Ternary(enabled, "enabled", "disabled"))
			return err
		},
	}
}

func (a *app) simpleCmd(use, short, action, okMessage string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := a.send(cmd, dispatch.Request{Action: action}, okMessage)
			return err
		},
	}
}

func (a *app) numberCmd(use, short, action string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " N",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(strings.TrimSpace(args[0]))
			if err != nil {
				return fmt.Errorf("%q is not a number", args[0])
			}
			req := dispatch.Request{Action: action}
			if action == dispatch.ActionUpdateChance {
				req.RandomChance = &n
			} else {
				req.IntervalValue = &n
			}
			_, err = a.send(cmd, req, fmt.Sprintf("%s set to %d", use, n))
			return err
		},
	}
}

func (a *app) modeCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "mode roll|interval|roulette",
		Short:     "Select the redirect mode",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(state.ModeRoll), string(state.ModeInterval), string(state.ModeRoulette)},
		RunE: func(cmd *cobra.Command, args []string) error {
			mode := strings.ToLower(strings.TrimSpace(args[0]))
			_, err := a.send(cmd, dispatch.Request{Action: dispatch.ActionUpdateMode, Mode: &mode}, "Mode set to "+mode)
			return err
		},
	}
}

func (a *app) nowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "now",
		Short: "Open the landing page in a new tab right away",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			resp, err := a.send(cmd, dispatch.Request{Action: dispatch.ActionOpenRickrollNow}, "")
			if err != nil {
				return err
			}
			if resp.Tab != nil && resp.Tab.ID != "" {
				pterm.Success.Printfln("Opened tab %s", resp.Tab.ID)
			} else {
				pterm.Success.Println("Opened in the system browser")
			}
			return nil
		},
	}
}

func (a *app) checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check the remote settings document now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			resp, err := a.send(cmd, dispatch.Request{Action: dispatch.ActionCheckConfig}, "")
			if err != nil {
				return err
			}
			switch resp.Result {
			case "applied":
				pterm.Success.Println("Remote settings applied")
			default:
				pterm.Info.Println("Remote settings unchanged")
			}
			return nil
		},
	}
}

func (a *app) remoteURLCmd() *cobra.Command {
	var clearURL bool
	cmd := &cobra.Command{
		Use:   "remote-url [URL]",
		Short: "Set or clear the remote settings document URL",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !clearURL && len(args) == 0 {
				return errors.New("a URL or --clear is required")
			}
			url := ""
			if !clearURL {
				url = args[0]
			}
			_, err := a.send(cmd, dispatch.Request{Action: dispatch.ActionSetRemoteConfigURL, RemoteConfigURL: &url},
				lo.Ternary(clearURL, "Remote URL cleared", "Remote URL set"))
			return err
		},
	}
	cmd.Flags().BoolVar(&clearURL, "clear", false, "clear the stored URL and use the daemon default")
	return cmd
}

func (a *app) prefsCmd() *cobra.Command {
	var theme, accent1, accent2, progress string
	cmd := &cobra.Command{
		Use:   "prefs",
		Short: "Update display preferences",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req := dispatch.Request{Action: dispatch.ActionUpdatePreferences}
			if cmd.Flags().Changed("theme") {
				req.Theme = &theme
			}
			if cmd.Flags().Changed("accent1") {
				req.Accent1 = &accent1
			}
			if cmd.Flags().Changed("accent2") {
				req.Accent2 = &accent2
			}
			if cmd.Flags().Changed("progress") {
				visible, err := parseOnOff(progress)
				if err != nil {
					return err
				}
				req.IntervalProgressVisible = &visible
			}
			_, err := a.send(cmd, req, "Preferences updated")
			return err
		},
	}
	cmd.Flags().StringVar(&theme, "theme", "", "light or dark")
	cmd.Flags().StringVar(&accent1, "accent1", "", "first accent color")
	cmd.Flags().StringVar(&accent2, "accent2", "", "second accent color")
	cmd.Flags().StringVar(&progress, "progress", "", "show interval progress (on|off)")
	return cmd
}

func (a *app) exportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Print the current settings as a remote document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			doc, err := a.client().export(cmd.Context())
			if err != nil {
				return err
			}
			return writeIndentedJSON(cmd.OutOrStdout(), doc)
		},
	}
}

func (a *app) watchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream counter changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			seen := 0
			err := a.client().watch(cmd.Context(), func(snap state.Snapshot) error {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %-8s tabs=%d rickrolls=%d progress=%d/%d\n",
					time.Now().Format(time.TimeOnly),
					lo.Ternary(snap.Enabled, "ON", "OFF"),
					snap.TabCount, snap.RickrollCount, snap.RouletteProgress, snap.RouletteTarget)
				seen++
				if a.maxEvents > 0 && seen >= a.maxEvents {
					return errStopWatch
				}
				return nil
			})
			if errors.Is(err, errStopWatch) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().IntVar(&a.maxEvents, "count", 0, "exit after N snapshots")
	return cmd
}

func tokenCmd() *cobra.Command {
	var secret, subject string
	var scopes []string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for a daemon started with a JWT secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			token, err := httpapi.IssueToken(secret, subject, scopes, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", os.Getenv("NEWTABRICK_JWT_SECRET"), "HS256 secret")
	cmd.Flags().StringVar(&subject, "subject", "cli", "token subject")
	cmd.Flags().StringSliceVar(&scopes, "scope", []string{httpapi.ScopeStateRead, httpapi.ScopeStateWrite}, "granted scopes")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime (0 for none)")
	return cmd
}

func printState(snap state.Snapshot) {
	rows := pterm.TableData{{"Property", "Value"}}
	rows = append(rows, []string{"Enabled", lo.Ternary(snap.Enabled, pterm.Green("ON"), pterm.Red("OFF"))})
	rows = append(rows, []string{"Mode", snap.Mode.Title()})
	rows = append(rows, []string{"Chance", fmt.Sprintf("1 in %d", snap.RollChance)})
	rows = append(rows, []string{"Interval", strconv.Itoa(snap.IntervalValue)})
	rows = append(rows, []string{"Tabs opened", strconv.Itoa(snap.TabCount)})
	if snap.Mode == state.ModeRoulette {
		rows = append(rows, []string{"Roulette", fmt.Sprintf("%d / %d", snap.RouletteProgress, snap.RouletteTarget)})
	}
	rows = append(rows, []string{"Rickrolls", strconv.Itoa(snap.RickrollCount)})
	rows = append(rows, []string{"Config version", snap.ConfigVersion})
	if snap.RemoteConfigURL != "" {
		rows = append(rows, []string{"Remote URL", snap.RemoteConfigURL})
	}
	if snap.LastConfigCheck > 0 {
		rows = append(rows, []string{"Last check", time.UnixMilli(snap.LastConfigCheck).Format(time.RFC3339)})
	}
	_ = pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
}

func parseOnOff(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "on", "true", "yes", "1":
		return true, nil
	case "off", "false", "no", "0":
		return false, nil
	default:
		return false, fmt.Errorf("expected on or off, got %q", value)
	}
}

func writeIndentedJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(name, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return fallback
}
