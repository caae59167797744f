package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

type ui struct {
	title func(a ...any) string
	ok    func(a ...any) string
	info  func(a ...any) string
	warn  func(a ...any) string
	err   func(a ...any) string
	dim   func(a ...any) string
}

func newUI() *ui {
	return &ui{
		title: color.New(color.FgHiCyan, color.Bold).SprintFunc(),
		ok:    color.New(color.FgGreen, color.Bold).SprintFunc(),
		info:  color.New(color.FgCyan).SprintFunc(),
		warn:  color.New(color.FgYellow).SprintFunc(),
		err:   color.New(color.FgRed, color.Bold).SprintFunc(),
		dim:   color.New(color.FgHiBlack).SprintFunc(),
	}
}

// globals are the connection settings shared by every command, resolved from
// flags, then environment, then the active profile.
type globals struct {
	baseURL     string
	token       string
	adminToken  string
	profileName string
}

func (g *globals) client() *client {
	return newClient(g.baseURL, g.token, g.adminToken)
}

func main() {
	g := &globals{
		baseURL:     getenv("REPORTQ_BASE_URL", "http://localhost:8080"),
		token:       getenv("REPORTQ_TOKEN", ""),
		adminToken:  getenv("REPORTQ_ADMIN_TOKEN", ""),
		profileName: getenv("REPORTQ_PROFILE", ""),
	}
	ui := newUI()

	root := &cobra.Command{
		Use:   "reportq",
		Short: "reportq CLI",
		Long:  "reportq CLI for submitting analysis reports, exports and operating the task queues.",
	}
	root.SetHelpTemplate(helpTemplate(ui))
	root.SilenceUsage = true

	root.PersistentFlags().StringVar(&g.baseURL, "base-url", g.baseURL, "Base URL for the reportq server")
	root.PersistentFlags().StringVar(&g.token, "token", g.token, "Submitter bearer token")
	root.PersistentFlags().StringVar(&g.adminToken, "admin-token", g.adminToken, "Admin bearer token (defaults to --token)")
	root.PersistentFlags().StringVar(&g.profileName, "profile", g.profileName, "Config profile")

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		active := resolveProfileName(g.profileName, cfg)
		prof := cfg.Profiles[active]

		flags := cmd.Flags()
		if !flags.Changed("base-url") && os.Getenv("REPORTQ_BASE_URL") == "" && prof.BaseURL != "" {
			g.baseURL = prof.BaseURL
		}
		if !flags.Changed("token") && os.Getenv("REPORTQ_TOKEN") == "" && prof.Token != "" {
			g.token = prof.Token
		}
		if !flags.Changed("admin-token") && os.Getenv("REPORTQ_ADMIN_TOKEN") == "" && prof.AdminToken != "" {
			g.adminToken = prof.AdminToken
		}
		if g.profileName == "" {
			g.profileName = active
		}
		return nil
	}

	root.AddCommand(initCmd(g, ui))
	root.AddCommand(authCmd(g, ui))
	root.AddCommand(submitCmd(g, ui))
	root.AddCommand(exportCmd(g, ui))
	root.AddCommand(taskCmd(g, ui))
	root.AddCommand(stepsCmd(g, ui))
	root.AddCommand(storeCmd(g, ui))
	root.AddCommand(queueCmd(g, ui))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, ui.err("[ERROR]"), err.Error())
		os.Exit(1)
	}
}

func getenv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func helpTemplate(ui *ui) string {
	title := ui.title("reportq")
	return fmt.Sprintf(`%s: analysis report processing

Usage:
  {{.UseLine}}

Commands:
{{range .Commands}}{{if (or .IsAvailableCommand .IsAdditionalHelpTopicCommand)}}
  {{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}

Flags:
  {{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}

Global Flags:
  {{.InheritedFlags.FlagUsages | trimTrailingWhitespaces}}

Config:
  %s

Examples:
  reportq init
  reportq submit report.zip --key acme:api --branch main --wait
  reportq export --key acme:api
  reportq task get 3f1c... --wait
  reportq steps verify --kind analysis_report
  reportq queue stats

`, title, configPath())
}
