package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Config keys.
const (
	keyServer  = "server"
	keyToken   = "token"
	keyTimeout = "timeout"
	keyJSON    = "json"
)

// InitConfig wires viper to $HOME/.voicectl.yaml, ./voicectl.yaml and
// VOICECTL_* environment variables.
func InitConfig(v *viper.Viper) {
	v.SetConfigName(".voicectl")
	v.SetConfigType("yaml")
	v.AddConfigPath("$HOME")
	v.AddConfigPath(".")

	v.SetEnvPrefix("voicectl")
	v.AutomaticEnv()

	v.SetDefault(keyServer, "http://localhost:8080")
	v.SetDefault(keyToken, "")
	v.SetDefault(keyTimeout, 30*time.Second)
	v.SetDefault(keyJSON, false)

	_ = v.ReadInConfig()
}

type app struct {
	v   *viper.Viper
	out io.Writer
}

func (a *app) client() *Client {
	return NewClient(a.v.GetString(keyServer), a.v.GetString(keyToken), a.v.GetDuration(keyTimeout))
}

func (a *app) jsonOut() bool { return a.v.GetBool(keyJSON) }

// NewRootCommand builds the voicectl command tree.
func NewRootCommand(v *viper.Viper, out io.Writer) *cobra.Command {
	a := &app{v: v, out: out}

	root := &cobra.Command{
		Use:           "voicectl",
		Short:         "Operate the oraclevoice synthesis service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)

	pf := root.PersistentFlags()
	pf.String(keyServer, v.GetString(keyServer), "service base URL")
	pf.String(keyToken, "", "bearer token")
	pf.Duration(keyTimeout, v.GetDuration(keyTimeout), "request timeout")
	pf.Bool(keyJSON, false, "print raw JSON")
	for _, k := range []string{keyServer, keyToken, keyTimeout, keyJSON} {
		_ = v.BindPFlag(k, pf.Lookup(k))
	}

	root.AddCommand(
		a.sayCmd(),
		a.statusCmd(),
		a.cancelCmd(),
		a.healthCmd(),
		a.profilesCmd(),
		a.queueCmd(),
		a.watchCmd(),
		a.historyCmd(),
	)
	return root
}

func (a *app) sayCmd() *cobra.Command {
	var (
		role       string
		useDefault bool
		wait       bool
		outFile    string
	)
	cmd := &cobra.Command{
		Use:   "say <text>",
		Short: "Submit text for synthesis",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c := a.client()
			res, err := c.Submit(ctx, args[0], role, useDefault)
			if err != nil {
				return err
			}
			if !wait && outFile == "" {
				if a.jsonOut() {
					return printJSON(a.out, res)
				}
				fmt.Fprintf(a.out, "%s %s %s\n", Success.Sprint("queued"), res.JobID, Faint.Sprint("(voicectl status "+res.JobID+")"))
				return nil
			}

			if err := c.Stream(ctx, res.JobID, "", true, func(ev Event) error {
				if !a.jsonOut() {
					renderEvent(a.out, ev)
				}
				return nil
			}); err != nil {
				return err
			}

			job, err := c.Job(ctx, res.JobID)
			if err != nil {
				return err
			}
			if a.jsonOut() {
				if err := printJSON(a.out, job); err != nil {
					return err
				}
			} else {
				renderJob(a.out, job)
			}
			if job.Error != nil {
				return fmt.Errorf("job %s failed: %s", job.ID, job.Error.Kind)
			}
			if outFile == "" {
				return nil
			}

			f, err := os.Create(outFile)
			if err != nil {
				return err
			}
			n, err := c.Download(ctx, job.ID, f)
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return err
			}
			if !a.jsonOut() {
				fmt.Fprintf(a.out, "%s %s (%s)\n", Success.Sprint("saved"), outFile, humanize.Bytes(uint64(n)))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&role, "role", "r", "", "persona role (default profile when empty)")
	cmd.Flags().BoolVar(&useDefault, "default-voice", false, "use the default persona whatever the role")
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "follow the job until it finishes")
	cmd.Flags().StringVarP(&outFile, "out", "o", "", "save the audio to this file (implies --wait)")
	return cmd
}

func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := a.client().Job(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if a.jsonOut() {
				return printJSON(a.out, job)
			}
			renderJob(a.out, job)
			return nil
		},
	}
}

func (a *app) cancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a queued job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := a.client().Cancel(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if a.jsonOut() {
				return printJSON(a.out, job)
			}
			fmt.Fprintf(a.out, "%s %s\n", Warning.Sprint("cancelled"), job.ID)
			return nil
		},
	}
}

func (a *app) healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show engine health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			hs, err := a.client().Health(cmd.Context())
			if err != nil {
				return err
			}
			if a.jsonOut() {
				return printJSON(a.out, hs)
			}
			renderHealth(a.out, hs)
			return nil
		},
	}
}

func (a *app) profilesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "profiles",
		Short: "List voice profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pl, err := a.client().Profiles(cmd.Context())
			if err != nil {
				return err
			}
			if a.jsonOut() {
				return printJSON(a.out, pl)
			}
			renderProfiles(a.out, pl)
			return nil
		},
	}
}

func (a *app) queueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "queue",
		Short: "Show queue statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.client().Stats(cmd.Context())
			if err != nil {
				return err
			}
			if a.jsonOut() {
				return printJSON(a.out, s)
			}
			renderStats(a.out, s)
			return nil
		},
	}
}

func (a *app) watchCmd() *cobra.Command {
	var jobID, role string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow job events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.client().Stream(cmd.Context(), jobID, role, jobID != "", func(ev Event) error {
				if a.jsonOut() {
					return printJSON(a.out, map[string]any{"id": ev.ID, "type": ev.Type, "data": ev.Data})
				}
				renderEvent(a.out, ev)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&jobID, "job", "", "only this job; exits when it finishes")
	cmd.Flags().StringVar(&role, "role", "", "only this role")
	return cmd
}

func (a *app) historyCmd() *cobra.Command {
	var role, status string
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List finished jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			records, err := a.client().History(cmd.Context(), role, status, limit)
			if err != nil {
				return err
			}
			if a.jsonOut() {
				return printJSON(a.out, records)
			}
			renderHistory(a.out, records)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "filter by role")
	cmd.Flags().StringVar(&status, "status", "", "filter by status (completed, failed)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum records")
	return cmd
}

// Execute runs voicectl with the given arguments.
func Execute(ctx context.Context, args []string, out, errOut io.Writer) int {
	v := viper.New()
	InitConfig(v)
	root := NewRootCommand(v, out)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(errOut, Error.Sprint("error: ")+err.Error())
		return 1
	}
	return 0
}
