package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/AnnixInvestments/annix-sub033/internal/postmeeting"
	"github.com/AnnixInvestments/annix-sub033/internal/summary"
)

// newJobsCmd manages post-meeting jobs directly in the job store. A running
// server notices the writes and picks them up on its next tick.
func newJobsCmd(deps *cliDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and manage post-meeting jobs",
	}

	cmd.AddCommand(newJobsListCmd(deps))
	cmd.AddCommand(newJobsShowCmd(deps))
	cmd.AddCommand(newJobsCreateCmd(deps))
	cmd.AddCommand(newJobsCancelCmd(deps))
	return cmd
}

func openJobService(deps *cliDeps) (*postmeeting.Service, error) {
	store, err := openJobStore(deps.config)
	if err != nil {
		return nil, err
	}
	return postmeeting.NewService(store, postMeetingOptions(deps.config), postmeeting.Dependencies{}, deps.logger)
}

func newJobsListCmd(deps *cliDeps) *cobra.Command {
	var userID, status string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openJobService(deps)
			if err != nil {
				return err
			}
			st, err := postmeeting.ParseStatus(status)
			if err != nil {
				return err
			}

			var jobs []*postmeeting.Job
			if userID != "" {
				jobs, err = svc.JobsForUser(userID, st)
			} else {
				jobs, err = svc.List()
			}
			if err != nil {
				fmt.Fprintf(os.Stderr, "warning: %v\n", err)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tUSER\tPLATFORM\tSTATUS\tRETRIES\tSCHEDULED END\tTITLE")
			for _, j := range jobs {
				if st != "" && j.Status != st {
					continue
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
					j.ID, j.UserID, j.Platform, j.Status, j.RetryCount,
					j.ScheduledEndTime.Local().Format(time.DateTime), j.Title)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "Only jobs of this user")
	cmd.Flags().StringVar(&status, "status", "", "Only jobs in this status")
	return cmd
}

func newJobsShowCmd(deps *cliDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print one job as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openJobService(deps)
			if err != nil {
				return err
			}
			job, err := svc.Get(args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(job)
		},
	}
}

func newJobsCreateCmd(deps *cliDeps) *cobra.Command {
	var (
		req        postmeeting.CreateRequest
		start, end string
		attendees  []string
		disabled   bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Queue a post-meeting job",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if start != "" {
				if req.ScheduledStartTime, err = time.Parse(time.RFC3339, start); err != nil {
					return fmt.Errorf("invalid --start: %w", err)
				}
			}
			if req.ScheduledEndTime, err = time.Parse(time.RFC3339, end); err != nil {
				return fmt.Errorf("invalid --end: %w", err)
			}
			for _, a := range attendees {
				name, addr, ok := strings.Cut(a, "=")
				if !ok {
					name, addr = "", a
				}
				req.Attendees = append(req.Attendees, summary.Attendee{Name: name, Email: addr})
			}
			if disabled {
				enabled := false
				req.AutomationEnabled = &enabled
			}

			svc, err := openJobService(deps)
			if err != nil {
				return err
			}
			job, err := svc.CreateJob(req)
			if err != nil {
				return err
			}
			fmt.Println(job.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&req.UserID, "user", "", "Owner of the meeting")
	cmd.Flags().StringVar(&req.Provider, "provider", "", "Calendar provider: google, microsoft or zoom")
	cmd.Flags().StringVar(&req.Title, "title", "", "Meeting title")
	cmd.Flags().StringVar(&req.MeetingURL, "url", "", "Meeting join URL")
	cmd.Flags().StringVar(&req.OrganizerEmail, "organizer", "", "Organizer email, used when there are no attendees")
	cmd.Flags().StringVar(&start, "start", "", "Scheduled start (RFC 3339)")
	cmd.Flags().StringVar(&end, "end", "", "Scheduled end (RFC 3339)")
	cmd.Flags().StringSliceVar(&attendees, "attendee", nil, "Attendee as name=email or email; repeatable")
	cmd.Flags().BoolVar(&disabled, "no-automation", false, "Record the job but skip processing")
	cmd.MarkFlagRequired("user")
	cmd.MarkFlagRequired("end")
	return cmd
}

func newJobsCancelCmd(deps *cliDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a job that has not finished",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openJobService(deps)
			if err != nil {
				return err
			}
			job, err := svc.Cancel(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%s %s\n", job.ID, job.Status)
			return nil
		},
	}
}
