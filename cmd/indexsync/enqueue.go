package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/syntrixbase/indexsync/internal/indexsync/types"
	"github.com/syntrixbase/indexsync/internal/server"
)

func (c *cli) enqueueCmd() *cobra.Command {
	var (
		job         types.Job
		action      string
		payload     string
		payloadFile string
	)
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Enqueue a single index job",
		Example: `  indexsync enqueue --tenant acme --index contacts --id c-1 --payload '{"name":"Ada"}'
  indexsync enqueue --tenant acme --index contacts --id c-1 --action DELETE`,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			job.Action = types.Action(strings.ToUpper(action))

			raw := []byte(payload)
			if payloadFile != "" {
				data, err := os.ReadFile(payloadFile)
				if err != nil {
					return fmt.Errorf("failed to read payload: %w", err)
				}
				raw = data
			}
			if len(raw) > 0 {
				if err := types.DecodeJSON(raw, &job.Payload); err != nil {
					return fmt.Errorf("payload must be a JSON object: %w", err)
				}
			}
			if err := job.Validate(); err != nil {
				return err
			}

			m, finish, err := c.startEnqueuer(cmd.Context())
			if err != nil {
				return err
			}
			defer func() {
				if ferr := finish(); ferr != nil && err == nil {
					err = ferr
				}
			}()

			if err := m.Producer().Enqueue(cmd.Context(), &job); err != nil {
				return err
			}
			if c.jsonOutput {
				return c.printJSON(map[string]string{"id": job.ID})
			}
			fmt.Fprintf(c.out, "Enqueued job %s (%s)\n", job.ID, job.Target())
			return nil
		},
	}
	cmd.Flags().StringVarP(&job.TenantID, "tenant", "t", "", "Tenant id")
	cmd.Flags().StringVarP(&job.IndexName, "index", "i", "", "Logical index name")
	cmd.Flags().StringVar(&job.DocumentID, "id", "", "Document id")
	cmd.Flags().StringVarP(&action, "action", "a", string(types.ActionUpsert), "UPSERT or DELETE")
	cmd.Flags().StringVarP(&payload, "payload", "p", "", "Document body as JSON")
	cmd.Flags().StringVar(&payloadFile, "payload-file", "", "Read the document body from a file")
	cmd.Flags().Int64Var(&job.Version, "version", 0, "Document version for ordering (0 to skip)")
	cmd.MarkFlagsMutuallyExclusive("payload", "payload-file")
	for _, name := range []string{"tenant", "index", "id"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func (c *cli) tokenCmd() *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the admin API",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := c.cfg.Admin.JWTSecret
			if secret == "" {
				return fmt.Errorf("admin.jwt_secret is not set; the admin API is unauthenticated")
			}
			token, err := server.SignToken([]byte(secret), subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(c.out, token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "operator", "Token subject, recorded in admin logs")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	return cmd
}
