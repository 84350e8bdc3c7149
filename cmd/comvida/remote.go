package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/csaude/comvida/internal/config"
	"github.com/csaude/comvida/internal/offline"
	"github.com/csaude/comvida/internal/platform/remote"
)

// searchParams lists the resources whose free-text filter is not "name".
var searchParams = map[string]string{
	"patients":       "fullName",
	"cohort-members": "fullName",
	"users":          "username",
}

// clientEnv is what every remote command needs.
type clientEnv struct {
	cfg    *config.Config
	logger zerolog.Logger
	client *remote.Client
}

func newClientEnv(ctx context.Context, stderr io.Writer) (*clientEnv, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := newLogger(cfg, stderr)
	client, err := newClient(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return &clientEnv{cfg: cfg, logger: logger, client: client}, nil
}

// newClient builds the remote client. API_TOKEN wins over API_USERNAME and
// API_PASSWORD, which are exchanged for a token at startup.
func newClient(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*remote.Client, error) {
	env, err := remote.ParseEnvelope(cfg.Envelope)
	if err != nil {
		return nil, err
	}
	opts := []remote.Option{
		remote.WithHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout}),
		remote.WithEnvelope(env),
		remote.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
		remote.WithLogger(logger),
	}
	client, err := remote.NewClient(cfg.APIBaseURL, opts...)
	if err != nil {
		return nil, err
	}

	token := cfg.APIToken
	if token == "" && cfg.APIUsername != "" {
		token, err = client.Login(ctx, cfg.APIUsername, cfg.APIPassword)
		if err != nil {
			return nil, err
		}
	}
	if token == "" {
		return client, nil
	}
	session := remote.NewSession(token,
		remote.WithIdleTimeout(cfg.SessionIdleTimeout),
		remote.WithOnEnd(func() { logger.Warn().Msg("session ended; log in again") }),
	)
	return remote.NewClient(cfg.APIBaseURL, append(opts, remote.WithSession(session))...)
}

func collection(c *remote.Client, resource string) *remote.Collection[json.RawMessage] {
	var opts []remote.CollectionOption
	if p, ok := searchParams[resource]; ok {
		opts = append(opts, remote.WithSearchParam(p))
	}
	return remote.NewCollection[json.RawMessage](c, resource, opts...)
}

// -- Commands --

func loginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login <username> <password>",
		Short: "Exchange credentials for a bearer token (export it as API_TOKEN)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			cfg.APIToken, cfg.APIUsername, cfg.APIPassword = "", "", ""
			client, err := newClient(ctx, cfg, newLogger(cfg, cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			token, err := client.Login(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
}

func listCmd() *cobra.Command {
	var (
		q       remote.ListQuery
		filters map[string]string
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "list <resource>",
		Short: "List one page of a remote collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := newClientEnv(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("size") {
				q.Size = env.cfg.PageSize
			}
			q.Filters = filters

			res, err := collection(env.client, args[0]).List(ctx, q)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, res.Content)
			}
			if err := printRows(out, args[0], res.Content); err != nil {
				return err
			}
			fmt.Fprintf(out, "page %d of %d, %d total\n", res.Number+1, max(res.TotalPages, 1), res.TotalSize)
			return nil
		},
	}
	cmd.Flags().IntVar(&q.Page, "page", 0, "zero-based page number")
	cmd.Flags().IntVar(&q.Size, "size", 0, "page size (defaults to PAGE_SIZE)")
	cmd.Flags().StringVar(&q.Sort, "sort", "", "sort, e.g. name,desc")
	cmd.Flags().StringVar(&q.Search, "search", "", "free-text filter")
	cmd.Flags().StringToStringVar(&filters, "filter", nil, "field filters, e.g. cohortId=<uuid>")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw records")
	return cmd
}

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <resource> <id>",
		Short: "Fetch one record by numeric id",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("id must be numeric: %w", err)
			}
			ctx := cmd.Context()
			env, err := newClientEnv(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			rec, err := collection(env.client, args[0]).Get(ctx, id)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), rec)
		},
	}
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <resource> <uuid>",
		Short: "Delete one record by uuid",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := newClientEnv(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if err := collection(env.client, args[0]).Delete(ctx, args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s %s\n", args[0], args[1])
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <resource> <uuid> <ACTIVE|INACTIVE>",
		Short: "Change the lifecycle status of one record",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := newClientEnv(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			rec, err := collection(env.client, args[0]).UpdateStatus(ctx, args[1], args[2])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), rec)
		},
	}
}

// -- Output --

type rowKeys struct {
	ID     int64  `json:"id"`
	UUID   string `json:"uuid"`
	Status string `json:"lifeCycleStatus"`
}

// printRows prints id, uuid, status and the display name of each record.
// The name is read the way the offline store indexes it.
func printRows(w io.Writer, resource string, records []json.RawMessage) error {
	fmt.Fprintf(w, "%-8s %-36s %-10s %s\n", "ID", "UUID", "STATUS", "NAME")
	for _, raw := range records {
		var k rowKeys
		if err := json.Unmarshal(raw, &k); err != nil {
			return fmt.Errorf("decode %s record: %w", resource, err)
		}
		name := ""
		if r, err := offline.NewRecord(resource, raw); err == nil {
			name = r.Name
		}
		fmt.Fprintf(w, "%-8d %-36s %-10s %s\n", k.ID, k.UUID, k.Status, name)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
