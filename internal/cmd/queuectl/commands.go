package queuectl

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ivankudzin/modqueue/internal/app/platform"
	"github.com/ivankudzin/modqueue/internal/app/workerapp"
	"github.com/ivankudzin/modqueue/internal/domain/enums"
	"github.com/ivankudzin/modqueue/internal/domain/model"
	"github.com/ivankudzin/modqueue/internal/jobs/reconcile"
	pgrepo "github.com/ivankudzin/modqueue/internal/repo/postgres"
	authsvc "github.com/ivankudzin/modqueue/internal/services/auth"
)

func newMigrateCommand(open OpenFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withPlatform(cmd.Context(), open, func(p *platform.Platform) error {
				if p.Postgres == nil {
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), "memory store: nothing to migrate")
					return nil
				}
				if err := pgrepo.Migrate(cmd.Context(), p.Postgres); err != nil {
					return err
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "status:", "OK")
				return nil
			})
		},
	}
}

func newSeedContentCommand(open OpenFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed-content",
		Short: "Create a content row to moderate",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rawKind, _ := cmd.Flags().GetString("kind")
			rawOwner, _ := cmd.Flags().GetString("owner")
			author, _ := cmd.Flags().GetString("author")
			standing, _ := cmd.Flags().GetInt("standing")
			title, _ := cmd.Flags().GetString("title")
			body, _ := cmd.Flags().GetString("body")
			language, _ := cmd.Flags().GetString("language")

			kind, ok := enums.ParseContentKind(rawKind)
			if !ok {
				return fmt.Errorf("unknown content kind %q", rawKind)
			}
			owner := uuid.New()
			if rawOwner != "" {
				parsed, err := uuid.Parse(rawOwner)
				if err != nil {
					return fmt.Errorf("owner must be a uuid: %w", err)
				}
				owner = parsed
			}
			if strings.TrimSpace(body) == "" {
				return fmt.Errorf("--body is required")
			}

			return withPlatform(cmd.Context(), open, func(p *platform.Platform) error {
				c, err := p.Contents.Create(cmd.Context(), model.Content{
					Kind:              kind,
					OwnerID:           owner,
					AuthorDisplayName: author,
					AuthorStanding:    standing,
					Title:             title,
					Body:              body,
					Language:          language,
				})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), c)
			})
		},
	}
	cmd.Flags().String("kind", string(enums.ContentKindPost), "content kind: topic, post, private_message, appeal")
	cmd.Flags().String("owner", "", "owner uuid (random when empty)")
	cmd.Flags().String("author", "", "author display name")
	cmd.Flags().Int("standing", 0, "author standing")
	cmd.Flags().String("title", "", "title")
	cmd.Flags().String("body", "", "body text")
	cmd.Flags().String("language", "", "language code")
	return cmd
}

func newEnqueueCommand(open OpenFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enqueue <queue-type> <content-id>",
		Short: "Put content into a moderation queue",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			queueType, contentID, err := parseQueueAndID(args[0], args[1])
			if err != nil {
				return err
			}
			var override *int
			if cmd.Flags().Changed("priority") {
				v, _ := cmd.Flags().GetInt("priority")
				override = &v
			}

			return withPlatform(cmd.Context(), open, func(p *platform.Platform) error {
				item, err := p.QueueService.Enqueue(cmd.Context(), contentID, queueType, override)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), item)
			})
		},
	}
	cmd.Flags().Int("priority", 0, "priority override")
	return cmd
}

func newListCommand(open OpenFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <queue-type>",
		Short: "List queue items in processing order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			queueType, ok := enums.ParseQueueType(args[0])
			if !ok {
				return fmt.Errorf("unknown queue type %q", args[0])
			}
			limit, _ := cmd.Flags().GetInt("limit")
			offset, _ := cmd.Flags().GetInt("offset")
			rawStatus, _ := cmd.Flags().GetString("status")
			var status *enums.ItemStatus
			if rawStatus != "" {
				s, ok := enums.ParseItemStatus(rawStatus)
				if !ok {
					return fmt.Errorf("unknown status %q", rawStatus)
				}
				status = &s
			}

			return withPlatform(cmd.Context(), open, func(p *platform.Platform) error {
				items, err := p.QueueService.List(cmd.Context(), queueType, status, limit, offset)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), items)
			})
		},
	}
	cmd.Flags().Int("limit", 50, "page size")
	cmd.Flags().Int("offset", 0, "page offset")
	cmd.Flags().String("status", "", "pending, processing or completed")
	return cmd
}

func newStatusCommand(open OpenFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "status <content-id>",
		Short: "Show where content sits in its queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			contentID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("content id must be a uuid: %w", err)
			}
			return withPlatform(cmd.Context(), open, func(p *platform.Platform) error {
				st, err := p.QueueService.GetStatus(cmd.Context(), contentID)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), st)
			})
		},
	}
}

func newOverviewCommand(open OpenFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "overview",
		Short: "Show queue lengths for every queue type",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withPlatform(cmd.Context(), open, func(p *platform.Platform) error {
				ov, err := p.QueueService.Overview(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), ov)
			})
		},
	}
}

func newRequeueCommand(open OpenFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "requeue <item-id>",
		Short: "Release a processing or stuck item back to pending",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("item id must be a uuid: %w", err)
			}
			return withPlatform(cmd.Context(), open, func(p *platform.Platform) error {
				item, err := p.QueueService.Requeue(cmd.Context(), id)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), item)
			})
		},
	}
}

func newRemoveCommand(open OpenFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <item-id>",
		Short: "Delete a queue item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("item id must be a uuid: %w", err)
			}
			return withPlatform(cmd.Context(), open, func(p *platform.Platform) error {
				if err := p.QueueService.Remove(cmd.Context(), id); err != nil {
					return err
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "status:", "OK")
				return nil
			})
		},
	}
}

func newSweepCommand(open OpenFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Resolve processing items whose worker went silent",
		RunE: func(cmd *cobra.Command, _ []string) error {
			staleAfter, _ := cmd.Flags().GetDuration("stale-after")
			return withPlatform(cmd.Context(), open, func(p *platform.Platform) error {
				if staleAfter <= 0 {
					staleAfter = p.Config.Scheduler.StaleAfter
				}
				if longest := p.Config.LongestJobTimeout(); staleAfter <= longest {
					return fmt.Errorf("stale-after %s must exceed the longest job_timeout %s", staleAfter, longest)
				}
				workers, err := workerapp.New(p)
				if err != nil {
					return err
				}
				job := reconcile.New(p.Queue, workers.Worker(), staleAfter, p.Logger.Named("sweep"))
				if err := job.Run(cmd.Context()); err != nil {
					return err
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "status:", "OK")
				return nil
			})
		},
	}
	cmd.Flags().Duration("stale-after", 0, "claim age that counts as stale (config value when zero)")
	return cmd
}

func newTokenCommand(open OpenFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token <subject>",
		Short: "Mint an api access token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			role, _ := cmd.Flags().GetString("role")
			ttl, _ := cmd.Flags().GetDuration("ttl")
			return withPlatform(cmd.Context(), open, func(p *platform.Platform) error {
				if ttl <= 0 {
					ttl = p.Config.Auth.JWTAccessTTL
				}
				manager := authsvc.NewJWTManager(p.Config.Auth.JWTSecret, ttl)
				token, expiresAt, err := manager.GenerateAccessToken(args[0], role)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"access_token": token,
					"expires_at":   expiresAt,
				})
			})
		},
	}
	cmd.Flags().String("role", authsvc.RoleModerator, "SERVICE, MODERATOR, ADMIN or VIEWER")
	cmd.Flags().Duration("ttl", 0, "token lifetime (config value when zero)")
	return cmd
}

func parseQueueAndID(rawQueue, rawID string) (enums.QueueType, uuid.UUID, error) {
	queueType, ok := enums.ParseQueueType(rawQueue)
	if !ok {
		return "", uuid.Nil, fmt.Errorf("unknown queue type %q", rawQueue)
	}
	id, err := uuid.Parse(rawID)
	if err != nil {
		return "", uuid.Nil, fmt.Errorf("id must be a uuid: %w", err)
	}
	return queueType, id, nil
}
