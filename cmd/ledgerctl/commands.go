package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/SanaullahForhad/sooqkabeer-production/internal/domain"
	"github.com/SanaullahForhad/sooqkabeer-production/pkg/ledgerclient"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var errCancelled = errors.New("cancelled")

func (c *cli) balanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balance <account-id>",
		Short: "Show the balance of an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.context()
			defer cancel()
			balance, err := c.client().GetBalance(ctx, args[0])
			if err != nil {
				return err
			}
			return c.print(balance)
		},
	}
}

func (c *cli) commissionsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "commissions <account-id>",
		Short: "List the newest commission entries of a payee",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.context()
			defer cancel()
			entries, err := c.client().GetCommissionHistory(ctx, args[0], limit)
			if err != nil {
				return err
			}
			return c.print(entries)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum entries to return (server default when 0)")
	return cmd
}

func (c *cli) statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats <account-id>",
		Short: "Show referral counts and earnings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.context()
			defer cancel()
			stats, err := c.client().GetReferralStats(ctx, args[0])
			if err != nil {
				return err
			}
			return c.print(stats)
		},
	}
}

func (c *cli) settleCmd() *cobra.Command {
	var status, notes string
	cmd := &cobra.Command{
		Use:   "settle <entry-id>",
		Short: "Mark a pending commission paid or cancelled",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entryID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid entry id: %w", err)
			}
			target := domain.CommissionStatus(status)
			if target != domain.CommissionPaid && target != domain.CommissionCancelled {
				return fmt.Errorf("--status must be %q or %q", domain.CommissionPaid, domain.CommissionCancelled)
			}
			if !c.confirm(fmt.Sprintf("Mark commission %s as %s?", entryID, target)) {
				return errCancelled
			}

			ctx, cancel := c.context()
			defer cancel()
			entry, err := c.client().SettleCommission(ctx, entryID, target, notes)
			if err != nil {
				return err
			}
			return c.print(entry)
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "paid or cancelled")
	cmd.Flags().StringVar(&notes, "notes", "", "settlement notes")
	cmd.MarkFlagRequired("status")
	return cmd
}

func (c *cli) withdrawalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "withdrawal",
		Short: "Inspect and decide withdrawal requests",
	}

	getCmd := &cobra.Command{
		Use:   "get <request-id>",
		Short: "Show a withdrawal request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			requestID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid request id: %w", err)
			}
			ctx, cancel := c.context()
			defer cancel()
			req, err := c.client().GetWithdrawal(ctx, requestID)
			if err != nil {
				return err
			}
			return c.print(req)
		},
	}

	var notes, reason string
	processingCmd := c.withdrawalDecision("processing", "Move a pending request to processing", false,
		func(client *ledgerclient.Client, cmd *cobra.Command, id uuid.UUID) (*domain.WithdrawalRequest, error) {
			return client.MarkWithdrawalProcessing(cmd.Context(), id, notes)
		})
	processingCmd.Flags().StringVar(&notes, "notes", "", "notes stored on the request")

	approveCmd := c.withdrawalDecision("approve", "Complete a withdrawal request", true,
		func(client *ledgerclient.Client, cmd *cobra.Command, id uuid.UUID) (*domain.WithdrawalRequest, error) {
			return client.ApproveWithdrawal(cmd.Context(), id, notes)
		})
	approveCmd.Flags().StringVar(&notes, "notes", "", "notes stored on the request")

	rejectCmd := c.withdrawalDecision("reject", "Reject a request and refund the reserved amount", true,
		func(client *ledgerclient.Client, cmd *cobra.Command, id uuid.UUID) (*domain.WithdrawalRequest, error) {
			return client.RejectWithdrawal(cmd.Context(), id, reason)
		})
	rejectCmd.Flags().StringVar(&reason, "reason", "", "rejection reason shown to the user")
	rejectCmd.MarkFlagRequired("reason")

	cmd.AddCommand(getCmd, processingCmd, approveCmd, rejectCmd)
	return cmd
}

func (c *cli) withdrawalDecision(action, short string, confirm bool, decide func(*ledgerclient.Client, *cobra.Command, uuid.UUID) (*domain.WithdrawalRequest, error)) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <request-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			requestID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid request id: %w", err)
			}
			if confirm && !c.confirm(fmt.Sprintf("%s withdrawal %s?", action, requestID)) {
				return errCancelled
			}

			ctx, cancel := c.context()
			defer cancel()
			cmd.SetContext(ctx)
			req, err := decide(c.client(), cmd, requestID)
			if err != nil {
				return err
			}
			return c.print(req)
		},
	}
}

func (c *cli) orderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "order",
		Short: "Order commission tools",
	}

	var file string
	replayCmd := &cobra.Command{
		Use:   "replay",
		Short: "Resubmit a completed order for commission fan-out",
		Long:  "Reads an order.completed event as JSON and submits it again. Entries that already exist are left unchanged, so replaying is safe.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("read order file: %w", err)
			}
			var event domain.OrderCompletedEvent
			if err := json.Unmarshal(data, &event); err != nil {
				return fmt.Errorf("parse order file: %w", err)
			}
			if event.OrderID == "" {
				return errors.New("order file has no order_id")
			}

			ctx, cancel := c.context()
			defer cancel()
			result, err := c.client().ReportOrderCompleted(ctx, event)
			if result != nil {
				if printErr := c.print(result); printErr != nil {
					return printErr
				}
			}
			return err
		},
	}
	replayCmd.Flags().StringVarP(&file, "file", "f", "", "path to the order.completed JSON payload")
	replayCmd.MarkFlagRequired("file")

	cmd.AddCommand(replayCmd)
	return cmd
}
