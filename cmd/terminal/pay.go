package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/alovak/cardflow-terminal/internal/payment"
	"github.com/alovak/cardflow-terminal/internal/pin"
	"github.com/alovak/cardflow-terminal/terminal"
	"github.com/alovak/cardflow-terminal/terminal/models"
	"github.com/spf13/cobra"
)

func payCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pay",
		Short: "Run a single payment and print the outcome",
		Long: `Run one payment through the configured gateway chain.

When a PIN is required it is read from stdin; an empty line cancels.

Example:
  terminal pay --amount 12.50 --card 4111111111111111 --expiry 1228`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var create models.CreatePayment
			create.Amount, _ = cmd.Flags().GetString("amount")
			create.CardNumber, _ = cmd.Flags().GetString("card")
			create.Expiry, _ = cmd.Flags().GetString("expiry")
			create.CardholderName, _ = cmd.Flags().GetString("name")

			app, cleanup, err := startApp(cmd, "127.0.0.1:0")
			if err != nil {
				return err
			}
			defer cleanup()
			defer app.Shutdown()

			session, err := pay(cmd.Context(), app.Service(), create, os.Stdin, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(session); err != nil {
				return err
			}
			if session.Result != payment.Approved {
				return fmt.Errorf("payment %s", session.Result)
			}
			return nil
		},
	}

	cmd.Flags().String("amount", "", "amount, e.g. 12.50")
	cmd.Flags().String("card", "", "card number")
	cmd.Flags().String("expiry", "", "expiry as MMYY, YYMM or MMYYYY")
	cmd.Flags().String("name", "", "cardholder name")
	cmd.MarkFlagRequired("amount")
	cmd.MarkFlagRequired("card")
	cmd.MarkFlagRequired("expiry")

	return cmd
}

// pay starts a payment and answers PIN prompts from in until the run ends.
func pay(ctx context.Context, svc *terminal.Service, create models.CreatePayment, in io.Reader, prompt io.Writer) (*models.Session, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	session, err := svc.StartPayment(create)
	if err != nil {
		return nil, err
	}

	lines := bufio.NewScanner(in)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		s, err := svc.GetSession(session.ID)
		if err != nil {
			return nil, err
		}
		if s.State == payment.Done {
			return svc.Wait(ctx, session.ID)
		}

		if s.PinRequired {
			fmt.Fprintf(prompt, "Enter PIN for %s: ", s.MaskedCard)
			if !lines.Scan() || strings.TrimSpace(lines.Text()) == "" {
				err = svc.Cancel(session.ID)
			} else {
				err = svc.SubmitPIN(session.ID, strings.TrimSpace(lines.Text()))
			}
			if errors.Is(err, pin.ErrInvalidPIN) {
				fmt.Fprintln(prompt, err)
				continue
			}
			if err != nil && !errors.Is(err, terminal.ErrNoPINPending) {
				return nil, err
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
