package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/alovak/cardflow-terminal/internal/card"
	"github.com/alovak/cardflow-terminal/internal/expiry"
	"github.com/spf13/cobra"
)

type testCard struct {
	PAN    string     `json:"pan"`
	Brand  card.Brand `json:"brand"`
	Expiry string     `json:"expiry"`
	Face   string     `json:"face"`
}

func newTestCard(prefix string, length, years int, now time.Time) (*testCard, error) {
	pan, err := card.Generate(prefix, length)
	if err != nil {
		return nil, fmt.Errorf("generating pan: %w", err)
	}
	exp := expiry.Date{Month: int(now.Month()), Year: now.Year() + years}
	return &testCard{
		PAN:    pan,
		Brand:  card.DetectBrand(pan),
		Expiry: exp.MMYY(),
		Face:   exp.CardFace(),
	}, nil
}

func testCardCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "testcard",
		Short: "Print a Luhn-valid sandbox card",
		RunE: func(cmd *cobra.Command, args []string) error {
			prefix, _ := cmd.Flags().GetString("prefix")
			length, _ := cmd.Flags().GetInt("length")
			years, _ := cmd.Flags().GetInt("years")

			c, err := newTestCard(prefix, length, years, time.Now())
			if err != nil {
				return err
			}
			return json.NewEncoder(cmd.OutOrStdout()).Encode(c)
		},
	}

	cmd.Flags().String("prefix", "424242", "BIN prefix")
	cmd.Flags().Int("length", 16, "card number length")
	cmd.Flags().Int("years", 3, "validity in years")

	return cmd
}
