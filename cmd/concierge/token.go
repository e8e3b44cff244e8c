package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/m3rciful/concierge/core/token"
)

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Deep-link token helpers",
	}
	cmd.AddCommand(tokenEncodeCmd())
	return cmd
}

func tokenEncodeCmd() *cobra.Command {
	var (
		a        token.Attributes
		noNonce  bool
		noStamp  bool
		botName  string
		issuedAt int64
	)
	cmd := &cobra.Command{
		Use:   "encode",
		Short: "Print a /start token for a referral and campaign",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.Nonce == "" && !noNonce {
				a.Nonce = uuid.NewString()[:8]
			}
			if !noStamp {
				ts := issuedAt
				if ts == 0 {
					ts = time.Now().Unix()
				}
				a.IssuedAt = &ts
			}
			tok := token.Encode(a)
			out := cmd.OutOrStdout()
			if botName == "" {
				_, err := fmt.Fprintln(out, tok)
				return err
			}
			_, err := fmt.Fprintf(out, "https://t.me/%s?start=%s\n", botName, tok)
			return err
		},
	}
	f := cmd.Flags()
	f.StringVar(&a.RefCode, "ref", "", "referral code")
	f.StringVar(&a.UTMSource, "source", "", "utm_source")
	f.StringVar(&a.UTMMedium, "medium", "", "utm_medium")
	f.StringVar(&a.UTMCampaign, "campaign", "", "utm_campaign")
	f.StringVar(&a.Nonce, "nonce", "", "nonce (random when empty)")
	f.BoolVar(&noNonce, "no-nonce", false, "omit the nonce")
	f.Int64Var(&issuedAt, "ts", 0, "issue time in unix seconds (now when zero)")
	f.BoolVar(&noStamp, "no-ts", false, "omit the issue time so the token never expires")
	f.StringVar(&botName, "bot", "", "print a t.me deep link for this bot")
	return cmd
}
