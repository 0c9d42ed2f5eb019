package cmd

import (
	"errors"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"

	"github.com/lightwatch/lightwatch/cli/pkg/output"
)

type tokenResult struct {
	Token     string     `json:"token" yaml:"token"`
	Subject   string     `json:"subject" yaml:"subject"`
	IssuedAt  time.Time  `json:"issued_at" yaml:"issued_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty" yaml:"expires_at,omitempty"`
}

// mintToken signs an HS256 token for sub. A non-positive ttl omits exp.
func mintToken(secret, sub string, ttl time.Duration, now time.Time) (tokenResult, error) {
	claims := jwt.MapClaims{
		"sub": sub,
		"iat": now.Unix(),
	}
	res := tokenResult{Subject: sub, IssuedAt: now.UTC().Truncate(time.Second)}
	if ttl > 0 {
		exp := now.Add(ttl).UTC().Truncate(time.Second)
		claims["exp"] = exp.Unix()
		res.ExpiresAt = &exp
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return tokenResult{}, err
	}
	res.Token = signed
	return res, nil
}

func newTokenCmd(a *app) *cobra.Command {
	var (
		secret string
		sub    string
		ttl    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an HS256 access token",
		Long: `Mint an HS256 token accepted by the ingest and realtime services.
The secret must match their auth.jwt_secret. LWCTL_JWT_SECRET is used when
--secret is not given.`,
		Example: `  lwctl token --secret "$SECRET" --sub ops --ttl 1h
  export LWCTL_TOKEN=$(lwctl token --sub dashboard --ttl 24h)`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if secret == "" {
				secret = os.Getenv("LWCTL_JWT_SECRET")
			}
			if secret == "" {
				return errors.New("a signing secret is required (use --secret or LWCTL_JWT_SECRET)")
			}

			res, err := mintToken(secret, sub, ttl, time.Now())
			if err != nil {
				return err
			}

			// Plain table output is just the token so it can be captured by a shell.
			if a.format == output.FormatTable {
				_, err := output.Stdout.Write([]byte(res.Token + "\n"))
				return err
			}
			return output.Print(a.format, res, nil)
		},
	}

	cmd.Flags().StringVar(&secret, "secret", "", "HS256 signing secret")
	cmd.Flags().StringVar(&sub, "sub", "lwctl", "subject claim")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "lifetime; 0 issues a token without expiry")
	return cmd
}
