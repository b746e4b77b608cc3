package cli

import (
	"context"
	"flag"
	"fmt"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/platinummonkey/shopadmin/pkg/auth"
	"github.com/platinummonkey/shopadmin/pkg/client"
	"github.com/platinummonkey/shopadmin/pkg/config"
)

func newTokenCommand() *Command {
	return newCommand("token", "Mint a development bearer token", func(fs *flag.FlagSet) func() error {
		authCfg := config.AuthFromEnv()
		secret := fs.String("secret", authCfg.DevSecret, "HMAC secret shared with the server")
		issuer := fs.String("issuer", authCfg.DevIssuer, "token issuer")
		subject := fs.String("subject", "", "user id placed in the sub claim")
		username := fs.String("username", "", "username claim (default: subject)")
		roles := fs.String("roles", "", "comma-separated role ids")
		ttl := fs.Duration("ttl", time.Hour, "token lifetime")
		return func() error {
			if *subject == "" {
				return fmt.Errorf("-subject is required")
			}
			if *username == "" {
				*username = *subject
			}
			v, err := auth.NewHMACVerifier(*secret, *issuer)
			if err != nil {
				return err
			}
			token, err := v.Mint(*subject, *username, splitList(*roles), *ttl)
			if err != nil {
				return err
			}
			logger.WithField("subject", *subject).Debug("minted token")
			fmt.Fprintln(out, token)
			return nil
		}
	})
}

type apiOptions struct {
	baseURL      string
	token        string
	timeout      time.Duration
	retries      int
	clientID     string
	clientSecret string
	tokenURL     string
}

func addAPIFlags(fs *flag.FlagSet) *apiOptions {
	o := &apiOptions{}
	fs.StringVar(&o.baseURL, "api", getEnv("SHOPADMIN_API_URL", "http://localhost:8080"), "API base URL")
	fs.StringVar(&o.token, "token", getEnv("SHOPADMIN_TOKEN", ""), "bearer token")
	fs.DurationVar(&o.timeout, "timeout", 30*time.Second, "request timeout")
	fs.IntVar(&o.retries, "retries", 2, "retries on server errors")
	fs.StringVar(&o.clientID, "client-id", getEnv("SHOPADMIN_CLIENT_ID", ""), "OAuth2 client id for the client credentials flow")
	fs.StringVar(&o.clientSecret, "client-secret", getEnv("SHOPADMIN_CLIENT_SECRET", ""), "OAuth2 client secret")
	fs.StringVar(&o.tokenURL, "token-url", getEnv("SHOPADMIN_TOKEN_URL", ""), "OAuth2 token endpoint")
	return o
}

func (o *apiOptions) client(ctx context.Context) (*client.Client, error) {
	cfg := client.Config{
		BaseURL: o.baseURL,
		Timeout: o.timeout,
		Retries: o.retries,
		Token:   o.token,
	}
	if o.clientID != "" {
		if o.tokenURL == "" {
			return nil, fmt.Errorf("-token-url is required with -client-id")
		}
		cfg.ClientCredentials = &clientcredentials.Config{
			ClientID:     o.clientID,
			ClientSecret: o.clientSecret,
			TokenURL:     o.tokenURL,
		}
	}
	return client.New(ctx, cfg)
}

func newRatingCommand() *Command {
	return newCommand("rating", "Rate a product through the API", func(fs *flag.FlagSet) func() error {
		opts := addAPIFlags(fs)
		product := fs.String("product", "", "product id")
		stars := fs.Int("stars", 0, "stars, 1 to 5")
		comment := fs.String("comment", "", "optional comment")
		return func() error {
			if *product == "" {
				return fmt.Errorf("-product is required")
			}
			ctx := context.Background()
			c, err := opts.client(ctx)
			if err != nil {
				return err
			}
			rating, err := c.CreateRating(ctx, *product, *stars, *comment)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "rating %s: %d stars on %s\n", rating.ID, rating.Stars, rating.ProductID)
			return nil
		}
	})
}

func newAverageCommand() *Command {
	return newCommand("average", "Print a product's average rating", func(fs *flag.FlagSet) func() error {
		opts := addAPIFlags(fs)
		product := fs.String("product", "", "product id")
		return func() error {
			if *product == "" {
				return fmt.Errorf("-product is required")
			}
			ctx := context.Background()
			c, err := opts.client(ctx)
			if err != nil {
				return err
			}
			avg, err := c.GetAverageRating(ctx, *product)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s: %.2f from %d ratings\n", avg.ProductID, avg.AverageRating, avg.Count)
			return nil
		}
	})
}
