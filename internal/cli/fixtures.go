package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/wesleyorama2/storeload/internal/storefront"
)

type fixturesOptions struct {
	Host         string
	ClientID     string
	ClientSecret string
	Limit        int
	Out          string
	Timeout      time.Duration
	Quiet        bool
}

func newFixturesCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fixtures",
		Short: "Collect catalog fixtures from the shop's admin API",
		Long: `Crawl listings, products, search keywords, properties, salutations and
countries through the admin API and write them to a fixtures file for
"storeload run".

  STORELOAD_CLIENT_SECRET=... storeload fixtures --host https://shop.example.com \
    --client-id SWIA... --out fixtures.json`,
		Args:    cobra.NoArgs,
		PreRunE: bindFlags(v),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := fixturesOptions{
				Host:         v.GetString("host"),
				ClientID:     v.GetString("client-id"),
				ClientSecret: v.GetString("client-secret"),
				Limit:        v.GetInt("limit"),
				Out:          v.GetString("out"),
				Timeout:      v.GetDuration("timeout"),
				Quiet:        v.GetBool("quiet"),
			}
			return collectFixtures(cmd.Context(), opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	flags := cmd.Flags()
	flags.String("host", "", "Shop base URL serving /api")
	flags.String("client-id", "", "Integration access key ID")
	flags.String("client-secret", "", "Integration secret access key")
	flags.Int("limit", 100, "Maximum entries collected per fixture kind")
	flags.String("out", "fixtures.json", "Fixtures file to write")
	flags.Duration("timeout", 30*time.Second, "Admin API request timeout")
	flags.BoolP("quiet", "q", false, "Disable the progress bar")
	return cmd
}

func collectFixtures(ctx context.Context, opts fixturesOptions, stdout, stderr io.Writer) error {
	if opts.Host == "" {
		return errors.New("--host is required")
	}
	if opts.ClientID == "" || opts.ClientSecret == "" {
		return errors.New("--client-id and --client-secret are required")
	}

	api := storefront.NewAPI(opts.Host, opts.ClientID, opts.ClientSecret, &http.Client{Timeout: opts.Timeout})

	var progress func()
	if !opts.Quiet {
		bar := newFixturesBar(stderr)
		defer func() { _ = bar.Finish() }()
		progress = func() { _ = bar.Add(1) }
	}

	fixtures, err := api.BuildContext(ctx, opts.Limit, progress)
	if err != nil {
		return fmt.Errorf("failed to collect fixtures: %w", err)
	}
	if err := fixtures.Save(opts.Out); err != nil {
		return err
	}

	fmt.Fprintf(stdout, "Wrote %s: %d listings, %d products, %d keywords\n",
		opts.Out, len(fixtures.Listings), len(fixtures.Products), len(fixtures.Keywords))
	return nil
}

func newFixturesBar(w io.Writer) *progressbar.ProgressBar {
	return progressbar.NewOptions(storefront.BuildSteps,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("Collecting fixtures"),
		progressbar.OptionSetWidth(30),
		progressbar.OptionShowCount(),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "│",
			BarEnd:        "│",
		}),
		progressbar.OptionOnCompletion(func() { fmt.Fprintln(w) }),
	)
}
