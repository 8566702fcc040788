package commands

import (
	"fmt"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/cobra"

	"shopsavr-agent/internal/detector"
	"shopsavr-agent/internal/page/htmlpage"
)

func init() {
	rootCmd.AddCommand(resolveCmd)
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <url>",
	Short: "Fetch a page and report which site profile handles it and what it finds.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		registry, err := detector.Default(cfg.Automation.ApplySearchDepth, cfg.SiteProfiles()...)
		if err != nil {
			return err
		}

		// A bare client: the backend token must not reach the shop.
		client := resty.New().SetTimeout(cfg.Backend.RequestTimeout())
		if cfg.Backend.UserAgent != "" {
			client.SetHeader("User-Agent", cfg.Backend.UserAgent)
		}

		url := args[0]
		prof := registry.ResolveURL(url)
		doc, err := htmlpage.Fetch(cmd.Context(), client, url)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "profile:   %s\n", prof.Name())
		fmt.Fprintf(w, "checkout:  %t (url match %t)\n", detector.LooksLikeCheckout(prof, doc), prof.IsCheckoutPage(url))

		field, ok := prof.LocateDiscountField(doc)
		if !ok {
			fmt.Fprintln(w, "discount:  not found")
		} else {
			fmt.Fprintf(w, "discount:  <%s name=%q id=%q>\n", field.Tag(), field.Attr("name"), field.Attr("id"))
			if ctl, ok := prof.LocateApplyControl(doc, field); ok {
				fmt.Fprintf(w, "apply:     <%s> %q\n", ctl.Tag(), ctl.Text())
			} else {
				fmt.Fprintln(w, "apply:     not found")
			}
		}
		if total, ok := prof.ExtractOrderTotal(doc); ok {
			fmt.Fprintf(w, "total:     %.2f\n", total)
		}
		return nil
	},
}
