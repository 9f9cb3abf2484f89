// Command dnsq resolves host names using the adns asynchronous resolver.
//
// Usage:
//
//	dnsq <host> [<host>...]     - Resolve one or more host names
//	dnsq version                - Show version information
//
// Examples:
//
//	dnsq example.com                       - Resolve via the system resolver
//	dnsq -s 1.1.1.1 example.com golang.org - Resolve via a specific server
//	dnsq -t 2s -4 example.com              - IPv4 only, 2 second timeout
//
// Without -s, the nameserver comes from ~/.dnsq/config.yaml or, failing
// that, from /etc/resolv.conf.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/lc/adns"
	"github.com/lc/adns/internal/buildinfo"
	"github.com/lc/adns/internal/config"
)

func main() {
	cfg, err := config.New().Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	var (
		serverFlag  string
		timeoutFlag time.Duration
		ipv4Flag    bool
	)

	root := &cobra.Command{
		Use:   "dnsq <host> [<host>...]",
		Short: "Asynchronous DNS lookup tool",
		Long: `dnsq resolves host names over raw DNS/UDP using the adns engine.
All names are resolved concurrently over a single socket.`,
		Example: "dnsq -s 1.1.1.1 example.com golang.org",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if serverFlag == "" {
				serverFlag = cfg.Nameserver
			}
			if timeoutFlag == 0 {
				timeoutFlag = cfg.Timeout
			}
			return run(args, serverFlag, timeoutFlag, ipv4Flag || cfg.IPv4Only)
		},
	}
	root.Flags().StringVarP(&serverFlag, "server", "s", "", "DNS server (ip or ip:port; default: system resolver)")
	root.Flags().DurationVarP(&timeoutFlag, "timeout", "t", 0, "per-query timeout")
	root.Flags().BoolVarP(&ipv4Flag, "ipv4", "4", false, "query A records only, skip AAAA")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("version: %s\n", buildinfo.Version)
			fmt.Printf("commit: %s\n", buildinfo.Commit)
		},
	}
	root.AddCommand(versionCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

type row struct {
	host    string
	outcome adns.Outcome
	addr    string
}

func run(hosts []string, server string, timeout time.Duration, ipv4 bool) error {
	var opts []adns.Option
	if ipv4 {
		opts = append(opts, adns.IPv4Only())
	}
	svc := adns.New(opts...)
	defer svc.Shutdown()

	var resolveOpts []adns.ResolveOption
	if server != "" {
		addr, err := config.ParseServer(server)
		if err != nil {
			return err
		}
		resolveOpts = append(resolveOpts, adns.WithServer(addr))
	}

	var (
		mu   sync.Mutex
		rows = make([]row, len(hosts))
		errs error
	)

	grp, ctx := errgroup.WithContext(context.Background())
	for i, host := range hosts {
		i, host := i, host
		grp.Go(func() error {
			addr, err := svc.LookupHost(ctx, host, timeout, resolveOpts...)
			mu.Lock()
			defer mu.Unlock()

			r := row{host: host, outcome: adns.OutcomeResolved, addr: addr.String()}
			if err != nil {
				r.addr = "-"
				r.outcome = outcomeOf(err)
				errs = multierr.Append(errs, fmt.Errorf("%s: %w", host, err))
			}
			rows[i] = r
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		errs = multierr.Append(errs, err)
	}

	render(rows)
	return errs
}

func outcomeOf(err error) adns.Outcome {
	switch err {
	case adns.ErrNoSuchHost:
		return adns.OutcomeNoSuchHost
	case adns.ErrTimeout:
		return adns.OutcomeTimeout
	case adns.ErrProtocolError:
		return adns.OutcomeProtocolError
	default:
		return adns.OutcomeError
	}
}

func render(rows []row) {
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Host", "Outcome", "Address"})
	table.SetBorder(false)
	for _, r := range rows {
		outcome := green(r.outcome.String())
		if r.outcome != adns.OutcomeResolved {
			outcome = red(r.outcome.String())
		}
		table.Append([]string{r.host, outcome, r.addr})
	}
	table.Render()
}
