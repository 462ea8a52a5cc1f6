package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/costinm/gkekube"
	"github.com/costinm/gkekube/gcp"
	"github.com/spf13/cobra"
)

// gke-kubeconfig prints a kube config for a GKE cluster, using a service
// account key file. Equivalent to:
//
//	gcloud auth activate-service-account --key-file=KEY
//	gcloud container clusters get-credentials CLUSTER --zone=ZONE
//
// but without gcloud or writing ~/.kube/config. Logs go to stderr, the
// document to stdout.
func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// generateFunc does the actual work once arguments are parsed.
type generateFunc func(ctx context.Context, cfg *gkekube.Config, out io.Writer) error

func run(args []string, stdout, stderr io.Writer) int {
	// Until InitLogging, so argument errors are logged to stderr too.
	slog.SetDefault(slog.New(slog.NewTextHandler(stderr, nil)))

	cmd := newRootCmd(generate)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		category := "unknown"
		if c := gkekube.Category(err); c != nil {
			category = c.Error()
		}
		slog.Error("Failed to generate kube config", "category", category, "err", err)
		return 1
	}
	return 0
}

func newRootCmd(generate generateFunc) *cobra.Command {
	cfg := &gkekube.Config{}

	cmd := &cobra.Command{
		Use:           "gke-kubeconfig <cluster> <zone> <credentials_file>",
		Short:         "Generate kubeconfig programmatically",
		Long:          "Generate a kubeconfig for a GKE cluster using a service account credentials file. The document is printed to stdout.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args: func(cmd *cobra.Command, args []string) error {
			return gkekube.Wrap(gkekube.ErrArguments, cobra.ExactArgs(3)(cmd, args), cmd.UseLine())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.ClusterName = args[0]
			cfg.Zone = args[1]
			cfg.CredentialsFile = args[2]
			if err := cfg.Validate(); err != nil {
				return err
			}

			// Explicit init - nothing is logged before the level is known.
			gkekube.InitLogging(cmd.ErrOrStderr(), cfg.Debug)

			ctx := cmd.Context()
			if cfg.Timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
				defer cancel()
			}
			return generate(ctx, cfg, cmd.OutOrStdout())
		},
	}
	cmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return gkekube.Wrap(gkekube.ErrArguments, err, cmd.UseLine())
	})

	flags := cmd.Flags()
	flags.BoolVar(&cfg.Debug, "debug", false, "Set logging to debug level")
	flags.BoolVar(&cfg.Verify, "verify", false, "Connect to the cluster with the generated config before printing it")
	flags.DurationVar(&cfg.Timeout, "timeout", 0, "Timeout for the API calls, 0 for none")
	flags.StringVar(&cfg.Endpoint, "endpoint", "", "ClusterManager API endpoint override (host:port), for private endpoints or emulators")
	flags.BoolVar(&cfg.Insecure, "insecure", false, "Use plaintext gRPC to --endpoint (emulators)")

	return cmd
}

// generate fetches the cluster and writes the kube config to out.
// Nothing is written unless the whole document is ready.
func generate(ctx context.Context, cfg *gkekube.Config, out io.Writer) error {
	gke, err := gcp.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer gke.Close()

	kc, err := gke.KubeConfig(ctx)
	if err != nil {
		return err
	}

	if cfg.Verify {
		if err := gke.Verify(ctx, kc); err != nil {
			return err
		}
	}

	buf := &bytes.Buffer{}
	if err := gkekube.WriteKubeConfig(buf, kc); err != nil {
		return err
	}
	_, err = out.Write(buf.Bytes())
	return err
}
