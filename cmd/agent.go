/*
Copyright © 2026 Deutsche Telekom AG.
*/
package cmd

import (
	"fmt"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"
	"k8s.io/client-go/dynamic"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	metricsserver "sigs.k8s.io/controller-runtime/pkg/metrics/server"

	"github.com/telekom/kube-usage-agent/internal/system"
	"github.com/telekom/kube-usage-agent/pkg/agent"
	"github.com/telekom/kube-usage-agent/pkg/discovery"
	"github.com/telekom/kube-usage-agent/pkg/metrics"
	"github.com/telekom/kube-usage-agent/pkg/ownership"
	"github.com/telekom/kube-usage-agent/pkg/tracing"
)

var (
	pollInterval         time.Duration
	enableLeaderElection bool
	ownerFetchQPS        float64
	ownerFetchBurst      int
	tracingEnabled       bool
	tracingEndpoint      string
	tracingSamplingRate  float64
	tracingInsecure      bool
)

// agentCmd represents the agent command
var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run the polling agent",
	Long: `Run the polling agent. Every poll interval it lists pods, resolves their
top-level owners and publishes them. With leader election enabled only the
leader replica polls.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := validateAgentFlags(); err != nil {
			return err
		}

		setupLog.Info("starting agent")
		setupLog.Info("agent configuration",
			"pollInterval", pollInterval,
			"enableLeaderElection", enableLeaderElection,
			"ownerFetchQPS", ownerFetchQPS,
			"ownerFetchBurst", ownerFetchBurst,
			"tracingEnabled", tracingEnabled,
			"namespace", namespace,
		)

		ctx := ctrl.SetupSignalHandler()

		tracingProvider, err := tracing.Setup(ctx, tracingConfig(), system.Version)
		if err != nil {
			return fmt.Errorf("unable to set up tracing: %w", err)
		}
		defer func() {
			if err := tracingProvider.Shutdown(ctx); err != nil {
				setupLog.Error(err, "failed to shut down tracing provider")
			}
		}()
		tracer := tracingProvider.Tracer()

		restConfig, err := ctrl.GetConfig()
		if err != nil {
			return pkgerrors.Wrap(err, "unable to load kubeconfig")
		}

		mgr, err := ctrl.NewManager(restConfig, ctrl.Options{
			Scheme: scheme,
			Metrics: metricsserver.Options{
				BindAddress: metricsAddr,
			},
			LeaderElection:         enableLeaderElection,
			LeaderElectionID:       "kube-usage-agent.telekom.com",
			HealthProbeBindAddress: probeAddr,
		})
		if err != nil {
			return pkgerrors.Wrap(err, "unable to start manager")
		}

		dynamicClient, err := dynamic.NewForConfig(mgr.GetConfig())
		if err != nil {
			return fmt.Errorf("unable to create dynamic client: %w", err)
		}
		collector, err := discovery.NewCollectorForConfig(mgr.GetConfig())
		if err != nil {
			return err
		}
		collector.WithTracer(tracer)

		resolverOpts := []ownership.Option{ownership.WithTracer(tracer)}
		if ownerFetchQPS > 0 {
			resolverOpts = append(resolverOpts,
				ownership.WithFetchLimiter(rate.NewLimiter(rate.Limit(ownerFetchQPS), ownerFetchBurst)))
		}
		resolver := ownership.NewResolver(dynamicClient, collector, resolverOpts...)

		// The API reader bypasses the informer cache, so pods are not watched
		// between polls.
		poller := agent.NewPoller(mgr.GetAPIReader(), resolver,
			agent.WithInterval(pollInterval),
			agent.WithNamespace(namespace),
			agent.WithSinks(agent.LogSink{}, agent.NewPrometheusSink(metrics.PodOwnerInfo)),
			agent.WithTracer(tracer),
		)
		if err := mgr.Add(poller); err != nil {
			return pkgerrors.Wrap(err, "unable to add poller to manager")
		}

		if err := mgr.AddHealthzCheck("healthz", healthz.Ping); err != nil {
			return fmt.Errorf("unable to set up health check: %w", err)
		}
		if err := mgr.AddReadyzCheck("readyz", healthz.Ping); err != nil {
			return fmt.Errorf("unable to set up ready check: %w", err)
		}

		setupLog.Info("starting manager")
		if err := mgr.Start(ctx); err != nil {
			return fmt.Errorf("problem running manager: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(agentCmd)

	agentCmd.Flags().DurationVar(&pollInterval, "poll-interval", agent.DefaultInterval, "Interval between two polling cycles.")
	agentCmd.Flags().BoolVar(&enableLeaderElection, "leader-elect", false, "Enable leader election for the agent. "+"Enabling this will ensure there is only one active poller.")
	agentCmd.Flags().Float64Var(&ownerFetchQPS, "owner-fetch-qps", 20, "Maximum rate of owner object reads per second. Use 0 to disable rate limiting.")
	agentCmd.Flags().IntVar(&ownerFetchBurst, "owner-fetch-burst", 40, "Burst of owner object reads allowed above owner-fetch-qps.")
	agentCmd.Flags().BoolVar(&tracingEnabled, "tracing-enabled", false, "Enable OpenTelemetry tracing.")
	agentCmd.Flags().StringVar(&tracingEndpoint, "tracing-endpoint", "", "OTLP gRPC collector endpoint, e.g. otel-collector:4317.")
	agentCmd.Flags().Float64Var(&tracingSamplingRate, "tracing-sampling-rate", 1.0, "Ratio of traces to sample (0.0 to 1.0).")
	agentCmd.Flags().BoolVar(&tracingInsecure, "tracing-insecure", false, "Disable TLS for the OTLP exporter connection.")
}

func tracingConfig() tracing.Config {
	return tracing.Config{
		Enabled:      tracingEnabled,
		Endpoint:     tracingEndpoint,
		SamplingRate: tracingSamplingRate,
		Insecure:     tracingInsecure,
	}
}

// validateAgentFlags rejects flag combinations before anything connects to
// the cluster.
func validateAgentFlags() error {
	if pollInterval <= 0 {
		return fmt.Errorf("--poll-interval must be positive, got %s", pollInterval)
	}
	if ownerFetchQPS < 0 {
		return fmt.Errorf("--owner-fetch-qps must not be negative, got %v", ownerFetchQPS)
	}
	if ownerFetchBurst < 0 {
		return fmt.Errorf("--owner-fetch-burst must not be negative, got %d", ownerFetchBurst)
	}
	if ownerFetchQPS > 0 && ownerFetchBurst == 0 {
		return fmt.Errorf("--owner-fetch-burst must be at least 1 when --owner-fetch-qps is set")
	}
	if err := tracingConfig().Validate(); err != nil {
		return fmt.Errorf("invalid tracing flags: %w", err)
	}
	return nil
}
