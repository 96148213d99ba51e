/*
Copyright © 2026 Deutsche Telekom AG.
*/
package cmd

import (
	"flag"
	"fmt"
	"os"
	"regexp"
	"strconv"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"k8s.io/klog/v2"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/telekom/kube-usage-agent/internal/system"
)

var (
	setupLog    logr.Logger
	scheme      *runtime.Scheme
	verbosity   int
	probeAddr   string
	metricsAddr string
	namespace   string
)

// sensitivePattern matches flag names whose values must not appear in logs.
var sensitivePattern = regexp.MustCompile(`(?i)(token|secret|password|passphrase|key|auth|credential|private|cert|bearer|client[-_]id)`)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "kube-usage-agent",
	Short: "Tags Kubernetes pods with their top-level owning workloads",
	Long: `kube-usage-agent periodically lists the pods of a cluster, walks their
ownerReferences up to the top-level owners (for example Pod -> ReplicaSet ->
Deployment) and publishes the result as structured logs and Prometheus metrics.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := flag.Set("v", strconv.Itoa(verbosity)); err != nil {
			return fmt.Errorf("unable to set log verbosity: %w", err)
		}
		ctrl.SetLogger(klog.NewKlogr())
		log := klog.NewKlogr()
		log.Info("app info", "name", system.Name, "version", system.Version, "commit", system.Commit)
		log.V(2).Info("process flags", "flags", redactSensitiveFlags(cmd))
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	setupLog = ctrl.Log.WithName("setup")
	klog.InitFlags(nil)
	cobra.OnInitialize(initScheme)

	rootCmd.PersistentFlags().StringVar(&namespace, "namespace", os.Getenv("WATCH_NAMESPACE"), "Only observe pods in this namespace. Empty means all namespaces.")
	rootCmd.PersistentFlags().IntVarP(&verbosity, "verbosity", "v", 2, "Log level (0-9)")
	rootCmd.PersistentFlags().StringVar(&probeAddr, "health-probe-bind-address", ":8081", "The address the probe endpoint binds to.")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-bind-address", ":8080", "The address the metric endpoint binds to. Use 0 to disable the metrics server.")
}

func initScheme() {
	scheme = runtime.NewScheme()
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))
}

// redactSensitiveFlags returns the values of all process flags, the klog
// flags and the command's own and inherited flags, with values of flags
// matching sensitivePattern replaced.
func redactSensitiveFlags(cmd *cobra.Command) map[string]string {
	result := make(map[string]string)
	record := func(name, value string) {
		if sensitivePattern.MatchString(name) {
			result[name] = "[REDACTED]"
			return
		}
		result[name] = value
	}

	flag.VisitAll(func(f *flag.Flag) {
		record(f.Name, f.Value.String())
	})
	if cmd == nil {
		return result
	}
	visit := func(f *pflag.Flag) {
		record(f.Name, f.Value.String())
	}
	cmd.InheritedFlags().VisitAll(visit)
	cmd.Flags().VisitAll(visit)
	return result
}
