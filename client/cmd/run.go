package cmd

import (
	"context"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/updraftio/updraft/client/internal/telemetry"
	"github.com/updraftio/updraft/client/internal/updater"
	"github.com/updraftio/updraft/client/internal/worker/hostworker"
	"github.com/updraftio/updraft/util"
)

// restartExitCode tells the supervisor to restart the session so it
// boots from the freshly promoted bundle.
const restartExitCode = 3

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "runs the updraft session agent",
	RunE:  runSession,
}

func init() {
	runCmd.PersistentFlags().StringVarP(&deploymentURL, "deployment-url", "u", "", "base URL of the deployment serving version.json and the worker script")
	runCmd.PersistentFlags().StringVar(&workerScript, "worker-script", updater.DefaultWorkerScriptPath, "worker script path relative to the deployment URL")
	runCmd.PersistentFlags().StringVarP(&sessionDir, "session-dir", "d", "", "directory holding the current and staged bundles")
	runCmd.PersistentFlags().BoolVar(&autoReload, "auto-reload", false, "restart the session as soon as an update is available instead of waiting for an explicit reload")
}

func runSession(cmd *cobra.Command, args []string) error {
	SetFlagsFromEnvVars(rootCmd)
	SetFlagsFromEnvVars(cmd)

	if err := util.InitLog(logLevel, logFile); err != nil {
		return err
	}

	cfg, err := updater.ReadConfig(configPath)
	if err != nil {
		return err
	}
	if deploymentURL != "" {
		cfg.DeploymentURL = deploymentURL
	}
	if workerScript != "" {
		cfg.WorkerScriptPath = workerScript
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if sessionDir == "" {
		sessionDir, err = os.MkdirTemp("", "updraft-session-*")
		if err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	SetupCloseHandler(ctx, cancel)

	host := hostworker.New(cfg.DeploymentURL, sessionDir)
	defer host.Close()

	manager := updater.NewManager(cfg, host, telemetry.LogReporter{}, restartSession)
	manager.AddListener(func(needsUpdate bool) {
		if !needsUpdate {
			return
		}
		log.Infof("a newer version is available, run a reload to switch to it")
		if autoReload {
			manager.ReloadNow(ctx)
		}
	})

	log.Infof("updraft session agent started against %s", cfg.DeploymentURL)
	manager.Start(ctx)

	<-ctx.Done()
	manager.Stop()
	return nil
}

func restartSession() {
	log.Warnf("restarting session to activate the new version")
	os.Exit(restartExitCode)
}
