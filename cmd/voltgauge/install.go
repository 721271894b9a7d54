package main

import (
	"fmt"
	"os"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/charlie0129/voltgauge/pkg/config"
	daemonutils "github.com/charlie0129/voltgauge/pkg/utils/daemon"
)

// NewInstallCommand .
func NewInstallCommand() *cobra.Command {
	allowNonRootAccess := false
	enableDBus := false

	cmd := &cobra.Command{
		Use:     "install",
		Short:   "Install voltgauge (system-wide)",
		GroupID: gInstallation,
		Long: `Install voltgauge daemon as a systemd service (system-wide).

This makes voltgauge run in the background and automatically start on boot. You must run this command as root.

By default, only root user is allowed to access the voltgauge daemon. If you want to allow non-root users to access the daemon, use the --allow-non-root-access flag.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, err := config.NewFile(configPath)
			if err != nil {
				return err
			}
			if err := conf.Validate(); err != nil {
				return err
			}

			conf.SetAllowNonRootAccess(allowNonRootAccess)
			conf.SetDBus(enableDBus)
			if allowNonRootAccess {
				logrus.Info("non-root users are allowed to access the voltgauge daemon.")
			} else {
				logrus.Info("only root user is allowed to access the voltgauge daemon.")
			}

			err = conf.Save()
			if err != nil {
				return pkgerrors.Wrapf(err, "failed to save config")
			}

			err = daemonutils.Install(configPath, unixSocketPath)
			if err != nil {
				// check if current user is root
				if os.Geteuid() != 0 {
					logrus.Errorf("you must run this command as root")
				}
				return fmt.Errorf("failed to install daemon: %v. Are you root?", err)
			}

			logrus.Infof("installation succeeded")

			exePath, _ := os.Executable()

			cmd.Printf("systemd will use current binary (%s) at startup so please make sure you do not move this binary. Once this binary is moved or deleted, you will need to run `voltgauge install' again.\n", exePath)

			return nil
		},
	}

	cmd.Flags().BoolVar(&allowNonRootAccess, "allow-non-root-access", false, "Allow non-root users to access voltgauge daemon.")
	cmd.Flags().BoolVar(&enableDBus, "dbus", false, "Expose the daemon on the D-Bus system bus.")

	return cmd
}

// NewUninstallCommand .
func NewUninstallCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "uninstall",
		Short:   "Uninstall voltgauge (system-wide)",
		GroupID: gInstallation,
		Long: `Uninstall voltgauge daemon from systemd (system-wide).

This stops voltgauge and removes its unit file.

You must run this command as root.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			err := daemonutils.Uninstall()
			if err != nil {
				// check if current user is root
				if os.Geteuid() != 0 {
					logrus.Errorf("you must run this command as root")
				}
				return fmt.Errorf("failed to uninstall daemon: %v", err)
			}

			fmt.Println("successfully uninstalled")

			cmd.Printf("Your config is kept in %s, in case you want to use `voltgauge' again. If you want a complete uninstall, you can remove both config file and voltgauge itself manually.\n", configPath)

			return nil
		},
	}

	return cmd
}
