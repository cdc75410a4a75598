package cmd

import (
	"github.com/juju/errors"
	"github.com/spf13/cobra"
)

func getSettings(args []string) (interface{}, error) {
	keys := args
	if len(keys) == 0 {
		var err error
		if keys, err = core.Settings.Keys(); err != nil {
			return nil, errors.Annotatef(err, "cannot read settings")
		}
	}
	res := make(settingList, 0, len(keys))
	for _, k := range keys {
		v, err := core.Settings.Get(k)
		if err != nil {
			return nil, errors.Annotatef(err, "cannot read setting '%s'", k)
		}
		res = append(res, setting{k, v})
	}
	return newOutput(res), nil
}

func init() {
	settingsCmd := newGroupCmd(rootCmd, "settings", "Manage settings")

	newCmd(settingsCmd, &cobra.Command{
		Use:   "get [key]",
		Short: "Show settings",
		Long:  `Show value of key, or all settings if key is not specified.`,
		Args:  rangeArgs(0, 1),
	}, func(_ *cobra.Command, args []string) (interface{}, error) {
		return getSettings(args)
	})

	newCmd(settingsCmd, &cobra.Command{
		Use:   "put key value",
		Short: "Set value of key",
		Args:  exactArgs(2),
	}, func(_ *cobra.Command, args []string) (interface{}, error) {
		if err := core.Settings.Put(args[0], args[1]); err != nil {
			return nil, errors.Annotatef(err, "cannot put setting '%s'", args[0])
		}
		return nil, nil
	})

	newCmd(settingsCmd, &cobra.Command{
		Use:   "clear key",
		Short: "Remove key",
		Args:  exactArgs(1),
	}, func(_ *cobra.Command, args []string) (interface{}, error) {
		if err := core.Settings.Clear(args[0]); err != nil {
			return nil, errors.Annotatef(err, "cannot clear setting '%s'", args[0])
		}
		return nil, nil
	})
}
