package cmd

import (
	"github.com/juju/errors"
	"github.com/spf13/cobra"
)

var profileFlags struct {
	accessKey string
	secretKey string
}

func flagProfileKeys(cmd *cobra.Command) {
	cmd.Flags().StringVar(&profileFlags.accessKey, "access-key", "", "AWS access key, asked if not specified")
	cmd.Flags().StringVar(&profileFlags.secretKey, "secret-key", "", "AWS secret key, asked if not specified")
}

// profileKeys returns keys from flags, asking for the missing ones.
func profileKeys() (string, string, error) {
	accessKey, secretKey := profileFlags.accessKey, profileFlags.secretKey
	var err error
	if accessKey == "" {
		if accessKey, err = readValue("Access key", false); err != nil {
			return "", "", errors.Trace(err)
		}
	}
	if secretKey == "" {
		if secretKey, err = readValue("Secret key", true); err != nil {
			return "", "", errors.Trace(err)
		}
	}
	return accessKey, secretKey, nil
}

func init() {
	profileCmd := newGroupCmd(rootCmd, "profile", "Manage AWS credentials profiles")

	newCmd(profileCmd, &cobra.Command{
		Use:   "save name",
		Short: "Save new profile",
		Args:  exactArgs(1),
	}, func(_ *cobra.Command, args []string) (interface{}, error) {
		accessKey, secretKey, err := profileKeys()
		if err != nil {
			return nil, err
		}
		if err := core.Credentials.Save(args[0], accessKey, secretKey); err != nil {
			return nil, errors.Annotatef(err, "cannot save profile '%s'", args[0])
		}
		return newOutput(message("profile " + args[0] + " saved")), nil
	}, flagProfileKeys)

	newCmd(profileCmd, &cobra.Command{
		Use:   "update name",
		Short: "Update keys of existing profile",
		Args:  exactArgs(1),
	}, func(_ *cobra.Command, args []string) (interface{}, error) {
		accessKey, secretKey, err := profileKeys()
		if err != nil {
			return nil, err
		}
		if err := core.Credentials.Update(args[0], accessKey, secretKey); err != nil {
			return nil, errors.Annotatef(err, "cannot update profile '%s'", args[0])
		}
		return newOutput(message("profile " + args[0] + " updated")), nil
	}, flagProfileKeys)

	newCmd(profileCmd, &cobra.Command{
		Use:   "show name",
		Short: "Show profile",
		Args:  exactArgs(1),
	}, func(_ *cobra.Command, args []string) (interface{}, error) {
		p, err := core.Credentials.Retrieve(args[0])
		if err != nil {
			return nil, errors.Annotatef(err, "cannot read profile '%s'", args[0])
		}
		return newOutput(p), nil
	})

	newCmd(profileCmd, &cobra.Command{
		Use:   "list",
		Short: "List profiles",
		Args:  exactArgs(0),
	}, func(_ *cobra.Command, _ []string) (interface{}, error) {
		return newOutput(list(core.Credentials.ListProfiles())), nil
	})
}
