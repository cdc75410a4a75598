package cmd

import (
	"github.com/juju/errors"
	"github.com/spf13/cobra"

	"github.com/spirius/gldeploy/pkg/bucket"
)

var bucketFlags struct {
	policy string
	all    bool
}

func flagBucketPolicy(cmd *cobra.Command) {
	cmd.Flags().StringVar(&bucketFlags.policy, "policy", "", "Lifecycle policy of bucket: None, SevenDaysLifecycle or ThirtyDaysLifecycle")
}

// bucketPolicy parses the policy flag. Config is used when
// the flag is not set.
func bucketPolicy() (bucket.Policy, error) {
	s := bucketFlags.policy
	if s == "" {
		s = core.Config.BucketPolicy
	}
	if s == "" {
		return bucket.None, nil
	}
	return bucket.ParsePolicy(s)
}

func bootstrap(args []string) (interface{}, error) {
	policy, err := bucketPolicy()
	if err != nil {
		return nil, errors.Trace(err)
	}
	var name string
	if len(args) > 0 {
		name = args[0]
	}
	res, err := core.Bootstrap(configFlags.profile, configFlags.region, name, policy)
	if err != nil {
		return nil, errors.Annotatef(err, "cannot bootstrap")
	}
	return newOutput(res), nil
}

func createBucket(name string) (interface{}, error) {
	policy, err := bucketPolicy()
	if err != nil {
		return nil, errors.Trace(err)
	}
	clients, err := core.Connect(configFlags.profile, configFlags.region)
	if err != nil {
		return nil, errors.Trace(err)
	}
	p := bucket.New(clients.S3, core.Regions)
	if err := p.CreateBucket(name, clients.Region); err != nil {
		return nil, errors.Annotatef(err, "cannot create bucket '%s'", name)
	}
	if err := p.PutLifecyclePolicy(name, policy); err != nil {
		return nil, errors.Annotatef(err, "cannot apply policy on bucket '%s'", name)
	}
	return newOutput(message(bucket.BucketURL(name, clients.Region))), nil
}

func init() {
	newCmd(rootCmd, &cobra.Command{
		Use:   "bootstrap [bucket-name]",
		Short: "Create bucket of artifacts and make it current",
		Long: `Create the bucket of deployment artifacts, apply its lifecycle
policy and store profile, region and bucket in settings.

Bucket name defaults to one derived from account id and region.`,
		Args: rangeArgs(0, 1),
	}, func(_ *cobra.Command, args []string) (interface{}, error) {
		return bootstrap(args)
	}, flagBucketPolicy)

	bucketCmd := newGroupCmd(rootCmd, "bucket", "Manage buckets")

	newCmd(bucketCmd, &cobra.Command{
		Use:   "create name",
		Short: "Create bucket",
		Args:  exactArgs(1),
	}, func(_ *cobra.Command, args []string) (interface{}, error) {
		return createBucket(args[0])
	}, flagBucketPolicy)

	newCmd(bucketCmd, &cobra.Command{
		Use:   "list",
		Short: "List buckets of region",
		Args:  exactArgs(0),
	}, func(_ *cobra.Command, _ []string) (interface{}, error) {
		clients, err := core.Connect(configFlags.profile, configFlags.region)
		if err != nil {
			return nil, errors.Trace(err)
		}
		filter := clients.Region
		if bucketFlags.all {
			filter = ""
		}
		names, err := bucket.New(clients.S3, core.Regions).ListBuckets(filter)
		if err != nil {
			return nil, errors.Annotatef(err, "cannot list buckets")
		}
		return newOutput(list(names)), nil
	}, func(cmd *cobra.Command) {
		cmd.Flags().BoolVar(&bucketFlags.all, "all", false, "List buckets of all regions")
	})

	newCmd(bucketCmd, &cobra.Command{
		Use:   "policy name",
		Short: "Apply lifecycle policy on bucket",
		Args:  exactArgs(1),
	}, func(_ *cobra.Command, args []string) (interface{}, error) {
		policy, err := bucketPolicy()
		if err != nil {
			return nil, errors.Trace(err)
		}
		p, err := core.Buckets(configFlags.profile, configFlags.region)
		if err != nil {
			return nil, errors.Trace(err)
		}
		if err := p.PutLifecyclePolicy(args[0], policy); err != nil {
			return nil, errors.Annotatef(err, "cannot apply policy on bucket '%s'", args[0])
		}
		return newOutput(message(policy.String())), nil
	}, flagBucketPolicy)

	newCmd(bucketCmd, &cobra.Command{
		Use:   "regions",
		Short: "List regions available for buckets",
		Args:  exactArgs(0),
	}, func(_ *cobra.Command, _ []string) (interface{}, error) {
		return newOutput(list(bucket.New(nil, core.Regions).ListAvailableRegions())), nil
	})

	newCmd(bucketCmd, &cobra.Command{
		Use:   "policies",
		Short: "List lifecycle policies",
		Args:  exactArgs(0),
	}, func(_ *cobra.Command, _ []string) (interface{}, error) {
		var names list
		for _, p := range bucket.New(nil, core.Regions).ListBucketPolicies() {
			names = append(names, p.String())
		}
		return newOutput(names), nil
	})
}
