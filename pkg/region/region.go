// Package region provides the catalog of supported AWS regions.
package region

import (
	"fmt"

	"github.com/aws/aws-sdk-go/aws/endpoints"
)

// DefaultRegions are the regions where GameLift deployments are supported.
var DefaultRegions = []string{
	endpoints.UsEast2RegionID,
	endpoints.UsEast1RegionID,
	endpoints.UsWest1RegionID,
	endpoints.UsWest2RegionID,
	endpoints.ApSouth1RegionID,
	endpoints.ApNortheast2RegionID,
	endpoints.ApSoutheast1RegionID,
	endpoints.ApSoutheast2RegionID,
	endpoints.ApNortheast1RegionID,
	endpoints.CaCentral1RegionID,
	endpoints.CnNorth1RegionID,
	endpoints.EuCentral1RegionID,
	endpoints.EuWest1RegionID,
	endpoints.EuWest2RegionID,
	endpoints.SaEast1RegionID,
	endpoints.CnNorthwest1RegionID,
}

// Catalog is a read-only set of region codes resolvable
// to service endpoints.
type Catalog struct {
	codes    []string
	index    map[string]bool
	resolver endpoints.Resolver
}

// New creates new Catalog of codes. If resolver is
// nil, endpoints.DefaultResolver is used.
func New(codes []string, resolver endpoints.Resolver) *Catalog {
	if resolver == nil {
		resolver = endpoints.DefaultResolver()
	}

	c := &Catalog{
		codes:    make([]string, len(codes)),
		index:    make(map[string]bool, len(codes)),
		resolver: resolver,
	}

	copy(c.codes, codes)

	for _, code := range codes {
		c.index[code] = true
	}

	return c
}

// Default returns the catalog of DefaultRegions.
func Default() *Catalog {
	return New(DefaultRegions, nil)
}

// IsValidRegion indicates if code is part of the catalog.
func (c *Catalog) IsValidRegion(code string) bool {
	return c.index[code]
}

// AvailableRegions returns region codes in catalog order.
func (c *Catalog) AvailableRegions() []string {
	res := make([]string, len(c.codes))
	copy(res, c.codes)
	return res
}

// Endpoint returns the CloudFormation endpoint of region.
// Panics if code is not valid, callers are expected to
// check the region with IsValidRegion first.
func (c *Catalog) Endpoint(code string) endpoints.ResolvedEndpoint {
	return c.ServiceEndpoint("cloudformation", code)
}

// ServiceEndpoint returns the endpoint of service in region.
// Panics if code is not valid.
func (c *Catalog) ServiceEndpoint(service, code string) endpoints.ResolvedEndpoint {
	ep, err := c.EndpointFor(service, code)
	if err != nil {
		panic(err.Error())
	}
	return ep
}

// EndpointFor implements endpoints.Resolver, so AWS sessions
// only reach regions of the catalog.
func (c *Catalog) EndpointFor(service, code string, opts ...func(*endpoints.Options)) (endpoints.ResolvedEndpoint, error) {
	if !c.IsValidRegion(code) {
		return endpoints.ResolvedEndpoint{}, fmt.Errorf("region %q is not supported", code)
	}

	ep, err := c.resolver.EndpointFor(service, code, opts...)
	if err != nil {
		return ep, fmt.Errorf("cannot resolve %s endpoint of %s: %s", service, code, err)
	}

	return ep, nil
}

// Partition returns the partition id of region, for example "aws-cn".
// Panics if code is not valid.
func (c *Catalog) Partition(code string) string {
	return c.Endpoint(code).PartitionID
}
