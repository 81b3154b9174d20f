// Copyright (c) 2019 Uber Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package ec2spot provisions cluster nodes as EC2 spot instances.
package ec2spot

import (
	"context"
	"encoding/base64"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/aws/aws-sdk-go/service/ec2/ec2iface"
	"github.com/hashicorp/go-multierror"
	"github.com/pborman/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.uber.org/yarpc/yarpcerrors"
	"golang.org/x/time/rate"

	"github.com/lexentbio/StarCluster/pkg/provisioner"
)

// _requestNotFound is returned for requests created an instant ago.
const _requestNotFound = "InvalidSpotInstanceRequestID.NotFound"

// Provisioner requests EC2 spot instances for one cluster. Instances and
// requests of the cluster are found by tag.
type Provisioner struct {
	cfg     *Config
	ec2     ec2iface.EC2API
	limiter *rate.Limiter
}

// New returns a Provisioner using the default AWS credentials chain.
func New(cfg Config) (*Provisioner, error) {
	if cfg.Region == "" {
		return nil, errors.New("aws region is required")
	}
	sess, err := session.NewSession(&aws.Config{Region: aws.String(cfg.Region)})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create aws session")
	}
	return NewWithClient(cfg, ec2.New(sess))
}

// NewWithClient returns a Provisioner calling client.
func NewWithClient(cfg Config, client ec2iface.EC2API) (*Provisioner, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &Provisioner{
		cfg:     &cfg,
		ec2:     client,
		limiter: cfg.limiter(),
	}, nil
}

var _ provisioner.Provisioner = (*Provisioner)(nil)

func (p *Provisioner) wait(ctx context.Context) error {
	return errors.Wrap(p.limiter.Wait(ctx), "ec2 rate limit")
}

func (p *Provisioner) clusterFilter() *ec2.Filter {
	return &ec2.Filter{
		Name:   aws.String("tag:" + _clusterTag),
		Values: aws.StringSlice([]string{p.cfg.Cluster}),
	}
}

// RequestInstances requests count one-time spot instances of a type. Each
// instance has its own spot request, the handle joins their ids. The
// request token of ctx is the EC2 client token.
func (p *Provisioner) RequestInstances(
	ctx context.Context,
	instanceType string,
	count int,
) (provisioner.Handle, error) {
	if err := p.wait(ctx); err != nil {
		return "", err
	}

	token, ok := provisioner.RequestToken(ctx)
	if !ok {
		token = uuid.New()
	}
	spec := &ec2.RequestSpotLaunchSpecification{
		InstanceType: aws.String(instanceType),
	}
	if p.cfg.ImageID != "" {
		spec.ImageId = aws.String(p.cfg.ImageID)
	}
	if p.cfg.KeyName != "" {
		spec.KeyName = aws.String(p.cfg.KeyName)
	}
	if len(p.cfg.SecurityGroupIDs) > 0 {
		spec.SecurityGroupIds = aws.StringSlice(p.cfg.SecurityGroupIDs)
	}
	if p.cfg.SubnetID != "" {
		spec.SubnetId = aws.String(p.cfg.SubnetID)
	}
	if p.cfg.Zone != "" {
		spec.Placement = &ec2.SpotPlacement{AvailabilityZone: aws.String(p.cfg.Zone)}
	}
	if p.cfg.IAMInstanceProfile != "" {
		spec.IamInstanceProfile = &ec2.IamInstanceProfileSpecification{
			Name: aws.String(p.cfg.IAMInstanceProfile),
		}
	}
	if p.cfg.UserData != "" {
		spec.UserData = aws.String(base64.StdEncoding.EncodeToString([]byte(p.cfg.UserData)))
	}

	input := &ec2.RequestSpotInstancesInput{
		ClientToken:         aws.String(token),
		InstanceCount:       aws.Int64(int64(count)),
		Type:                aws.String(ec2.SpotInstanceTypeOneTime),
		LaunchSpecification: spec,
		TagSpecifications: []*ec2.TagSpecification{{
			ResourceType: aws.String(ec2.ResourceTypeSpotInstancesRequest),
			Tags: []*ec2.Tag{
				{Key: aws.String(_clusterTag), Value: aws.String(p.cfg.Cluster)},
				{Key: aws.String(_requestTag), Value: aws.String(token)},
			},
		}},
	}
	if p.cfg.MaxPrice != "" {
		input.SpotPrice = aws.String(p.cfg.MaxPrice)
	}

	out, err := p.ec2.RequestSpotInstancesWithContext(ctx, input)
	if err != nil {
		return "", errors.Wrapf(err, "failed to request %d %s", count, instanceType)
	}

	ids := make([]string, 0, len(out.SpotInstanceRequests))
	for _, r := range out.SpotInstanceRequests {
		ids = append(ids, aws.StringValue(r.SpotInstanceRequestId))
	}
	if len(ids) == 0 {
		return "", errors.Errorf("no spot request created for %d %s", count, instanceType)
	}
	sort.Strings(ids)

	h := provisioner.NewHandle(ids...)
	log.WithFields(log.Fields{
		"request":       h,
		"instance_type": instanceType,
		"count":         count,
		"token":         token,
	}).Info("spot instances requested")
	return h, nil
}

// RequestStatus aggregates the state of the spot requests of a handle:
// pending while any is open, fulfilled once any launched an instance,
// failed otherwise. Launched instances are tagged for the cluster.
func (p *Provisioner) RequestStatus(ctx context.Context, h provisioner.Handle) (provisioner.Status, error) {
	if err := p.wait(ctx); err != nil {
		return 0, err
	}

	out, err := p.ec2.DescribeSpotInstanceRequestsWithContext(ctx, &ec2.DescribeSpotInstanceRequestsInput{
		SpotInstanceRequestIds: aws.StringSlice(h.IDs()),
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok && aerr.Code() == _requestNotFound {
			return provisioner.StatusPending, nil
		}
		return 0, errors.Wrapf(err, "failed to describe request %s", h)
	}

	status, instances := requestStatus(out.SpotInstanceRequests)
	if status == provisioner.StatusFulfilled {
		known, err := p.describeNodes(ctx, p.clusterFilter())
		if err != nil {
			return 0, err
		}
		if _, err := p.tagInstances(ctx, instances, known); err != nil {
			return 0, err
		}
	}
	return status, nil
}

func requestStatus(requests []*ec2.SpotInstanceRequest) (provisioner.Status, []string) {
	var open, launched bool
	var instances []string
	for _, r := range requests {
		if id := aws.StringValue(r.InstanceId); id != "" {
			launched = true
			instances = append(instances, id)
			continue
		}
		if aws.StringValue(r.State) == ec2.SpotInstanceStateOpen {
			open = true
		}
	}
	switch {
	case open:
		return provisioner.StatusPending, instances
	case launched:
		return provisioner.StatusFulfilled, instances
	}
	return provisioner.StatusFailed, nil
}

// tagInstances tags new instances with the cluster and the first aliases
// not used by known nodes. Instances among known keep their alias. It
// returns the aliases of the instances it tagged.
func (p *Provisioner) tagInstances(
	ctx context.Context,
	ids []string,
	known []provisioner.Node,
) (map[string]string, error) {
	used := make(map[string]bool, len(known))
	tagged := make(map[string]bool, len(known))
	for _, n := range known {
		used[n.Alias] = true
		tagged[n.ID] = true
	}

	aliases := make(map[string]string)
	var result *multierror.Error
	next := 1
	for _, id := range ids {
		if tagged[id] {
			continue
		}
		alias := fmt.Sprintf(_aliasFormat, next)
		for used[alias] {
			next++
			alias = fmt.Sprintf(_aliasFormat, next)
		}
		used[alias] = true

		if err := p.wait(ctx); err != nil {
			return aliases, err
		}
		_, err := p.ec2.CreateTagsWithContext(ctx, &ec2.CreateTagsInput{
			Resources: aws.StringSlice([]string{id}),
			Tags: []*ec2.Tag{
				{Key: aws.String(_clusterTag), Value: aws.String(p.cfg.Cluster)},
				{Key: aws.String(_roleTag), Value: aws.String(_roleNode)},
				{Key: aws.String(_aliasTag), Value: aws.String(alias)},
				{Key: aws.String("Name"), Value: aws.String(alias)},
			},
		})
		if err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "failed to tag %s", id))
			continue
		}
		aliases[id] = alias
		log.WithFields(log.Fields{
			"instance": id,
			"alias":    alias,
		}).Info("tagged new node")
	}
	return aliases, result.ErrorOrNil()
}

// Cancel cancels the spot requests of a handle.
func (p *Provisioner) Cancel(ctx context.Context, h provisioner.Handle) error {
	if err := p.wait(ctx); err != nil {
		return err
	}
	_, err := p.ec2.CancelSpotInstanceRequestsWithContext(ctx, &ec2.CancelSpotInstanceRequestsInput{
		SpotInstanceRequestIds: aws.StringSlice(h.IDs()),
	})
	return errors.Wrapf(err, "failed to cancel request %s", h)
}

// Terminate terminates instances. Instances not reported as terminating
// are returned as errors.
func (p *Provisioner) Terminate(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := p.wait(ctx); err != nil {
		return err
	}
	out, err := p.ec2.TerminateInstancesWithContext(ctx, &ec2.TerminateInstancesInput{
		InstanceIds: aws.StringSlice(ids),
	})
	if err != nil {
		return errors.Wrap(err, "failed to terminate instances")
	}

	terminating := make(map[string]bool, len(out.TerminatingInstances))
	for _, s := range out.TerminatingInstances {
		terminating[aws.StringValue(s.InstanceId)] = true
	}
	var result *multierror.Error
	for _, id := range ids {
		if !terminating[id] {
			result = multierror.Append(result, errors.Errorf("instance %s is not terminating", id))
		}
	}
	return result.ErrorOrNil()
}

// SpotPrice returns the most recent spot price of a type in a zone.
func (p *Provisioner) SpotPrice(ctx context.Context, instanceType string, zone string) (float64, error) {
	if err := p.wait(ctx); err != nil {
		return 0, err
	}
	input := &ec2.DescribeSpotPriceHistoryInput{
		InstanceTypes:       aws.StringSlice([]string{instanceType}),
		ProductDescriptions: aws.StringSlice([]string{p.cfg.ProductDescription}),
		StartTime:           aws.Time(time.Now()),
	}
	if zone != "" {
		input.AvailabilityZone = aws.String(zone)
	}
	out, err := p.ec2.DescribeSpotPriceHistoryWithContext(ctx, input)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to get spot price history of %s", instanceType)
	}

	var latest *ec2.SpotPrice
	for _, sp := range out.SpotPriceHistory {
		if latest == nil || aws.TimeValue(sp.Timestamp).After(aws.TimeValue(latest.Timestamp)) {
			latest = sp
		}
	}
	if latest == nil {
		return 0, yarpcerrors.NotFoundErrorf("no spot price for %s in %s", instanceType, zone)
	}
	price, err := strconv.ParseFloat(aws.StringValue(latest.SpotPrice), 64)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid spot price of %s", instanceType)
	}
	return price, nil
}

// RunningNodes returns the running instances of the cluster by launch
// time. Instances launched by a spot request of the cluster but never
// tagged, such as those of a request fulfilled while it was cancelled,
// are tagged and returned as well.
func (p *Provisioner) RunningNodes(ctx context.Context) ([]provisioner.Node, error) {
	nodes, err := p.describeNodes(ctx, p.clusterFilter())
	if err != nil {
		return nil, err
	}
	late, err := p.untaggedNodes(ctx, nodes)
	if err != nil {
		return nil, err
	}
	nodes = append(nodes, late...)

	sort.SliceStable(nodes, func(i, j int) bool {
		if !nodes[i].LaunchTime.Equal(nodes[j].LaunchTime) {
			return nodes[i].LaunchTime.Before(nodes[j].LaunchTime)
		}
		return nodes[i].ID < nodes[j].ID
	})
	return nodes, nil
}

// untaggedNodes returns the running instances of the cluster's spot
// requests which are not among known.
func (p *Provisioner) untaggedNodes(
	ctx context.Context,
	known []provisioner.Node,
) ([]provisioner.Node, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	out, err := p.ec2.DescribeSpotInstanceRequestsWithContext(ctx, &ec2.DescribeSpotInstanceRequestsInput{
		Filters: []*ec2.Filter{p.clusterFilter()},
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to describe cluster requests")
	}

	seen := make(map[string]bool, len(known))
	for _, n := range known {
		seen[n.ID] = true
	}
	var ids []string
	for _, r := range out.SpotInstanceRequests {
		if id := aws.StringValue(r.InstanceId); id != "" && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	sort.Strings(ids)

	nodes, err := p.describeNodes(ctx, &ec2.Filter{
		Name:   aws.String("instance-id"),
		Values: aws.StringSlice(ids),
	})
	if err != nil || len(nodes) == 0 {
		return nil, err
	}

	running := make([]string, 0, len(nodes))
	for _, n := range nodes {
		running = append(running, n.ID)
	}
	aliases, err := p.tagInstances(ctx, running, known)
	if err != nil {
		// untagged nodes are still returned, tagging is retried next time
		log.WithError(err).Warn("failed to tag late nodes")
	}
	for i := range nodes {
		nodes[i].Alias = aliases[nodes[i].ID]
		log.WithFields(log.Fields{
			"instance": nodes[i].ID,
			"alias":    nodes[i].Alias,
		}).Warn("found untagged node of the cluster")
	}
	return nodes, nil
}

// describeNodes returns the running instances matching filters.
func (p *Provisioner) describeNodes(ctx context.Context, filters ...*ec2.Filter) ([]provisioner.Node, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	input := &ec2.DescribeInstancesInput{
		Filters: append(filters, &ec2.Filter{
			Name:   aws.String("instance-state-name"),
			Values: aws.StringSlice([]string{ec2.InstanceStateNameRunning}),
		}),
	}

	var nodes []provisioner.Node
	err := p.ec2.DescribeInstancesPagesWithContext(ctx, input,
		func(out *ec2.DescribeInstancesOutput, last bool) bool {
			for _, r := range out.Reservations {
				for _, i := range r.Instances {
					nodes = append(nodes, toNode(i))
				}
			}
			return true
		})
	if err != nil {
		return nil, errors.Wrap(err, "failed to describe instances")
	}
	return nodes, nil
}

func toNode(i *ec2.Instance) provisioner.Node {
	tags := tagMap(i.Tags)
	return provisioner.Node{
		ID:           aws.StringValue(i.InstanceId),
		Alias:        tags[_aliasTag],
		Hostname:     aws.StringValue(i.PrivateDnsName),
		InstanceType: aws.StringValue(i.InstanceType),
		LaunchTime:   aws.TimeValue(i.LaunchTime).UTC(),
		Master:       tags[_roleTag] == _roleMaster,
	}
}

// LatestRequest returns the most recently created request of the
// cluster, grouping spot requests made by one call.
func (p *Provisioner) LatestRequest(ctx context.Context) (*provisioner.Request, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	out, err := p.ec2.DescribeSpotInstanceRequestsWithContext(ctx, &ec2.DescribeSpotInstanceRequestsInput{
		Filters: []*ec2.Filter{p.clusterFilter()},
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to describe cluster requests")
	}

	groups := make(map[string][]*ec2.SpotInstanceRequest)
	var latest string
	var latestTime time.Time
	for _, r := range out.SpotInstanceRequests {
		key := tagMap(r.Tags)[_requestTag]
		if key == "" {
			key = aws.StringValue(r.SpotInstanceRequestId)
		}
		groups[key] = append(groups[key], r)
		if created := aws.TimeValue(r.CreateTime); latest == "" || created.After(latestTime) {
			latest = key
			latestTime = created
		}
	}
	if latest == "" {
		return nil, nil
	}

	group := groups[latest]
	ids := make([]string, 0, len(group))
	for _, r := range group {
		ids = append(ids, aws.StringValue(r.SpotInstanceRequestId))
	}
	sort.Strings(ids)

	status, _ := requestStatus(group)
	var instanceType string
	if spec := group[0].LaunchSpecification; spec != nil {
		instanceType = aws.StringValue(spec.InstanceType)
	}
	return &provisioner.Request{
		Handle:       provisioner.NewHandle(ids...),
		InstanceType: instanceType,
		Status:       status,
		CreateTime:   latestTime.UTC(),
	}, nil
}

func tagMap(tags []*ec2.Tag) map[string]string {
	m := make(map[string]string, len(tags))
	for _, t := range tags {
		m[aws.StringValue(t.Key)] = aws.StringValue(t.Value)
	}
	return m
}
