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

package common

const (
	// BalancerRole is the service name of the load balancer.
	BalancerRole = "starcluster-balancer"

	// AppLogField is the log field naming the service.
	AppLogField = "app"
	// ClusterLogField is the log field naming the cluster tag.
	ClusterLogField = "cluster"
	// ConfigLogField carries the loaded configuration.
	ConfigLogField = "config"

	// ClusterEnv is the environment variable holding the cluster tag.
	ClusterEnv = "CLUSTER"
)
