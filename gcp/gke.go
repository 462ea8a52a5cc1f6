// Copyright 2021 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package gcp

import (
	"context"
	"log/slog"

	container "cloud.google.com/go/container/apiv1"
	containerpb "cloud.google.com/go/container/apiv1/containerpb"
	"github.com/costinm/gkekube"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	clientcmdapi "k8s.io/client-go/tools/clientcmd/api"
)

// ClusterGetter returns the cluster info for a named cluster under a
// location path (projects/PROJECT/locations/LOCATION).
type ClusterGetter interface {
	GetCluster(ctx context.Context, parent, clusterName string) (*gkekube.Cluster, error)
}

// ClusterManager wraps the GKE ClusterManager API.
type ClusterManager struct {
	client *container.ClusterManagerClient
}

// NewClusterManager creates the gRPC client. No call is made until
// GetCluster.
func NewClusterManager(ctx context.Context, opts ...option.ClientOption) (*ClusterManager, error) {
	cl, err := container.NewClusterManagerClient(ctx, opts...)
	if err != nil {
		return nil, gkekube.Wrap(gkekube.ErrAPI, err, "creating ClusterManager client")
	}
	return &ClusterManager{client: cl}, nil
}

// GetCluster gets a single cluster. Errors from the API - NotFound,
// PermissionDenied, Unavailable - are returned in the gkekube.ErrAPI
// category with the gRPC status preserved. No retries.
func (cm *ClusterManager) GetCluster(ctx context.Context, parent, clusterName string) (*gkekube.Cluster, error) {
	if clusterName == "" {
		return nil, gkekube.Errorf(gkekube.ErrArguments, "empty cluster name")
	}
	if parent == "" {
		return nil, gkekube.Errorf(gkekube.ErrArguments, "empty parent for cluster %s", clusterName)
	}

	name := parent + "/clusters/" + clusterName
	c, err := cm.client.GetCluster(ctx, &containerpb.GetClusterRequest{Name: name})
	if err != nil {
		slog.Debug("GetCluster failed", "name", name, "code", status.Code(err).String(), "err", err)
		return nil, gkekube.Wrapf(gkekube.ErrAPI, err, "get cluster %s", name)
	}
	return clusterFromProto(c), nil
}

// Close releases the connection.
func (cm *ClusterManager) Close() error {
	return cm.client.Close()
}

func clusterFromProto(c *containerpb.Cluster) *gkekube.Cluster {
	loc := c.GetLocation()
	if loc == "" {
		loc = c.GetZone() //nolint:staticcheck // older zonal responses only carry zone
	}
	return &gkekube.Cluster{
		Name:          c.GetName(),
		Location:      loc,
		Endpoint:      c.GetEndpoint(),
		CACertificate: c.GetMasterAuth().GetClusterCaCertificate(),
	}
}

// GKE generates kube configs for GKE clusters, authenticated with a service
// account key file.
type GKE struct {
	Config *gkekube.Config

	// Credentials are used for the API call and embedded in the kube config.
	Credentials *Credentials

	// Clusters is the ClusterManager by default. Can be replaced in tests.
	Clusters ClusterGetter

	closer func() error
}

// New loads the credentials and creates the ClusterManager client.
//
// Arguments are validated first, and credentials are loaded before any
// client is created - a bad key file never reaches the GKE API.
func New(ctx context.Context, cfg *gkekube.Config) (*GKE, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	creds, err := LoadCredentials(ctx, cfg.CredentialsFile)
	if err != nil {
		return nil, err
	}

	gke := &GKE{
		Config:      cfg,
		Credentials: creds,
	}

	cm, err := NewClusterManager(ctx, gke.options()...)
	if err != nil {
		return nil, err
	}
	gke.Clusters = cm
	gke.closer = cm.Close
	return gke, nil
}

func (gke *GKE) options() []option.ClientOption {
	if gke.Config.Insecure {
		// Plaintext emulator. Default auth would add TLS-only credentials,
		// the token goes through bearerCredentials instead.
		return []option.ClientOption{
			option.WithEndpoint(gke.Config.Endpoint),
			option.WithoutAuthentication(),
			option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
			option.WithGRPCDialOption(grpc.WithPerRPCCredentials(&bearerCredentials{creds: gke.Credentials})),
		}
	}
	opts := []option.ClientOption{
		option.WithTokenSource(gke.Credentials),
	}
	if gke.Config.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(gke.Config.Endpoint))
	}
	return opts
}

// ProjectID is the project of the service account.
func (gke *GKE) ProjectID() string {
	return gke.Credentials.ProjectID
}

// Parent returns projects/PROJECT/locations/ZONE.
func (gke *GKE) Parent() string {
	return gke.Config.Parent(gke.ProjectID())
}

// Cluster fetches the configured cluster. With the default ClusterManager
// this triggers a token refresh if needed.
func (gke *GKE) Cluster(ctx context.Context) (*gkekube.Cluster, error) {
	return gke.Clusters.GetCluster(ctx, gke.Parent(), gke.Config.ClusterName)
}

// KubeConfig fetches the cluster and builds the kube config.
//
// The context name uses the location and name returned by the API - not
// the zone argument.
func (gke *GKE) KubeConfig(ctx context.Context) (*clientcmdapi.Config, error) {
	c, err := gke.Cluster(ctx)
	if err != nil {
		return nil, err
	}
	if c.Location != gke.Config.Zone {
		slog.Debug("Cluster location differs from zone argument", "zone", gke.Config.Zone, "location", c.Location)
	}

	t, err := gke.Credentials.ValidToken(ctx)
	if err != nil {
		return nil, err
	}

	kc, err := gkekube.NewKubeConfig(gke.ProjectID(), c, &gkekube.Token{AccessToken: t.AccessToken, Expiry: t.Expiry})
	if err != nil {
		return nil, err
	}

	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.SetAttributes(
			attribute.String("gke.context", kc.CurrentContext),
			attribute.String("gke.endpoint", c.Endpoint),
			attribute.Int("gke.token_refreshes", gke.Credentials.Refreshes()))
	}
	slog.Info("Generated kube config", "context", kc.CurrentContext, "server", "https://"+c.Endpoint)
	return kc, nil
}

// Verify connects to the cluster using the generated config and the same
// credentials, and checks the API server responds.
func (gke *GKE) Verify(ctx context.Context, kc *clientcmdapi.Config) error {
	kcl, err := gkekube.NewK8SCluster(kc, gke.Credentials)
	if err != nil {
		return err
	}
	v, err := kcl.ServerVersion(ctx)
	if err != nil {
		return err
	}
	slog.Info("Verified cluster", "context", kcl.Name, "version", v.GitVersion)
	return nil
}

// Close releases the ClusterManager connection.
func (gke *GKE) Close() error {
	if gke.closer == nil {
		return nil
	}
	return gke.closer()
}
