package gkekube

import (
	"context"
	"log/slog"
	"strings"

	"golang.org/x/oauth2"
	utiljson "k8s.io/apimachinery/pkg/util/json"
	"k8s.io/apimachinery/pkg/version"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	clientcmdapi "k8s.io/client-go/tools/clientcmd/api"
	"k8s.io/client-go/transport"
)

// K8SCluster represents a single K8S cluster, created from a generated
// kube config.
type K8SCluster struct {
	// RestConfig is the main config for creating rest clients using generated libraries.
	// The URL can be extracted with rest.DefaultServerURLFor(RestConfig)
	RestConfig *rest.Config

	// The name is mangled - gke_PROJECT_LOCATION_NAME.
	Name string

	client *kubernetes.Clientset
}

// NewK8SCluster creates a cluster from the current context of kc.
//
// The 'gcp' auth-provider is no longer compiled into client-go - instead
// of registering a plugin the token source is set as a transport wrapper.
// If ts is nil the access token cached in the config is used as is.
func NewK8SCluster(kc *clientcmdapi.Config, ts oauth2.TokenSource) (*K8SCluster, error) {
	if kc == nil || kc.CurrentContext == "" {
		return nil, Errorf(ErrArguments, "kube config has no current context")
	}
	cc := clientcmd.NewNonInteractiveClientConfig(*kc, kc.CurrentContext, &clientcmd.ConfigOverrides{}, nil)
	restConfig, err := cc.ClientConfig()
	if err != nil {
		return nil, Wrapf(ErrArguments, err, "context %s", kc.CurrentContext)
	}

	if ap := restConfig.AuthProvider; ap != nil && ap.Name == AuthProviderName {
		if ts == nil {
			ts = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: ap.Config["access-token"]})
		}
		restConfig.AuthProvider = nil
		restConfig.AuthConfigPersister = nil
		restConfig.Wrap(transport.TokenSourceWrapTransport(ts))
	}

	return &K8SCluster{
		Name:       kc.CurrentContext,
		RestConfig: restConfig,
	}, nil
}

// GcpInfo returns project, location and cluster name from the mangled name.
// For names not using the gke_ convention the name is returned as cluster.
func (k *K8SCluster) GcpInfo() (string, string, string) {
	cf := k.Name
	if strings.HasPrefix(cf, "gke_") {
		parts := strings.SplitN(cf, "_", 4)
		if len(parts) == 4 {
			return parts[1], parts[2], parts[3]
		}
	}
	return "", "", cf
}

// Client returns a clientset for accessing the core objects.
func (k *K8SCluster) Client() (*kubernetes.Clientset, error) {
	if k.client == nil {
		c, err := kubernetes.NewForConfig(k.RestConfig)
		if err != nil {
			return nil, Wrap(ErrAPI, err, "creating K8S client")
		}
		k.client = c
	}
	return k.client, nil
}

// ServerVersion calls /version on the API server. Used to check that the
// endpoint, CA and token in the generated config work together.
func (k *K8SCluster) ServerVersion(ctx context.Context) (*version.Info, error) {
	c, err := k.Client()
	if err != nil {
		return nil, err
	}
	body, err := c.Discovery().RESTClient().Get().AbsPath("/version").Do(ctx).Raw()
	if err != nil {
		return nil, Wrapf(ErrAPI, err, "cluster %s /version", k.Name)
	}
	info := &version.Info{}
	if err := utiljson.Unmarshal(body, info); err != nil {
		return nil, Wrapf(ErrAPI, err, "cluster %s /version response", k.Name)
	}

	p, l, n := k.GcpInfo()
	slog.Debug("K8S cluster version", "project", p, "location", l, "cluster", n,
		"version", info.GitVersion, "platform", info.Platform)
	return info, nil
}
