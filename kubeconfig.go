package gkekube

import (
	"encoding/base64"
	"io"
	"time"

	"k8s.io/client-go/tools/clientcmd"
	clientcmdapi "k8s.io/client-go/tools/clientcmd/api"
)

// The generated kube config uses the legacy 'gcp' auth-provider, with the
// cached token and the gcloud config-helper as refresh command.
// Note: v1.26 removed the in-tree 'gcp' plugin - kubectl needs
// gke-gcloud-auth-plugin to refresh, but the cached token is usable until
// it expires:
//
//	users:
//	- name: gke_PROJECT_LOCATION_NAME
//	  user:
//	    auth-provider:
//	      name: gcp
//	      config:
//	        access-token: ...
//	        cmd-path: gcloud
//	        cmd-args: config config-helper --format=json
const (
	AuthProviderName = "gcp"

	gcloudCmdPath = "gcloud"
	gcloudCmdArgs = "config config-helper --format=json"
	expiryKey     = "{.credential.token_expiry}"
	tokenKey      = "{.credential.access_token}"
)

// Cluster is the subset of the GKE cluster returned by the API that is
// needed for a kube config.
type Cluster struct {
	Name     string
	Location string

	// Endpoint is the IP or host of the API server, without scheme.
	Endpoint string

	// CACertificate is the base64 encoded cluster CA, as returned by GKE.
	CACertificate string
}

// Token is the access token embedded in the generated config.
type Token struct {
	AccessToken string
	Expiry      time.Time
}

// ContextName returns the mangled name used for cluster, context and user:
// gke_PROJECT_LOCATION_NAME - same as gcloud.
func ContextName(projectID, location, name string) string {
	return "gke_" + projectID + "_" + location + "_" + name
}

// NewKubeConfig builds a kube config with a single cluster, context and user,
// all named ContextName(projectID, c.Location, c.Name).
//
// No I/O - the only variable parts are the token and its expiry.
func NewKubeConfig(projectID string, c *Cluster, t *Token) (*clientcmdapi.Config, error) {
	if c == nil || t == nil {
		return nil, Errorf(ErrAPI, "missing cluster or token")
	}
	if c.Endpoint == "" {
		return nil, Errorf(ErrAPI, "cluster %s has no endpoint", c.Name)
	}
	// GKE returns the CA base64 encoded, the api.Config holds the raw bytes
	// and the writer encodes them again.
	caCert, err := base64.StdEncoding.DecodeString(c.CACertificate)
	if err != nil {
		return nil, Wrapf(ErrAPI, err, "cluster %s CA certificate", c.Name)
	}

	ctxName := ContextName(projectID, c.Location, c.Name)

	kc := clientcmdapi.NewConfig()
	kc.Clusters[ctxName] = &clientcmdapi.Cluster{
		Server:                   "https://" + c.Endpoint,
		CertificateAuthorityData: caCert,
	}
	kc.Contexts[ctxName] = &clientcmdapi.Context{
		Cluster:  ctxName,
		AuthInfo: ctxName,
	}
	kc.AuthInfos[ctxName] = &clientcmdapi.AuthInfo{
		AuthProvider: &clientcmdapi.AuthProviderConfig{
			Name: AuthProviderName,
			Config: map[string]string{
				"access-token": t.AccessToken,
				"cmd-args":     gcloudCmdArgs,
				"cmd-path":     gcloudCmdPath,
				"expiry":       FormatExpiry(t.Expiry),
				"expiry-key":   expiryKey,
				"token-key":    tokenKey,
			},
		},
	}
	kc.CurrentContext = ctxName
	return kc, nil
}

// FormatExpiry formats a token expiry the way the gcp auth-provider caches
// it: RFC3339 with nanoseconds, in UTC, which is what client-go parses back
// from the 'expiry' key. Zero time (no expiry) is an empty string.
func FormatExpiry(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// WriteKubeConfig serializes the config as a v1 YAML document.
func WriteKubeConfig(w io.Writer, kc *clientcmdapi.Config) error {
	data, err := clientcmd.Write(*kc)
	if err != nil {
		return Wrap(ErrAPI, err, "serializing kube config")
	}
	_, err = w.Write(data)
	return err
}

// LoadKubeConfig parses a kube config document.
//
// This is the only dep to the kube.config format in the verify path - the
// rest of the code is based on rest.Config.
func LoadKubeConfig(data []byte) (*clientcmdapi.Config, error) {
	kc, err := clientcmd.Load(data)
	if err != nil {
		return nil, Wrap(ErrArguments, err, "parsing kube config")
	}
	return kc, nil
}
