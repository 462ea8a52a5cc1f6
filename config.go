package gkekube

import (
	"strings"
	"time"
)

// Config holds the invocation parameters. It is populated once from the
// command line and not changed afterwards.
type Config struct {
	// ClusterName is the name of the GKE cluster.
	ClusterName string

	// Zone (or region) the cluster is located in.
	Zone string

	// CredentialsFile is the path to a service account key file.
	CredentialsFile string

	// Debug lowers the log level and raises klog verbosity.
	Debug bool

	// Endpoint overrides the ClusterManager API endpoint (host:port).
	// Empty means the default container.googleapis.com.
	Endpoint string

	// Insecure dials Endpoint in plaintext, for emulators. The access token
	// is still sent.
	Insecure bool

	// Verify connects to the cluster using the generated config before
	// printing it.
	Verify bool

	// Timeout for the whole run, 0 for no limit.
	Timeout time.Duration
}

// Validate checks the required parameters. It does no I/O.
func (c *Config) Validate() error {
	if c == nil {
		return Errorf(ErrArguments, "missing config")
	}
	missing := []string{}
	if strings.TrimSpace(c.ClusterName) == "" {
		missing = append(missing, "cluster")
	}
	if strings.TrimSpace(c.Zone) == "" {
		missing = append(missing, "zone")
	}
	if strings.TrimSpace(c.CredentialsFile) == "" {
		missing = append(missing, "credentials_file")
	}
	if len(missing) > 0 {
		return Errorf(ErrArguments, "missing %s", strings.Join(missing, ", "))
	}
	if c.Insecure && c.Endpoint == "" {
		return Errorf(ErrArguments, "insecure requires an endpoint")
	}
	if c.Timeout < 0 {
		return Errorf(ErrArguments, "negative timeout %v", c.Timeout)
	}
	return nil
}

// Parent returns the GKE location path for the project and configured zone.
func (c *Config) Parent(projectID string) string {
	return "projects/" + projectID + "/locations/" + c.Zone
}
