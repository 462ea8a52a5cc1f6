package main

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	containerpb "cloud.google.com/go/container/apiv1/containerpb"
	"github.com/costinm/gkekube"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const cliToken = "ya29.cli-token"

// tokenServer is the OAuth2 token endpoint the key file points to.
func tokenServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil || r.Form.Get("assertion") == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"` + cliToken + `","token_type":"Bearer","expires_in":3600}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

// keyFile writes a service account key with a real RSA key, using tokenURL.
func keyFile(t *testing.T, tokenURL string) string {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatal(err)
	}
	data, err := json.Marshal(map[string]string{
		"type":           "service_account",
		"project_id":     "myproj",
		"private_key_id": "k1",
		"private_key":    string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})),
		"client_email":   "kubeconfig@myproj.iam.gserviceaccount.com",
		"client_id":      "123",
		"token_uri":      tokenURL,
	})
	if err != nil {
		t.Fatal(err)
	}
	p := filepath.Join(t.TempDir(), "key.json")
	if err := os.WriteFile(p, data, 0600); err != nil {
		t.Fatal(err)
	}
	return p
}

// clusterManager serves a single cluster over plaintext gRPC.
type clusterManager struct {
	containerpb.UnimplementedClusterManagerServer

	cluster *containerpb.Cluster

	mu   sync.Mutex
	auth []string
}

func (f *clusterManager) GetCluster(ctx context.Context, req *containerpb.GetClusterRequest) (*containerpb.Cluster, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		f.auth = append(f.auth, md.Get("authorization")...)
	}
	if req.GetName() != "projects/myproj/locations/us-central1-a/clusters/demo" {
		return nil, status.Errorf(codes.NotFound, "cluster %s not found", req.GetName())
	}
	return f.cluster, nil
}

func startClusterManager(t *testing.T, endpoint, caPEM string) (*clusterManager, string) {
	t.Helper()
	fake := &clusterManager{cluster: &containerpb.Cluster{
		Name:       "demo",
		Location:   "us-central1-a",
		Endpoint:   endpoint,
		MasterAuth: &containerpb.MasterAuth{ClusterCaCertificate: base64.StdEncoding.EncodeToString([]byte(caPEM))},
	}}
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	srv := grpc.NewServer()
	containerpb.RegisterClusterManagerServer(srv, fake)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)
	return fake, lis.Addr().String()
}

// apiServer is the cluster API server used by --verify.
func apiServer(t *testing.T, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if status != http.StatusOK || r.Header.Get("Authorization") != "Bearer "+cliToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"major":"1","minor":"30","gitVersion":"v1.30.1-gke.1"}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func serverCA(srv *httptest.Server) string {
	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: srv.Certificate().Raw}))
}

func TestGenerate(t *testing.T) {
	key := keyFile(t, tokenServer(t).URL)

	t.Run("stdout", func(t *testing.T) {
		fake, addr := startClusterManager(t, "1.2.3.4", "-----BEGIN CERTIFICATE-----\nfake\n-----END CERTIFICATE-----\n")
		stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
		code := run([]string{"demo", "us-central1-a", key, "--endpoint", addr, "--insecure", "--timeout", "10s"}, stdout, stderr)
		if code != 0 {
			t.Fatalf("exit %d, stderr:\n%s", code, stderr.String())
		}

		kc, err := gkekube.LoadKubeConfig(stdout.Bytes())
		if err != nil {
			t.Fatal(err)
		}
		want := "gke_myproj_us-central1-a_demo"
		if kc.CurrentContext != want {
			t.Errorf("current-context %s", kc.CurrentContext)
		}
		if c := kc.Clusters[want]; c == nil || c.Server != "https://1.2.3.4" {
			t.Errorf("cluster %v", c)
		}
		if u := kc.AuthInfos[want]; u == nil || u.AuthProvider.Config["access-token"] != cliToken {
			t.Errorf("user %v", u)
		}

		fake.mu.Lock()
		defer fake.mu.Unlock()
		if len(fake.auth) != 1 || fake.auth[0] != "Bearer "+cliToken {
			t.Errorf("API call authorization %v", fake.auth)
		}
	})

	t.Run("verify", func(t *testing.T) {
		api := apiServer(t, http.StatusOK)
		_, addr := startClusterManager(t, strings.TrimPrefix(api.URL, "https://"), serverCA(api))
		stdout := &bytes.Buffer{}
		code := run([]string{"demo", "us-central1-a", key, "--endpoint", addr, "--insecure", "--verify", "--timeout", "10s"}, stdout, io.Discard)
		if code != 0 {
			t.Fatalf("exit %d", code)
		}
		if !strings.Contains(stdout.String(), "current-context: gke_myproj_us-central1-a_demo") {
			t.Errorf("unexpected output\n%s", stdout.String())
		}
	})

	t.Run("verify-unauthorized", func(t *testing.T) {
		api := apiServer(t, http.StatusUnauthorized)
		_, addr := startClusterManager(t, strings.TrimPrefix(api.URL, "https://"), serverCA(api))

		cmd := newRootCmd(generate)
		stdout := &bytes.Buffer{}
		cmd.SetArgs([]string{"demo", "us-central1-a", key, "--endpoint", addr, "--insecure", "--verify", "--timeout", "10s"})
		cmd.SetOut(stdout)
		cmd.SetErr(io.Discard)
		err := cmd.ExecuteContext(context.Background())
		if !errors.Is(err, gkekube.ErrAPI) {
			t.Errorf("expected api error, got %v", err)
		}
		if stdout.Len() != 0 {
			t.Errorf("nothing should be printed when verify fails, got\n%s", stdout.String())
		}
	})
}
