package bastion_test

import (
	"context"
	"fmt"
	"maps"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/aussiebroadwan/bastion/pkg/authsdk"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/network"
	"github.com/testcontainers/testcontainers-go/wait"
)

/*
 * Container setup and shared assertions for the bastion end-to-end tests.
 * The image is built once in TestMain and every test gets a fresh container.
 */

const (
	testImageName = "bastion-test:latest"

	bootstrapToken = "test-bootstrap-token-12345"
	adminUsername  = "admin"
	adminPassword  = "Admin123!"
	clientID       = "e2e-client"
	redirectURI    = "http://localhost/callback"
)

var clientScopes = []string{"read", "write"}

// TestMain builds the Docker image once before all tests and removes it
// after they complete.
func TestMain(m *testing.M) {
	fmt.Fprintf(os.Stdout, "Building bastion Docker image...")

	if err := buildDockerImage(); err != nil {
		fmt.Fprintf(os.Stderr, "\nFailed to build Docker image: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stdout, " done\n")

	exitCode := m.Run()

	fmt.Fprintf(os.Stdout, "Cleaning up bastion Docker image...")
	cleanupDockerImage()
	fmt.Fprintf(os.Stdout, " done\n")

	os.Exit(exitCode)
}

func buildDockerImage() error {
	cmd := exec.CommandContext(context.Background(), "docker", "build",
		"-t", testImageName,
		"-f", "../../../cmd/bastion/Dockerfile",
		"../../../")
	cmd.Stdout = os.Stdout
	return cmd.Run()
}

func cleanupDockerImage() {
	cmd := exec.CommandContext(context.Background(), "docker", "rmi", "-f", testImageName)
	_ = cmd.Run() // the image might not exist
}

// baseEnv is the container environment shared by all tests. Rate limits are
// raised since tests fire many requests from one address.
func baseEnv() map[string]string {
	return map[string]string{
		"BOOTSTRAP_TOKEN":             bootstrapToken,
		"BASTION_STORE_DRIVER":        "sqlite",
		"BASTION_DATABASE_FILE":       "/data/bastion.db",
		"BASTION_PEPPER_FILE":         "/data/pepper",
		"ENV":                         "test",
		"LOG_LEVEL":                   "info",
		"LOG_FORMAT":                  "json",
		"RATELIMIT_STRICT_REQUESTS":   "1000",
		"RATELIMIT_STRICT_BURST":      "1000",
		"RATELIMIT_MODERATE_REQUESTS": "1000",
		"RATELIMIT_MODERATE_BURST":    "1000",
	}
}

// startOptions tweaks a single container start.
type startOptions struct {
	env      map[string]string
	networks []string
}

// setupBastion starts bastion with the default environment and returns an
// SDK client pointed at it.
func setupBastion(t *testing.T) *authsdk.SDKClient {
	t.Helper()
	return setupBastionWith(t, startOptions{})
}

// setupBastionWith starts bastion with extra environment variables and
// networks. The container is terminated when the test ends.
func setupBastionWith(t *testing.T, opts startOptions) *authsdk.SDKClient {
	t.Helper()
	ctx := context.Background()

	env := baseEnv()
	maps.Copy(env, opts.env)

	req := testcontainers.ContainerRequest{
		Image:        testImageName,
		ExposedPorts: []string{"8080/tcp"},
		Env:          env,
		Networks:     opts.networks,
		WaitingFor: wait.ForHTTP("/livez").
			WithPort("8080/tcp").
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	mappedPort, err := container.MappedPort(ctx, "8080")
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)

	return authsdk.NewSDKClient(fmt.Sprintf("http://%s:%s", host, mappedPort.Port()))
}

// setupRedis starts redis on a fresh network and returns the network name
// and the address bastion should use to reach it.
func setupRedis(t *testing.T) (networkName, addr string) {
	t.Helper()
	ctx := context.Background()

	nw, err := network.New(ctx)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := nw.Remove(ctx); err != nil {
			t.Logf("failed to remove network: %v", err)
		}
	})

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:          "redis:7-alpine",
			ExposedPorts:   []string{"6379/tcp"},
			Networks:       []string{nw.Name},
			NetworkAliases: map[string][]string{nw.Name: {"redis"}},
			WaitingFor:     wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate redis: %v", err)
		}
	})

	return nw.Name, "redis:6379"
}

// bootstrapService creates the admin user and the first client. The client
// may use every grant bootstrap hands out, including authorization_code.
func bootstrapService(t *testing.T, client *authsdk.SDKClient) *authsdk.BootstrapResponse {
	t.Helper()

	resp, err := client.Bootstrap(t.Context(), bootstrapToken, authsdk.BootstrapRequest{
		AdminUsername: adminUsername,
		AdminPassword: adminPassword,
		ClientID:      clientID,
		ClientScopes:  clientScopes,
		RedirectURIs:  []string{redirectURI},
	})
	require.NoError(t, err, "Bootstrap should succeed")
	require.Equal(t, clientID, resp.ClientID)
	require.NotEmpty(t, resp.ClientSecret, "Client secret should not be empty")
	require.NotEmpty(t, resp.AdminUserID, "Admin user ID should not be empty")

	return resp
}

// authorizeCode runs the browser half of the authorization code flow:
// sign in, hit the authorize endpoint and read the code off the callback.
func authorizeCode(t *testing.T, client *authsdk.SDKClient, req authsdk.AuthorizeRequest) string {
	t.Helper()

	browser := client.WithCookieJar()
	_, err := browser.Signin(t.Context(), adminUsername, adminPassword, "")
	require.NoError(t, err)

	location, err := browser.Authorize(t.Context(), req)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(location, req.RedirectURI), "should redirect to the client, got %s", location)

	code, state, err := authsdk.ParseAuthorizationCallback(location)
	require.NoError(t, err)
	require.Equal(t, req.State, state)
	return code
}

// assertTokenResponse verifies a token response carries the fields every
// grant returns.
func assertTokenResponse(t *testing.T, resp *authsdk.TokenResponse) {
	t.Helper()
	require.NotNil(t, resp)
	require.NotEmpty(t, resp.AccessToken, "Access token should not be empty")
	require.Equal(t, authsdk.TokenType, resp.TokenType)
	require.Positive(t, resp.ExpiresIn)
	require.NotEmpty(t, resp.Scope, "Scope should not be empty")
}

// assertOAuth2Error checks that err is an OAuth2 error with the given code.
func assertOAuth2Error(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	var oerr *authsdk.OAuth2Error
	require.ErrorAs(t, err, &oerr, "expected an OAuth2 error, got: %v", err)
	require.Equal(t, code, oerr.Code)
}

// assertStatus checks that err reports the given HTTP status.
func assertStatus(t *testing.T, err error, status int) {
	t.Helper()
	require.Error(t, err)
	var oerr *authsdk.OAuth2Error
	require.ErrorAs(t, err, &oerr, "expected an HTTP error, got: %v", err)
	require.Equal(t, status, oerr.StatusCode, "unexpected error: %v", err)
}
