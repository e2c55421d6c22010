package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// DefaultEtcdAddress is where integration tests expect a local etcd.
const DefaultEtcdAddress = "localhost:2379"

// EtcdTestMutex ensures only one etcd integration test runs at a time across all packages.
var EtcdTestMutex sync.Mutex

// PrepareEtcdPrefix returns a key prefix unique to the running test and deletes
// everything under it when the test finishes. The test is skipped when etcd is
// not reachable at etcdAddress.
func PrepareEtcdPrefix(t *testing.T, etcdAddress string) string {
	t.Helper()

	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   []string{etcdAddress},
		DialTimeout: 2 * time.Second,
	})
	if err != nil {
		t.Skipf("Skipping test: etcd not available: %v", err)
		return ""
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := cli.Get(ctx, "hubgate-test-connection"); err != nil {
		cli.Close()
		t.Skipf("Skipping test: etcd not available: %v", err)
		return ""
	}

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	prefix := fmt.Sprintf("/hubgate-test/%s-%d", name, time.Now().UnixNano())

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := cli.Delete(ctx, prefix, clientv3.WithPrefix()); err != nil {
			t.Logf("Warning: failed to clean etcd prefix %s: %v", prefix, err)
		}
		cli.Close()
	})
	return prefix
}
