package etcdmanager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xiaonanln/hubgate/util/logger"
	clientv3 "go.etcd.io/etcd/client/v3"
)

const DefaultPrefix = "/hubgate"

// ErrKeyNotFound is returned by Get when the key does not exist.
var ErrKeyNotFound = errors.New("key not found")

// EtcdManager manages the connection to etcd and scopes keys under a prefix
type EtcdManager struct {
	client    *clientv3.Client
	endpoints []string
	logger    *logger.Logger
	prefix    string
}

// NewEtcdManager creates a new etcd manager for the given endpoints.
// An empty prefix means DefaultPrefix. Keys passed to Put/Get/Watch are
// relative to the prefix, so several gateways can share one etcd.
func NewEtcdManager(endpoints []string, prefix string) (*EtcdManager, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("at least one etcd endpoint is required")
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}

	return &EtcdManager{
		endpoints: endpoints,
		logger:    logger.NewLogger("EtcdManager"),
		prefix:    prefix,
	}, nil
}

// Connect establishes a connection to etcd and checks it with a read.
func (mgr *EtcdManager) Connect(ctx context.Context) error {
	mgr.logger.Infof("Connecting to etcd at %v", mgr.endpoints)

	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   mgr.endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to etcd: %w", err)
	}

	checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if _, err := cli.Get(checkCtx, mgr.Key("connection-check")); err != nil {
		cli.Close()
		return fmt.Errorf("etcd connection test failed: %w", err)
	}

	mgr.client = cli
	mgr.logger.Infof("Connected to etcd at %v", mgr.endpoints)
	return nil
}

// Close closes the etcd connection
func (mgr *EtcdManager) Close() error {
	if mgr.client == nil {
		return nil
	}
	mgr.logger.Infof("Closing etcd connection")
	err := mgr.client.Close()
	mgr.client = nil
	return err
}

// GetPrefix returns the prefix used for all keys.
func (mgr *EtcdManager) GetPrefix() string {
	return mgr.prefix
}

// Key returns the absolute etcd key for a key relative to the prefix.
func (mgr *EtcdManager) Key(name string) string {
	return mgr.prefix + "/" + name
}

// Put stores a value under the prefixed key
func (mgr *EtcdManager) Put(ctx context.Context, name, value string) error {
	if mgr.client == nil {
		return fmt.Errorf("etcd client not connected")
	}

	key := mgr.Key(name)
	if _, err := mgr.client.Put(ctx, key, value); err != nil {
		return fmt.Errorf("failed to put key %s: %w", key, err)
	}
	mgr.logger.Debugf("Put key=%s, value=%s", key, value)
	return nil
}

// Get retrieves the value under the prefixed key. It returns ErrKeyNotFound
// when the key is absent.
func (mgr *EtcdManager) Get(ctx context.Context, name string) (string, error) {
	if mgr.client == nil {
		return "", fmt.Errorf("etcd client not connected")
	}

	key := mgr.Key(name)
	resp, err := mgr.client.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("failed to get key %s: %w", key, err)
	}
	if len(resp.Kvs) == 0 {
		return "", fmt.Errorf("%s: %w", key, ErrKeyNotFound)
	}
	return string(resp.Kvs[0].Value), nil
}

// Watch watches the prefixed key. The channel closes when ctx is cancelled or
// the watch is dropped by the server; callers are expected to re-watch.
func (mgr *EtcdManager) Watch(ctx context.Context, name string) (clientv3.WatchChan, error) {
	if mgr.client == nil {
		return nil, fmt.Errorf("etcd client not connected")
	}

	key := mgr.Key(name)
	mgr.logger.Infof("Watching key=%s", key)
	return mgr.client.Watch(ctx, key), nil
}
