package runtimecfg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/xiaonanln/hubgate/util/backoff"
	"github.com/xiaonanln/hubgate/util/etcdmanager"
	"github.com/xiaonanln/hubgate/util/logger"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// EtcdKey is the key, relative to the manager prefix, holding the config.
const EtcdKey = "runtime-config"

// EtcdBackend keeps the configuration in etcd so that several gateways, or
// an operator with etcdctl, can change it. Changes are picked up by Watch.
type EtcdBackend struct {
	mgr    *etcdmanager.EtcdManager
	logger *logger.Logger
}

// NewEtcdBackend connects to etcd and returns a backend using prefix.
func NewEtcdBackend(ctx context.Context, endpoints []string, prefix string) (*EtcdBackend, error) {
	mgr, err := etcdmanager.NewEtcdManager(endpoints, prefix)
	if err != nil {
		return nil, err
	}
	if err := mgr.Connect(ctx); err != nil {
		return nil, err
	}
	return &EtcdBackend{mgr: mgr, logger: logger.NewLogger("RuntimeConfigEtcd")}, nil
}

func (b *EtcdBackend) Name() string { return "etcd" }

func (b *EtcdBackend) Load(ctx context.Context) (Config, error) {
	value, err := b.mgr.Get(ctx, EtcdKey)
	if errors.Is(err, etcdmanager.ErrKeyNotFound) {
		return Config{}, ErrNotFound
	}
	if err != nil {
		return Config{}, err
	}
	return decodeStored([]byte(value))
}

func (b *EtcdBackend) Save(ctx context.Context, cfg Config) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode runtime config: %w", err)
	}
	return b.mgr.Put(ctx, EtcdKey, string(data))
}

// Watch follows the config key and calls fn for every valid PUT. A dropped
// watch is re-established with exponential backoff until ctx is done.
func (b *EtcdBackend) Watch(ctx context.Context, fn func(Config)) {
	retry := backoff.New(500*time.Millisecond, 30*time.Second, 2.0)
	for ctx.Err() == nil {
		watchCh, err := b.mgr.Watch(clientv3.WithRequireLeader(ctx), EtcdKey)
		if err != nil {
			b.logger.Errorf("Failed to watch runtime config: %v", err)
			return
		}

		for resp := range watchCh {
			if err := resp.Err(); err != nil {
				b.logger.Warnf("Runtime config watch error: %v", err)
				break
			}
			retry.Reset()
			for _, ev := range resp.Events {
				if ev.Type != clientv3.EventTypePut {
					continue
				}
				cfg, err := decodeStored(ev.Kv.Value)
				if err != nil {
					b.logger.Warnf("Ignoring invalid runtime config in etcd: %v", err)
					continue
				}
				fn(cfg)
			}
		}

		if ctx.Err() != nil {
			return
		}
		b.logger.Warnf("Runtime config watch closed, retrying in %v", retry.CurrentDelay())
		if err := retry.Wait(ctx); err != nil {
			return
		}
	}
}

func (b *EtcdBackend) Close() error {
	return b.mgr.Close()
}

func decodeStored(data []byte) (Config, error) {
	var doc fileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return Config{}, fmt.Errorf("failed to parse runtime config: %w", err)
	}
	return Default().merge(Partial(doc)), nil
}
